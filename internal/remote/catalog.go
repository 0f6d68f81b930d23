package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

var ErrProductNotFound = errors.New("product not found")

type CatalogClient struct {
	c client
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{c: newClient(baseURL, timeout)}
}

func (c *CatalogClient) Product(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	var p domain.Product
	if err := c.c.getJSON(ctx, fmt.Sprintf("/api/products/%d", id), &p); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return domain.Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		return domain.Product{}, fmt.Errorf("fetch product %d: %w", id, err)
	}
	return p, nil
}

func (c *CatalogClient) Products(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := c.c.getJSON(ctx, "/api/products", &out); err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	return out, nil
}
