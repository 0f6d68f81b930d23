package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

type StockClient struct {
	c client
}

func NewStockClient(baseURL string, timeout time.Duration) *StockClient {
	return &StockClient{c: newClient(baseURL, timeout)}
}

type availability struct {
	Available bool `json:"available"`
}

// Available calls GET /api/stock/{id}?quantity=N.
func (s *StockClient) Available(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	q := url.Values{"quantity": {strconv.Itoa(quantity)}}
	var out availability
	if err := s.c.getJSON(ctx, fmt.Sprintf("/api/stock/%d?%s", id, q.Encode()), &out); err != nil {
		return false, fmt.Errorf("stock %d: %w", id, err)
	}
	return out.Available, nil
}

type stockItem struct {
	ProductID domain.ProductID `json:"product_id"`
	Quantity  int              `json:"quantity"`
}

// AvailableBatch calls POST /api/stock/check; the service answers the AND of
// the individual checks.
func (s *StockClient) AvailableBatch(ctx context.Context, items []domain.OrderItem) (bool, error) {
	body := struct {
		Items []stockItem `json:"items"`
	}{Items: make([]stockItem, 0, len(items))}
	for _, it := range items {
		body.Items = append(body.Items, stockItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	var out availability
	if err := s.c.postJSON(ctx, "/api/stock/check", body, &out, nil); err != nil {
		return false, fmt.Errorf("stock batch: %w", err)
	}
	return out.Available, nil
}
