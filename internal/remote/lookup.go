package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

var ErrOrderNotFound = errors.New("order not found")

// orderRecord accepts numeric and string ids like createOrderResponse.
type orderRecord struct {
	ID        json.RawMessage    `json:"id"`
	Email     string             `json:"email"`
	Status    string             `json:"status"`
	Total     float64            `json:"total"`
	CreatedAt time.Time          `json:"date"`
	Items     []domain.OrderItem `json:"items"`
}

func (r orderRecord) order() domain.Order {
	return domain.Order{
		ID:        domain.OrderID(orderID(r.ID)),
		Email:     r.Email,
		Status:    domain.OrderStatus(r.Status),
		Total:     r.Total,
		CreatedAt: r.CreatedAt,
		Items:     r.Items,
	}
}

// Order calls GET /api/orders/{id}.
func (o *OrderClient) Order(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var rec orderRecord
	if err := o.c.getJSON(ctx, "/api/orders/"+url.PathEscape(string(id)), &rec); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return domain.Order{}, fmt.Errorf("fetch order %s: %w", id, err)
	}
	return rec.order(), nil
}

// OrdersByEmail calls GET /api/orders/email/{email}, newest first.
func (o *OrderClient) OrdersByEmail(ctx context.Context, email string) ([]domain.Order, error) {
	var recs []orderRecord
	if err := o.c.getJSON(ctx, "/api/orders/email/"+url.PathEscape(email), &recs); err != nil {
		return nil, fmt.Errorf("fetch orders for %s: %w", email, err)
	}
	out := make([]domain.Order, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.order())
	}
	return out, nil
}
