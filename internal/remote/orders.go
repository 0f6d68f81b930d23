package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/pkg/idempotency"
)

var errMissingOrderID = errors.New("order service returned no order id")

type OrderClient struct {
	c client
}

func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	return &OrderClient{c: newClient(baseURL, timeout)}
}

type createOrderRequest struct {
	CustomerEmail string             `json:"customerEmail"`
	Items         []domain.OrderItem `json:"items"`
	TotalAmount   float64            `json:"totalAmount"`
}

type createOrderResponse struct {
	ID     json.RawMessage `json:"id"`
	Status string          `json:"status"`
}

// CreateOrder calls POST /api/orders.
func (o *OrderClient) CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.OrderResult, error) {
	body := createOrderRequest{CustomerEmail: req.Email, Items: req.Items, TotalAmount: req.Total}
	var out createOrderResponse
	err := o.c.postJSON(ctx, "/api/orders", body, &out, func(r *http.Request) {
		idempotency.Set(r, idempotencyKey)
	})
	if err != nil {
		return domain.OrderResult{}, domain.TransportError("create_order", err)
	}

	id := orderID(out.ID)
	if id == "" {
		return domain.OrderResult{}, domain.TransportError("create_order", errMissingOrderID)
	}
	status := domain.OrderStatus(out.Status)
	if status == "" {
		status = domain.OrderStatusPending
	}
	return domain.OrderResult{OrderID: domain.OrderID(id), Status: status}, nil
}

// orderID accepts numeric and string identifiers.
func orderID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
