package domain

import (
	"strings"
	"time"
)

type OrderID string

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusRejected   OrderStatus = "REJECTED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type OrderItem struct {
	ProductID ProductID `json:"productId"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
}

// OrderRequest is an immutable snapshot taken at submission time; Total is
// not recomputed afterwards.
type OrderRequest struct {
	Email string
	Items []OrderItem
	Total float64
}

type OrderResult struct {
	OrderID OrderID     `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// Order is a placed order as reported by the order service.
type Order struct {
	ID        OrderID     `json:"id"`
	Email     string      `json:"email"`
	Status    OrderStatus `json:"status"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"date"`
	Items     []OrderItem `json:"items,omitempty"`
}

// NewOrderRequest builds a request from a cart snapshot. The cart must be
// non-empty and every line valid.
func NewOrderRequest(email string, lines []CartLine) (OrderRequest, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return OrderRequest{}, newError(KindValidation, "order", ErrInvalidEmail, email)
	}
	if len(lines) == 0 {
		return OrderRequest{}, newError(KindValidation, "order", ErrEmptyCart, "")
	}
	c := NewCart(lines)
	for _, l := range c.Lines() {
		if err := l.Product.Validate(); err != nil {
			return OrderRequest{}, err
		}
		if l.Quantity <= 0 {
			return OrderRequest{}, newError(KindValidation, "order", ErrInvalidQuantity, l.Product.Name)
		}
	}
	return OrderRequest{Email: email, Items: c.Items(), Total: c.Total()}, nil
}
