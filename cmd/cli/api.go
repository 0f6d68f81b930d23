package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/pkg/idempotency"
)

type cartLine struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
	Subtotal float64        `json:"subtotal"`
}

type cartView struct {
	Lines        []cartLine `json:"lines"`
	Total        float64    `json:"total"`
	TotalDisplay string     `json:"total_display"`
	ItemCount    int        `json:"item_count"`
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// api talks to cart-service.
type api struct {
	baseURL string
	http    *http.Client
}

func newAPI(baseURL string) *api {
	return &api{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

func (a *api) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		idempotency.Set(req, uuid.NewString())
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (a *api) Products(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	return out, a.do(ctx, http.MethodGet, "/products", nil, &out)
}

func (a *api) Cart(ctx context.Context) (cartView, error) {
	var out cartView
	return out, a.do(ctx, http.MethodGet, "/cart", nil, &out)
}

func (a *api) Add(ctx context.Context, id domain.ProductID, qty int) (cartView, error) {
	var out cartView
	return out, a.do(ctx, http.MethodPost, "/cart/items", map[string]any{"product_id": int64(id), "quantity": qty}, &out)
}

func (a *api) Update(ctx context.Context, id domain.ProductID, qty int) (cartView, error) {
	var out cartView
	return out, a.do(ctx, http.MethodPut, fmt.Sprintf("/cart/items/%d", id), map[string]any{"quantity": qty}, &out)
}

func (a *api) Remove(ctx context.Context, id domain.ProductID) (cartView, error) {
	var out cartView
	return out, a.do(ctx, http.MethodDelete, fmt.Sprintf("/cart/items/%d", id), nil, &out)
}

func (a *api) Clear(ctx context.Context) (cartView, error) {
	var out cartView
	return out, a.do(ctx, http.MethodDelete, "/cart", nil, &out)
}

func (a *api) Checkout(ctx context.Context, email string) (domain.OrderResult, error) {
	var out domain.OrderResult
	return out, a.do(ctx, http.MethodPost, "/checkout", map[string]any{"email": email}, &out)
}

func (a *api) Order(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var out domain.Order
	return out, a.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(string(id)), nil, &out)
}

func (a *api) Orders(ctx context.Context, email string) ([]domain.Order, error) {
	var out []domain.Order
	return out, a.do(ctx, http.MethodGet, "/orders?"+url.Values{"email": {email}}.Encode(), nil, &out)
}

// Notice returns false when nothing is pending.
func (a *api) Notice(ctx context.Context) (notice.Entry, bool, error) {
	var out notice.Entry
	if err := a.do(ctx, http.MethodGet, "/notice", nil, &out); err != nil {
		return notice.Entry{}, false, err
	}
	return out, out.Message != "", nil
}
