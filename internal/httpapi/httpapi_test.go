package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/cart-lab-go/internal/cart/checkout"
	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/cart/stock"
	"github.com/nazeru/cart-lab-go/internal/cart/store"
	"github.com/nazeru/cart-lab-go/internal/httpapi"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/internal/remote"
	"github.com/nazeru/cart-lab-go/pkg/kv"
)

type catalog map[domain.ProductID]domain.Product

func (c catalog) Product(_ context.Context, id domain.ProductID) (domain.Product, error) {
	p, ok := c[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %d", remote.ErrProductNotFound, id)
	}
	return p, nil
}

func (c catalog) Products(context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(c))
	for id := domain.ProductID(1); int(id) <= len(c); id++ {
		out = append(out, c[id])
	}
	return out, nil
}

type orders struct {
	err error
}

func (o orders) CreateOrder(context.Context, domain.OrderRequest, string) (domain.OrderResult, error) {
	if o.err != nil {
		return domain.OrderResult{}, o.err
	}
	return domain.OrderResult{OrderID: "ord-7", Status: domain.OrderStatusPending}, nil
}

type lookup struct{}

func (lookup) Order(_ context.Context, id domain.OrderID) (domain.Order, error) {
	if id != "ord-7" {
		return domain.Order{}, fmt.Errorf("%w: %s", remote.ErrOrderNotFound, id)
	}
	return domain.Order{ID: id, Email: "a@b.com", Status: domain.OrderStatusConfirmed, Total: 21}, nil
}

func (lookup) OrdersByEmail(_ context.Context, email string) ([]domain.Order, error) {
	if email != "a@b.com" {
		return []domain.Order{}, nil
	}
	return []domain.Order{{ID: "ord-7", Email: email, Status: domain.OrderStatusConfirmed, Total: 21}}, nil
}

type env struct {
	srv    *httptest.Server
	cart   *store.Store
	signal *notice.Signal
}

func newEnv(t *testing.T, ord orders) *env {
	t.Helper()
	v := stock.NewValidator(stock.QuerierFunc(func(_ context.Context, _ domain.ProductID, qty int) (bool, error) {
		return qty <= 5, nil
	}), nil)
	signal := notice.New(time.Hour)
	cart := store.New(context.Background(), store.Deps{KV: kv.NewMemory(), Stock: v, Notify: signal})
	orch := checkout.New(checkout.Deps{Cart: cart, Stock: v, Orders: ord, Notify: signal})

	h := httpapi.NewRouter(httpapi.Deps{
		Cart:     cart,
		Checkout: orch,
		Notice:   signal,
		Orders:   lookup{},
		Catalog: catalog{
			1: {ID: 1, Name: "Lamp", Price: 10.5, Stock: 10},
			2: {ID: 2, Name: "Desk", Price: 100, Stock: 2},
		},
		Extra: map[string]http.Handler{"/metrics": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, cart: cart, signal: signal}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestCart_AddUpdateRemove(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})

	resp, body := e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 21.0, body["total"], 1e-9)
	assert.Equal(t, "21.00 USD", body["total_display"])
	assert.EqualValues(t, 2, body["item_count"])

	resp, body = e.do(t, http.MethodPut, "/cart/items/1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["item_count"])

	resp, body = e.do(t, http.MethodDelete, "/cart/items/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["item_count"])
	assert.Equal(t, 0, e.cart.Len())
}

func TestCart_AddRejections(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})

	resp, body := e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":1.5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])

	resp, _ = e.do(t, http.MethodPost, "/cart/items", `{"product_id":9,"quantity":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/cart/items", `{"product_id":2,"quantity":3}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient stock for Desk", body["error"])

	resp, _ = e.do(t, http.MethodPost, "/cart/items", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, e.cart.Len())
}

func TestCart_UpdateMissingLine(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})

	resp, _ := e.do(t, http.MethodPut, "/cart/items/1", `{"quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPut, "/cart/items/abc", `{"quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckout_Success(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})
	e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":2}`)

	resp, body := e.do(t, http.MethodPost, "/checkout", `{"email":"a@b.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ord-7", body["order_id"])
	assert.Equal(t, 0, e.cart.ItemCount())

	resp, body = e.do(t, http.MethodGet, "/checkout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(checkout.StateConfirmed), body["state"])

	resp, body = e.do(t, http.MethodGet, "/notice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(notice.SeveritySuccess), body["severity"])

	resp, _ = e.do(t, http.MethodDelete, "/notice", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/notice", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCheckout_OrderServiceFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{err: errors.New("order service unavailable")})
	e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":2}`)

	resp, body := e.do(t, http.MethodPost, "/checkout", `{"email":"a@b.com"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "order service unavailable", body["error"])
	assert.Equal(t, 2, e.cart.ItemCount())

	entry, ok := e.signal.Current()
	require.True(t, ok)
	assert.Equal(t, notice.SeverityError, entry.Severity)
}

func TestCheckout_InvalidEmail(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})
	e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":1}`)

	resp, body := e.do(t, http.MethodPost, "/checkout", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])
}

func TestClearProductsAndHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})
	e.do(t, http.MethodPost, "/cart/items", `{"product_id":1,"quantity":1}`)

	resp, body := e.do(t, http.MethodDelete, "/cart", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["item_count"])

	resp, body = e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(e.srv.URL + "/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var products []domain.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	assert.Len(t, products, 2)

	resp2, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestOrders_Lookup(t *testing.T) {
	t.Parallel()
	e := newEnv(t, orders{})

	resp, body := e.do(t, http.MethodGet, "/orders/ord-7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CONFIRMED", body["status"])
	assert.Equal(t, "a@b.com", body["email"])

	resp, _ = e.do(t, http.MethodGet, "/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/orders?email=bad", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])

	r, err := http.Get(e.srv.URL + "/orders?email=a@b.com")
	require.NoError(t, err)
	defer r.Body.Close()
	var list []domain.Order
	require.NoError(t, json.NewDecoder(r.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.OrderID("ord-7"), list[0].ID)
}
