package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/remote"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

// memRepo mirrors pgRepo semantics in memory.
type memRepo struct {
	mu       sync.Mutex
	products map[domain.ProductID]domain.Product
	keys     map[string]placed
	orders   []domain.Order
}

func newMemRepo() *memRepo {
	r := &memRepo{products: map[domain.ProductID]domain.Product{}, keys: map[string]placed{}}
	for _, p := range seedProducts {
		r.products[p.ID] = p
	}
	return r
}

func (r *memRepo) Products(context.Context) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range seedProducts {
		out = append(out, r.products[p.ID])
	}
	return out, nil
}

func (r *memRepo) Product(_ context.Context, id domain.ProductID) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, errNotFound
	}
	return p, nil
}

func (r *memRepo) CreateOrder(_ context.Context, key string, req domain.OrderRequest) (placed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.keys[key]; ok && key != "" {
		res.Replay = true
		return res, nil
	}
	for _, it := range req.Items {
		if r.products[it.ProductID].Stock < it.Quantity {
			return placed{}, fmt.Errorf("%w: product %d", errInsufficientStock, it.ProductID)
		}
	}
	for _, it := range req.Items {
		p := r.products[it.ProductID]
		p.Stock -= it.Quantity
		r.products[it.ProductID] = p
	}
	res := placed{OrderID: fmt.Sprint(len(r.orders) + 1), Status: domain.OrderStatusPending}
	r.orders = append(r.orders, domain.Order{
		ID:        domain.OrderID(res.OrderID),
		Email:     req.Email,
		Status:    res.Status,
		Total:     req.Total,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, len(r.orders), 0, time.UTC),
		Items:     req.Items,
	})
	if key != "" {
		r.keys[key] = res
	}
	return res, nil
}

func (r *memRepo) Order(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || int(id) > len(r.orders) {
		return domain.Order{}, errOrderNotFound
	}
	return r.orders[id-1], nil
}

func (r *memRepo) Orders(_ context.Context, email string, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Order{}
	for i := len(r.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if email == "" || strings.EqualFold(r.orders[i].Email, email) {
			o := r.orders[i]
			o.Items = nil
			out = append(out, o)
		}
	}
	return out, nil
}

// The cart's own remote clients are used against the router so both sides of
// the wire format are exercised.
func newBackend(t *testing.T) (*memRepo, string) {
	t.Helper()
	repo := newMemRepo()
	srv := httptest.NewServer(newRouter(repo, metrics.NewServerMetrics(prometheus.NewRegistry(), "test"), nil))
	t.Cleanup(srv.Close)
	return repo, srv.URL
}

func TestCatalogAndStock(t *testing.T) {
	_, url := newBackend(t)
	ctx := context.Background()
	catalog := remote.NewCatalogClient(url, time.Second)
	stock := remote.NewStockClient(url, time.Second)

	ps, err := catalog.Products(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, len(seedProducts))

	p, err := catalog.Product(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Standing Desk", p.Name)

	_, err = catalog.Product(ctx, 99)
	assert.ErrorIs(t, err, remote.ErrProductNotFound)

	ok, err := stock.Available(ctx, 2, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = stock.Available(ctx, 2, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = stock.AvailableBatch(ctx, []domain.OrderItem{{ProductID: 1, Quantity: 1}, {ProductID: 4, Quantity: 1}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	repo, url := newBackend(t)
	ctx := context.Background()
	orders := remote.NewOrderClient(url, time.Second)
	req := domain.OrderRequest{Email: "a@b.com", Items: []domain.OrderItem{{ProductID: 2, Quantity: 2, Price: 349}}, Total: 698}

	first, err := orders.CreateOrder(ctx, req, "k-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, first.Status)

	again, err := orders.CreateOrder(ctx, req, "k-1")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, again.OrderID)

	p, _ := repo.Product(ctx, 2)
	assert.Equal(t, 3, p.Stock)
}

func TestCreateOrder_Rejections(t *testing.T) {
	_, url := newBackend(t)
	ctx := context.Background()
	orders := remote.NewOrderClient(url, time.Second)

	_, err := orders.CreateOrder(ctx, domain.OrderRequest{Email: "a@b.com", Items: []domain.OrderItem{{ProductID: 2, Quantity: 6}}}, "")
	require.Error(t, err)
	assert.True(t, remote.IsStatus(err, 409))
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))

	_, err = orders.CreateOrder(ctx, domain.OrderRequest{Email: "bad", Items: []domain.OrderItem{{ProductID: 1, Quantity: 1}}}, "")
	require.Error(t, err)
	assert.True(t, remote.IsStatus(err, 400))
	assert.Contains(t, domain.Message(err), "customerEmail is invalid")
}

func TestOrderLookup(t *testing.T) {
	_, url := newBackend(t)
	ctx := context.Background()
	orders := remote.NewOrderClient(url, time.Second)

	first, err := orders.CreateOrder(ctx, domain.OrderRequest{
		Email: "a@b.com",
		Items: []domain.OrderItem{{ProductID: 1, Quantity: 2, Price: 24.99}},
		Total: 49.98,
	}, "")
	require.NoError(t, err)
	_, err = orders.CreateOrder(ctx, domain.OrderRequest{Email: "c@d.com", Items: []domain.OrderItem{{ProductID: 3, Quantity: 1, Price: 189.5}}, Total: 189.5}, "")
	require.NoError(t, err)
	second, err := orders.CreateOrder(ctx, domain.OrderRequest{Email: "A@b.com", Items: []domain.OrderItem{{ProductID: 1, Quantity: 1, Price: 24.99}}, Total: 24.99}, "")
	require.NoError(t, err)

	o, err := orders.Order(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, o.ID)
	assert.Equal(t, "a@b.com", o.Email)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.InDelta(t, 49.98, o.Total, 1e-9)
	require.Len(t, o.Items, 1)
	assert.Equal(t, domain.ProductID(1), o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)

	_, err = orders.Order(ctx, "404")
	assert.ErrorIs(t, err, remote.ErrOrderNotFound)

	mine, err := orders.OrdersByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.OrderID, mine[0].ID)
	assert.Equal(t, first.OrderID, mine[1].ID)

	none, err := orders.OrdersByEmail(ctx, "nobody@b.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = orders.OrdersByEmail(ctx, "not-an-email")
	assert.True(t, remote.IsStatus(err, 400))
}
