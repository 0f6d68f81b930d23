package store

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/pkg/kv"
)

type fakeStock struct {
	mu    sync.Mutex
	stock map[domain.ProductID]int
	calls []domain.OrderItem

	// when set, CheckOne signals entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeStock) CheckOne(ctx context.Context, id domain.ProductID, quantity int) bool {
	f.mu.Lock()
	f.calls = append(f.calls, domain.OrderItem{ProductID: id, Quantity: quantity})
	entered, gate := f.entered, f.gate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return false
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[id] >= quantity
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) Report(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) last() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.errs) == 0 {
		return nil
	}
	return n.errs[len(n.errs)-1]
}

type countingKV struct {
	kv.Store
	mu     sync.Mutex
	sets   int
	setErr error
}

func (c *countingKV) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.sets++
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, key, value)
}

func (c *countingKV) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func product(id domain.ProductID, price float64, stock int) domain.Product {
	return domain.Product{ID: id, Name: "product", Price: price, Stock: stock}
}

type fixture struct {
	store  *Store
	stock  *fakeStock
	notify *recordingNotifier
	kv     *countingKV
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stock:  &fakeStock{stock: map[domain.ProductID]int{1: 10, 2: 10, 3: 10}},
		notify: &recordingNotifier{},
		kv:     &countingKV{Store: kv.NewMemory()},
	}
	f.store = New(context.Background(), Deps{KV: f.kv, Stock: f.stock, Notify: f.notify})
	return f
}

func assertInvariants(t *testing.T, lines []domain.CartLine) {
	t.Helper()
	seen := map[domain.ProductID]bool{}
	for _, l := range lines {
		assert.Positive(t, l.Quantity)
		assert.False(t, seen[l.Product.ID], "duplicate line for %d", l.Product.ID)
		seen[l.Product.ID] = true
	}
}

func TestAddItem_ExceedingStockOnEmptyCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.store.AddItem(context.Background(), product(1, 5, 10), 11)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindStock, domain.KindOf(err))
	assert.Equal(t, 0, f.store.ItemCount())
	assert.Empty(t, f.store.Lines())
	assert.Equal(t, 0, f.kv.setCount())
	assert.ErrorIs(t, f.notify.last(), domain.ErrInsufficientStock)
}

func TestAddItem_CombinedQuantityExceedingStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := product(1, 5, 10)

	require.NoError(t, f.store.AddItem(ctx, a, 8))
	err := f.store.AddItem(ctx, a, 5)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	lines := f.store.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 8, lines[0].Quantity)
	assert.Equal(t, 1, f.kv.setCount())
}

func TestAddItem_MergesExistingLineAndChecksCombined(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddItem(ctx, product(1, 5, 10), 2))
	require.NoError(t, f.store.AddItem(ctx, product(1, 5, 10), 3))

	lines := f.store.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
	assert.Equal(t, domain.OrderItem{ProductID: 1, Quantity: 5}, f.stock.calls[len(f.stock.calls)-1])
}

func TestAddItem_StockServiceRejection(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stock.stock[1] = 1 // stale snapshot claims 10

	err := f.store.AddItem(context.Background(), product(1, 5, 10), 2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Empty(t, f.store.Lines())
	assert.Zero(t, f.store.Version())
}

func TestAddItem_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, q := range []int{0, -3} {
		err := f.store.AddItem(ctx, product(1, 5, 10), q)
		require.ErrorIs(t, err, domain.ErrInvalidQuantity)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	}
	err := f.store.AddItem(ctx, domain.Product{ID: 1, Name: "", Price: 1, Stock: 1}, 1)
	require.ErrorIs(t, err, domain.ErrInvalidProduct)

	assert.Empty(t, f.store.Lines())
	assert.Empty(t, f.stock.calls)
}

func TestUpdateQuantity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddItem(ctx, product(1, 2, 10), 1))

	require.NoError(t, f.store.UpdateQuantity(ctx, 1, 4))
	assert.Equal(t, 4, f.store.ItemCount())

	f.stock.stock[1] = 5
	err := f.store.UpdateQuantity(ctx, 1, 6)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 4, f.store.ItemCount())

	err = f.store.UpdateQuantity(ctx, 99, 1)
	require.ErrorIs(t, err, domain.ErrLineNotFound)

	require.NoError(t, f.store.UpdateQuantity(ctx, 1, 0))
	assert.Empty(t, f.store.Lines())
}

func TestRemoveItem_AbsentIsIdempotentNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddItem(ctx, product(1, 2, 10), 1))

	before, version := f.store.Snapshot()
	sets := f.kv.setCount()

	require.NoError(t, f.store.RemoveItem(ctx, 42))
	require.NoError(t, f.store.RemoveItem(ctx, 42))

	after, afterVersion := f.store.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, version, afterVersion)
	assert.Equal(t, sets, f.kv.setCount())
}

func TestClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddItem(ctx, product(1, 2, 10), 1))
	require.NoError(t, f.store.AddItem(ctx, product(2, 3, 10), 2))

	require.NoError(t, f.store.Clear(ctx))
	assert.Zero(t, f.store.ItemCount())
	assert.Zero(t, f.store.Total())

	data, ok, err := f.kv.Get(ctx, DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(data))
}

func TestTotal_RecomputedAfterEachMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.AddItem(ctx, product(1, 19.99, 10), 2))
	assert.InDelta(t, 39.98, f.store.Total(), 1e-9)

	require.NoError(t, f.store.AddItem(ctx, product(2, 0.1, 10), 3))
	assert.InDelta(t, 39.98+0.3, f.store.Total(), 1e-9)

	require.NoError(t, f.store.UpdateQuantity(ctx, 1, 1))
	assert.InDelta(t, 19.99+0.3, f.store.Total(), 1e-9)

	require.NoError(t, f.store.RemoveItem(ctx, 2))
	assert.InDelta(t, 19.99, f.store.Total(), 1e-9)
	assert.Equal(t, 1, f.store.ItemCount())
}

func TestPersistence_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddItem(ctx, product(1, 1.5, 10), 1))
	require.NoError(t, f.store.AddItem(ctx, product(2, 2.5, 10), 2))
	require.NoError(t, f.store.AddItem(ctx, product(3, 3.5, 10), 3))

	restored := New(ctx, Deps{KV: f.kv, Stock: f.stock})
	assert.Equal(t, f.store.Lines(), restored.Lines())
	assert.InDelta(t, f.store.Total(), restored.Total(), 1e-9)
}

func TestPersistence_FailureKeepsMemoryCommit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.kv.setErr = errors.New("disk full")

	err := f.store.AddItem(context.Background(), product(1, 1, 10), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.ItemCount())

	reported := f.notify.last()
	require.Error(t, reported)
	assert.Equal(t, domain.KindPersistence, domain.KindOf(reported))
}

func TestRestore_CorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	mem := kv.NewMemory()
	require.NoError(t, mem.Set(context.Background(), DefaultKey, []byte(`{not json`)))

	s := New(context.Background(), Deps{KV: mem, Stock: &fakeStock{}})
	assert.Empty(t, s.Lines())
}

func TestRestore_DropsInvalidRecordsAndFoldsDuplicates(t *testing.T) {
	t.Parallel()
	mem := kv.NewMemory()
	payload := `[
		{"product":{"id":1,"name":"a","price":2,"stock":5},"quantity":2},
		{"product":{"id":2,"name":"b","price":2,"stock":5},"quantity":0},
		{"product":{"id":0,"name":"c","price":2,"stock":5},"quantity":1},
		"garbage",
		{"product":{"id":1,"name":"a","price":2,"stock":5},"quantity":1}
	]`
	require.NoError(t, mem.Set(context.Background(), DefaultKey, []byte(payload)))

	s := New(context.Background(), Deps{KV: mem, Stock: &fakeStock{}})
	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestMutationsAreSerialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stock.entered = make(chan struct{}, 1)
	f.stock.gate = make(chan struct{})
	ctx := context.Background()
	a := product(1, 5, 10)

	first := make(chan error, 1)
	go func() { first <- f.store.AddItem(ctx, a, 8) }()
	<-f.stock.entered

	second := make(chan error, 1)
	go func() { second <- f.store.AddItem(ctx, a, 5) }()

	// reads do not wait for the pending mutation and see only committed state
	assert.Zero(t, f.store.ItemCount())
	select {
	case err := <-second:
		t.Fatalf("second mutation finished while first was pending: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(f.stock.gate)
	require.NoError(t, <-first)
	require.ErrorIs(t, <-second, domain.ErrInsufficientStock)

	lines := f.store.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 8, lines[0].Quantity)
}

func TestAcquire_RespectsContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stock.entered = make(chan struct{}, 1)
	f.stock.gate = make(chan struct{})
	defer close(f.stock.gate)

	go func() { _ = f.store.AddItem(context.Background(), product(1, 5, 10), 1) }()
	<-f.stock.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.store.Clear(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestSubscribe_ReceivesCommittedChangesInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var ops []string
	unsubscribe := f.store.Subscribe(func(c Change) { ops = append(ops, c.Op) })

	require.NoError(t, f.store.AddItem(ctx, product(1, 1, 10), 1))
	require.NoError(t, f.store.UpdateQuantity(ctx, 1, 2))
	_ = f.store.AddItem(ctx, product(1, 1, 10), 50)
	require.NoError(t, f.store.RemoveItem(ctx, 7))
	require.NoError(t, f.store.RemoveItem(ctx, 1))
	unsubscribe()
	require.NoError(t, f.store.Clear(ctx))

	assert.Equal(t, []string{OpAdd, OpUpdate, OpRemove}, ops)
}

func TestInvariantsHoldAcrossRandomMutations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		id := domain.ProductID(rng.Intn(3) + 1)
		switch rng.Intn(4) {
		case 0:
			_ = f.store.AddItem(ctx, product(id, 1.25, 10), rng.Intn(6)-1)
		case 1:
			_ = f.store.UpdateQuantity(ctx, id, rng.Intn(12)-2)
		case 2:
			_ = f.store.RemoveItem(ctx, id)
		case 3:
			if rng.Intn(10) == 0 {
				_ = f.store.Clear(ctx)
			}
		}
		lines := f.store.Lines()
		assertInvariants(t, lines)

		var want float64
		for _, l := range lines {
			assert.LessOrEqual(t, l.Quantity, 10)
			want += l.Product.Price * float64(l.Quantity)
		}
		assert.InDelta(t, want, f.store.Total(), 1e-9)
	}
}
