// Package store owns the authoritative cart state.
//
// Mutations are serialized: each one reads the committed cart, performs its
// stock check and commits before the next one starts. Reads never wait for a
// pending mutation and only ever see committed state. Every commit is written
// through to the key-value store before the mutation returns.
package store

import (
	"context"
	"sync"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/pkg/kv"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

const (
	service    = "cart-store"
	DefaultKey = "cart"
)

const (
	OpAdd    = "add_item"
	OpUpdate = "update_quantity"
	OpRemove = "remove_item"
	OpClear  = "clear"
)

// StockChecker is satisfied by *stock.Validator.
type StockChecker interface {
	CheckOne(ctx context.Context, id domain.ProductID, quantity int) bool
}

// Notifier is satisfied by *notice.Signal.
type Notifier interface {
	Report(err error)
}

type Deps struct {
	KV      kv.Store
	Stock   StockChecker
	Notify  Notifier
	Metrics *metrics.CartMetrics
	// Key defaults to DefaultKey.
	Key string
}

// Change describes one committed mutation.
type Change struct {
	Op        string
	ProductID domain.ProductID
	Lines     []domain.CartLine
	Version   uint64
}

type Store struct {
	kv      kv.Store
	key     string
	stock   StockChecker
	notify  Notifier
	metrics *metrics.CartMetrics

	// sem is the mutation queue: one holder at a time.
	sem chan struct{}

	mu      sync.RWMutex
	cart    domain.Cart
	version uint64

	lmu       sync.Mutex
	listeners map[uint64]func(Change)
	nextID    uint64
}

// New restores the cart persisted under deps.Key, or starts empty.
func New(ctx context.Context, deps Deps) *Store {
	s := &Store{
		kv:        deps.KV,
		key:       deps.Key,
		stock:     deps.Stock,
		notify:    deps.Notify,
		metrics:   deps.Metrics,
		sem:       make(chan struct{}, 1),
		listeners: map[uint64]func(Change){},
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.kv == nil {
		s.kv = kv.NewMemory()
	}
	s.cart = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) domain.Cart {
	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		logging.Log(logging.Err(logging.Fields{Service: service, Step: "restore", Status: "failed"}, err))
		s.report(domain.PersistenceError("restore", err))
		return domain.Cart{}
	}
	if !ok {
		return domain.Cart{}
	}
	lines, dropped, err := Decode(data)
	if err != nil {
		logging.Log(logging.Err(logging.Fields{Service: service, Step: "restore", Status: "corrupt", Message: "starting with an empty cart"}, err))
		return domain.Cart{}
	}
	if dropped > 0 {
		logging.Log(logging.Fields{Service: service, Step: "restore", Status: "sanitized", Message: "dropped invalid cart records"})
	}
	return domain.NewCart(lines)
}

// AddItem adds quantity units of p, merging with an existing line. The
// combined quantity must fit p.Stock and pass the stock service; otherwise
// nothing changes.
func (s *Store) AddItem(ctx context.Context, p domain.Product, quantity int) error {
	if err := p.Validate(); err != nil {
		return s.reject(OpAdd, p.ID, err)
	}
	if quantity <= 0 {
		return s.reject(OpAdd, p.ID, domain.ValidationError(OpAdd, domain.ErrInvalidQuantity, "must be a positive integer"))
	}
	if quantity > p.Stock {
		return s.reject(OpAdd, p.ID, domain.StockError(OpAdd, p.Name))
	}

	if err := s.acquire(ctx, OpAdd); err != nil {
		return s.reject(OpAdd, p.ID, err)
	}
	defer s.release()

	combined := quantity
	if line, ok := s.line(p.ID); ok {
		combined += line.Quantity
	}
	if combined > p.Stock {
		return s.reject(OpAdd, p.ID, domain.StockError(OpAdd, p.Name))
	}
	if !s.stock.CheckOne(ctx, p.ID, combined) {
		return s.reject(OpAdd, p.ID, domain.StockError(OpAdd, p.Name))
	}

	s.commit(ctx, OpAdd, p.ID, func(c *domain.Cart) bool {
		c.Put(domain.CartLine{Product: p, Quantity: combined})
		return true
	})
	return nil
}

// UpdateQuantity sets the line for id to quantity. quantity <= 0 removes it.
func (s *Store) UpdateQuantity(ctx context.Context, id domain.ProductID, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, id)
	}

	if err := s.acquire(ctx, OpUpdate); err != nil {
		return s.reject(OpUpdate, id, err)
	}
	defer s.release()

	line, ok := s.line(id)
	if !ok {
		return s.reject(OpUpdate, id, domain.ValidationError(OpUpdate, domain.ErrLineNotFound, ""))
	}
	if quantity == line.Quantity {
		return nil
	}
	if !s.stock.CheckOne(ctx, id, quantity) {
		return s.reject(OpUpdate, id, domain.StockError(OpUpdate, line.Product.Name))
	}

	s.commit(ctx, OpUpdate, id, func(c *domain.Cart) bool {
		line.Quantity = quantity
		c.Put(line)
		return true
	})
	return nil
}

// RemoveItem is a no-op when id is absent.
func (s *Store) RemoveItem(ctx context.Context, id domain.ProductID) error {
	if err := s.acquire(ctx, OpRemove); err != nil {
		return s.reject(OpRemove, id, err)
	}
	defer s.release()

	s.commit(ctx, OpRemove, id, func(c *domain.Cart) bool {
		return c.Remove(id)
	})
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.acquire(ctx, OpClear); err != nil {
		return s.reject(OpClear, 0, err)
	}
	defer s.release()

	s.commit(ctx, OpClear, 0, func(c *domain.Cart) bool {
		if c.IsEmpty() {
			return false
		}
		c.Reset()
		return true
	})
	return nil
}

func (s *Store) Total() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Total()
}

func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.ItemCount()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Len()
}

func (s *Store) Lines() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Lines()
}

// Version increases with every committed change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns the committed lines together with their version.
func (s *Store) Snapshot() ([]domain.CartLine, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Lines(), s.version
}

// Subscribe registers fn to run after every committed change, in commit
// order. fn must not call mutating Store methods.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) acquire(ctx context.Context, op string) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.TransportError(op, ctx.Err())
	}
}

func (s *Store) release() {
	<-s.sem
}

func (s *Store) line(id domain.ProductID) (domain.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Line(id)
}

// commit applies mutate to a copy of the cart and publishes it when mutate
// reports a change. Callers hold the mutation slot.
func (s *Store) commit(ctx context.Context, op string, id domain.ProductID, mutate func(*domain.Cart) bool) {
	s.mu.RLock()
	next := domain.NewCart(s.cart.Lines())
	s.mu.RUnlock()

	if !mutate(&next) {
		s.metrics.Mutation(op, "noop", next.Len())
		return
	}

	s.mu.Lock()
	s.cart = next
	s.version++
	change := Change{Op: op, ProductID: id, Lines: next.Lines(), Version: s.version}
	s.mu.Unlock()

	s.persist(ctx, op, change.Lines)
	s.metrics.Mutation(op, "ok", len(change.Lines))
	logging.Log(logging.Fields{Service: service, ProductID: int64(id), Step: op, Status: "committed"})

	s.lmu.Lock()
	listeners := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
}

// persist never rolls back the in-memory commit.
func (s *Store) persist(ctx context.Context, op string, lines []domain.CartLine) {
	data, err := Encode(lines)
	if err == nil {
		err = s.kv.Set(context.WithoutCancel(ctx), s.key, data)
	}
	if err != nil {
		s.metrics.PersistFailed()
		logging.Log(logging.Err(logging.Fields{Service: service, Step: op, Status: "persist_failed"}, err))
		s.report(domain.PersistenceError(op, err))
	}
}

func (s *Store) reject(op string, id domain.ProductID, err error) error {
	s.metrics.Mutation(op, "rejected", s.Len())
	logging.Log(logging.Err(logging.Fields{Service: service, ProductID: int64(id), Step: op, Status: "rejected"}, err))
	s.report(err)
	return err
}

func (s *Store) report(err error) {
	if s.notify != nil {
		s.notify.Report(err)
	}
}
