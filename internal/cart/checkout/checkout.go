// Package checkout turns the cart into a submitted order.
//
// The orchestrator runs Idle -> Validating -> Submitting -> Confirmed|Failed.
// A Submit call made while another is validating or submitting is rejected
// without touching the stock or order services. On any failure the cart is
// left exactly as it was and the orchestrator returns to Idle.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/pkg/contracts"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

const service = "checkout"

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Busy reports whether a submission is in flight.
func (s State) Busy() bool {
	return s == StateValidating || s == StateSubmitting
}

// Cart is the slice of *store.Store the orchestrator needs.
type Cart interface {
	Snapshot() ([]domain.CartLine, uint64)
	Clear(ctx context.Context) error
}

// StockChecker reports the first item, in input order, that is not
// available.
type StockChecker interface {
	FirstUnavailable(ctx context.Context, items []domain.OrderItem) (domain.OrderItem, bool)
}

// OrderSubmitter creates an order on the order service. The key is stable
// across retries of the same cart contents.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.OrderResult, error)
}

type Notifier interface {
	Report(err error)
	Success(message string)
}

type Deps struct {
	Cart      Cart
	Stock     StockChecker
	Orders    OrderSubmitter
	Notify    Notifier
	Events    contracts.Publisher
	Metrics   *metrics.CartMetrics
	NewKey    func() string
	OnTransit func(from, to State)
}

type Orchestrator struct {
	cart    Cart
	stock   StockChecker
	orders  OrderSubmitter
	notify  Notifier
	events  contracts.Publisher
	metrics *metrics.CartMetrics
	newKey  func() string
	hook    func(from, to State)

	mu    sync.Mutex
	state State
	// key of the last attempt that reached the order service and failed,
	// reused while the cart version is unchanged
	retryKey     string
	retryVersion uint64
}

func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		cart:    deps.Cart,
		stock:   deps.Stock,
		orders:  deps.Orders,
		notify:  deps.Notify,
		events:  deps.Events,
		metrics: deps.Metrics,
		newKey:  deps.NewKey,
		hook:    deps.OnTransit,
		state:   StateIdle,
	}
	if o.events == nil {
		o.events = contracts.Discard{}
	}
	if o.newKey == nil {
		o.newKey = uuid.NewString
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Submit validates the cart, submits it as an order for email and clears the
// cart on success.
func (o *Orchestrator) Submit(ctx context.Context, email string) (domain.OrderResult, error) {
	start := time.Now()

	o.mu.Lock()
	if o.state.Busy() {
		o.mu.Unlock()
		logging.Log(logging.Fields{Service: service, Step: "submit", Status: "rejected_in_progress"})
		return domain.OrderResult{}, domain.ValidationError("submit", domain.ErrCheckoutInProgress, "")
	}
	lines, version := o.cart.Snapshot()
	req, err := domain.NewOrderRequest(email, lines)
	if err != nil {
		from := o.state
		o.state = StateIdle
		o.mu.Unlock()
		o.fire(from, StateIdle)
		o.metrics.Checkout("invalid", start)
		o.report(err)
		return domain.OrderResult{}, err
	}
	from := o.state
	o.state = StateValidating
	key := o.keyForLocked(version)
	o.mu.Unlock()
	o.fire(from, StateValidating)

	if item, short := o.stock.FirstUnavailable(ctx, req.Items); short {
		err := domain.StockError("checkout", productName(lines, item.ProductID))
		o.fail(ctx, req, err, start)
		return domain.OrderResult{}, err
	}

	o.transition(StateValidating, StateSubmitting)
	res, err := o.orders.CreateOrder(ctx, req, key)
	if err != nil {
		var derr *domain.Error
		if !errors.As(err, &derr) {
			err = domain.TransportError("submit", err)
		}
		o.mu.Lock()
		o.retryKey, o.retryVersion = key, version
		o.mu.Unlock()
		o.fail(ctx, req, err, start)
		return domain.OrderResult{}, err
	}

	o.mu.Lock()
	o.retryKey, o.retryVersion = "", 0
	o.mu.Unlock()
	o.transition(StateSubmitting, StateConfirmed)

	if err := o.cart.Clear(context.WithoutCancel(ctx)); err != nil {
		logging.Log(logging.Err(logging.Fields{Service: service, OrderID: string(res.OrderID), Step: "clear_cart", Status: "failed"}, err))
	}
	if o.notify != nil {
		o.notify.Success(fmt.Sprintf("order %s confirmed", res.OrderID))
	}
	o.publish(ctx, contracts.EventCheckoutConfirmed, string(res.OrderID), req, map[string]any{"status": string(res.Status)})
	o.metrics.Checkout("confirmed", start)
	logging.Log(logging.Since(logging.Fields{Service: service, OrderID: string(res.OrderID), Step: "submit", Status: string(res.Status)}, start))
	return res, nil
}

// keyForLocked reuses the failed attempt's key when the cart is unchanged so
// the order service can replay instead of creating a second order.
func (o *Orchestrator) keyForLocked(version uint64) string {
	if o.retryKey != "" && o.retryVersion == version {
		return o.retryKey
	}
	return o.newKey()
}

func productName(lines []domain.CartLine, id domain.ProductID) string {
	for _, l := range lines {
		if l.Product.ID == id {
			return l.Product.Name
		}
	}
	return ""
}

func (o *Orchestrator) fail(ctx context.Context, req domain.OrderRequest, err error, start time.Time) {
	o.mu.Lock()
	from := o.state
	o.state = StateFailed
	o.mu.Unlock()
	o.fire(from, StateFailed)

	o.report(err)
	o.publish(ctx, contracts.EventCheckoutFailed, "", req, map[string]any{
		"kind":   domain.KindOf(err).String(),
		"reason": domain.Message(err),
	})
	o.metrics.Checkout("failed", start)
	logging.Log(logging.Since(logging.Err(logging.Fields{Service: service, Step: string(from), Status: "failed"}, err), start))

	o.transition(StateFailed, StateIdle)
}

func (o *Orchestrator) transition(from, to State) {
	o.mu.Lock()
	o.state = to
	o.mu.Unlock()
	o.fire(from, to)
}

func (o *Orchestrator) fire(from, to State) {
	if o.hook != nil && from != to {
		o.hook(from, to)
	}
}

func (o *Orchestrator) report(err error) {
	if o.notify != nil {
		o.notify.Report(err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, typ, orderID string, req domain.OrderRequest, extra map[string]any) {
	items := make([]map[string]any, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, map[string]any{"product_id": int64(it.ProductID), "quantity": it.Quantity})
	}
	payload := map[string]any{"email": req.Email, "total": req.Total, "items": items}
	for k, v := range extra {
		payload[k] = v
	}
	evt := contracts.NewEvent(typ, orderID, payload)
	if err := o.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		logging.Log(logging.Err(logging.Fields{Service: service, OrderID: orderID, EventID: evt.EventID, Step: "publish", Status: "failed"}, err))
	}
}
