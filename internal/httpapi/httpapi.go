// Package httpapi exposes the cart core over HTTP for UI layers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nazeru/cart-lab-go/internal/cart/checkout"
	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/cart/store"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/internal/remote"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
	"github.com/nazeru/cart-lab-go/pkg/money"
)

const service = "cart-service"

// Catalog resolves product snapshots for add requests.
type Catalog interface {
	Product(ctx context.Context, id domain.ProductID) (domain.Product, error)
	Products(ctx context.Context) ([]domain.Product, error)
}

type Checkout interface {
	Submit(ctx context.Context, email string) (domain.OrderResult, error)
	State() checkout.State
}

// OrderLookup reads placed orders back from the order service.
type OrderLookup interface {
	Order(ctx context.Context, id domain.OrderID) (domain.Order, error)
	OrdersByEmail(ctx context.Context, email string) ([]domain.Order, error)
}

type Deps struct {
	Cart     *store.Store
	Checkout Checkout
	Notice   *notice.Signal
	Catalog  Catalog
	Orders   OrderLookup
	Metrics  *metrics.ServerMetrics
	Currency string

	// Extra is mounted as-is, e.g. /metrics.
	Extra map[string]http.Handler
}

type api struct {
	cart     *store.Store
	checkout Checkout
	notice   *notice.Signal
	catalog  Catalog
	orders   OrderLookup
	currency string
}

func NewRouter(deps Deps) http.Handler {
	a := &api{
		cart:     deps.Cart,
		checkout: deps.Checkout,
		notice:   deps.Notice,
		catalog:  deps.Catalog,
		orders:   deps.Orders,
		currency: deps.Currency,
	}
	if a.currency == "" {
		a.currency = "USD"
	}
	if a.notice == nil {
		a.notice = notice.New(notice.DefaultTTL)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Observe(deps.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	for path, h := range deps.Extra {
		r.Handle(path, h)
	}

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", a.getCart)
		r.Delete("/", a.clearCart)
		r.Post("/items", a.addItem)
		r.Put("/items/{productID}", a.updateItem)
		r.Delete("/items/{productID}", a.removeItem)
	})
	r.Post("/checkout", a.submit)
	r.Get("/checkout", a.checkoutState)
	r.Get("/notice", a.getNotice)
	r.Delete("/notice", a.clearNotice)
	r.Get("/products", a.listProducts)
	if a.orders != nil {
		r.Get("/orders", a.listOrders)
		r.Get("/orders/{orderID}", a.getOrder)
	}
	return r
}

type lineView struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
	Subtotal float64        `json:"subtotal"`
}

type cartView struct {
	Lines        []lineView `json:"lines"`
	Total        float64    `json:"total"`
	TotalDisplay string     `json:"total_display"`
	ItemCount    int        `json:"item_count"`
	Version      uint64     `json:"version"`
}

func (a *api) view() cartView {
	lines, version := a.cart.Snapshot()
	c := domain.NewCart(lines)
	v := cartView{Lines: make([]lineView, 0, len(lines)), Version: version}
	for _, l := range lines {
		v.Lines = append(v.Lines, lineView{Product: l.Product, Quantity: l.Quantity, Subtotal: l.Subtotal()})
	}
	v.Total = c.Total()
	v.TotalDisplay = money.Format(v.Total, a.currency)
	v.ItemCount = c.ItemCount()
	return v
}

func (a *api) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.view())
}

type addRequest struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	qty, err := domain.ParseQuantity(req.Quantity)
	if err != nil {
		a.reject(w, domain.ValidationError(store.OpAdd, err, ""))
		return
	}
	p, err := a.catalog.Product(r.Context(), domain.ProductID(req.ProductID))
	if err != nil {
		a.reject(w, err)
		return
	}
	if err := a.cart.AddItem(r.Context(), p, qty); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

type updateRequest struct {
	Quantity float64 `json:"quantity"`
}

func (a *api) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	// zero and below remove the line, so only fractions are refused here
	qty := int(req.Quantity)
	if req.Quantity > 0 {
		var err error
		if qty, err = domain.ParseQuantity(req.Quantity); err != nil {
			a.reject(w, domain.ValidationError(store.OpUpdate, err, ""))
			return
		}
	}
	if err := a.cart.UpdateQuantity(r.Context(), id, qty); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

func (a *api) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	if err := a.cart.RemoveItem(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

func (a *api) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := a.cart.Clear(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

type submitRequest struct {
	Email string `json:"email"`
}

func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	res, err := a.checkout.Submit(r.Context(), req.Email)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) checkoutState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": a.checkout.State()})
}

func (a *api) getNotice(w http.ResponseWriter, r *http.Request) {
	e, ok := a.notice.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *api) clearNotice(w http.ResponseWriter, r *http.Request) {
	a.notice.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.Products(r.Context())
	if err != nil {
		a.reject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Order(r.Context(), domain.OrderID(chi.URLParam(r, "orderID")))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// listOrders requires ?email=.
func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if !domain.ValidEmail(email) {
		a.fail(w, domain.ValidationError("list_orders", domain.ErrInvalidEmail, email))
		return
	}
	orders, err := a.orders.OrdersByEmail(r.Context(), email)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func productID(w http.ResponseWriter, r *http.Request) (domain.ProductID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid product id"})
		return 0, false
	}
	return domain.ProductID(id), true
}

// fail writes err using the status its kind maps to. Core operations have
// already surfaced it on the notice slot.
func (a *api) fail(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"error": domain.Message(err),
		"kind":  domain.KindOf(err).String(),
	})
}

// reject is fail for errors raised before reaching the core.
func (a *api) reject(w http.ResponseWriter, err error) {
	a.notice.Report(err)
	a.fail(w, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, remote.ErrProductNotFound), errors.Is(err, remote.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStock:
		return http.StatusConflict
	case domain.KindPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Observe records request count and latency per route pattern. Server
// errors are also logged.
func Observe(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Observe(r.Method+" "+route, strconv.Itoa(status), start)
			if status >= http.StatusInternalServerError {
				logging.Log(logging.Since(logging.Fields{Service: service, Step: r.Method + " " + route, Status: strconv.Itoa(status)}, start))
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
