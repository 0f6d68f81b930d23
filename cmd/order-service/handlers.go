package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/internal/httpapi"
	"github.com/nazeru/cart-lab-go/pkg/idempotency"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

type handlers struct {
	repo repository
}

func newRouter(repo repository, m *metrics.ServerMetrics, extra map[string]http.Handler) http.Handler {
	h := &handlers{repo: repo}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpapi.Observe(m))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	for path, eh := range extra {
		r.Handle(path, eh)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.products)
		r.Get("/products/{id}", h.product)
		r.Get("/stock/{id}", h.stock)
		r.Post("/stock/check", h.stockBatch)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.order)
		r.Get("/orders/email/{email}", h.ordersByEmail)
	})
	return r
}

func pathID(r *http.Request) (domain.ProductID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return domain.ProductID(id), err == nil && id > 0
}

func (h *handlers) products(w http.ResponseWriter, r *http.Request) {
	ps, err := h.repo.Products(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if ps == nil {
		ps = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *handlers) product(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid product id"})
		return
	}
	p, err := h.repo.Product(r.Context(), id)
	switch {
	case errors.Is(err, errNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

// available treats unknown products as unavailable.
func (h *handlers) available(r *http.Request, id domain.ProductID, qty int) (bool, error) {
	p, err := h.repo.Product(r.Context(), id)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return domain.ValidQuantity(qty, p.Stock), nil
}

func (h *handlers) stock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid product id"})
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "quantity is required"})
		return
	}
	avail, err := h.available(r, id, qty)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": avail})
}

type stockCheck struct {
	Items []struct {
		ProductID domain.ProductID `json:"product_id"`
		Quantity  int              `json:"quantity"`
	} `json:"items"`
}

func (h *handlers) stockBatch(w http.ResponseWriter, r *http.Request) {
	var req stockCheck
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	for _, it := range req.Items {
		avail, err := h.available(r, it.ProductID, it.Quantity)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !avail {
			writeJSON(w, http.StatusOK, map[string]any{"available": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true})
}

type createOrderRequest struct {
	CustomerEmail string             `json:"customerEmail"`
	Items         []domain.OrderItem `json:"items"`
	TotalAmount   float64            `json:"totalAmount"`
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid json"})
		return
	}
	email := strings.TrimSpace(body.CustomerEmail)
	if !domain.ValidEmail(email) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "customerEmail is invalid"})
		return
	}
	if len(body.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "items is required"})
		return
	}
	for _, it := range body.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "each item must have productId and quantity > 0"})
			return
		}
	}

	key := idempotency.Key(r)
	req := domain.OrderRequest{Email: email, Items: body.Items, Total: body.TotalAmount}
	res, err := h.repo.CreateOrder(r.Context(), key, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errInsufficientStock) {
			status = http.StatusConflict
		}
		logging.Log(logging.Err(logging.Fields{Service: service, Step: "create_order", Status: "failed"}, err))
		writeJSON(w, status, map[string]any{"message": err.Error()})
		return
	}

	id, _ := strconv.ParseInt(res.OrderID, 10, 64)
	logging.Log(logging.Fields{Service: service, OrderID: res.OrderID, Step: "create_order", Status: string(res.Status)})
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": res.Status, "replay": res.Replay})
}

const listLimit = 100

type orderView struct {
	ID     int64              `json:"id"`
	Email  string             `json:"email"`
	Status domain.OrderStatus `json:"status"`
	Total  float64            `json:"total"`
	Date   time.Time          `json:"date"`
	Items  []domain.OrderItem `json:"items,omitempty"`
}

func viewOf(o domain.Order) orderView {
	id, _ := strconv.ParseInt(string(o.ID), 10, 64)
	return orderView{ID: id, Email: o.Email, Status: o.Status, Total: o.Total, Date: o.CreatedAt, Items: o.Items}
}

func (h *handlers) order(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": errOrderNotFound.Error()})
		return
	}
	o, err := h.repo.Order(r.Context(), id)
	switch {
	case errors.Is(err, errOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"message": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
	default:
		writeJSON(w, http.StatusOK, viewOf(o))
	}
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	h.writeOrders(w, r, "")
}

func (h *handlers) ordersByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if email = strings.TrimSpace(email); err != nil || !domain.ValidEmail(email) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "email is invalid"})
		return
	}
	h.writeOrders(w, r, email)
}

func (h *handlers) writeOrders(w http.ResponseWriter, r *http.Request, email string) {
	orders, err := h.repo.Orders(r.Context(), email, listLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOf(o))
	}
	writeJSON(w, http.StatusOK, out)
}
