// Package stock wraps the external stock query service. Every check fails
// closed: an unreachable or erroring service counts as "not available".
package stock

import (
	"context"
	"time"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

const service = "stock-validator"

// Querier is the read-only availability query exposed by the stock service.
type Querier interface {
	Available(ctx context.Context, id domain.ProductID, quantity int) (bool, error)
}

type QuerierFunc func(ctx context.Context, id domain.ProductID, quantity int) (bool, error)

func (f QuerierFunc) Available(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	return f(ctx, id, quantity)
}

type Validator struct {
	q       Querier
	metrics *metrics.CartMetrics
}

func NewValidator(q Querier, m *metrics.CartMetrics) *Validator {
	return &Validator{q: q, metrics: m}
}

func (v *Validator) CheckOne(ctx context.Context, id domain.ProductID, quantity int) bool {
	start := time.Now()
	ok, err := v.q.Available(ctx, id, quantity)
	if err != nil {
		v.metrics.StockCheck("error", start)
		logging.Log(logging.Since(logging.Err(logging.Fields{
			Service: service, ProductID: int64(id), Step: "check_one", Status: "unavailable",
			Message: "stock query failed",
		}, err), start))
		return false
	}
	if ok {
		v.metrics.StockCheck("available", start)
	} else {
		v.metrics.StockCheck("unavailable", start)
	}
	return ok
}

// CheckBatch checks items in input order and stops at the first failure.
func (v *Validator) CheckBatch(ctx context.Context, items []domain.OrderItem) bool {
	_, short := v.FirstUnavailable(ctx, items)
	return !short
}

// FirstUnavailable returns the first item, in input order, that fails its
// check. Later items are not queried.
func (v *Validator) FirstUnavailable(ctx context.Context, items []domain.OrderItem) (domain.OrderItem, bool) {
	for _, it := range items {
		if !v.CheckOne(ctx, it.ProductID, it.Quantity) {
			return it, true
		}
	}
	return domain.OrderItem{}, false
}
