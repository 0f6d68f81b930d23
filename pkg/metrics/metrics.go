package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cartlab"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

func (m *ServerMetrics) Observe(handler, status string, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

// CartMetrics covers the cart core. A nil *CartMetrics is a no-op.
type CartMetrics struct {
	Mutations        *prometheus.CounterVec
	StockChecks      *prometheus.CounterVec
	StockCheckMS     prometheus.Histogram
	PersistFailures  prometheus.Counter
	Lines            prometheus.Gauge
	Checkouts        *prometheus.CounterVec
	CheckoutDuration prometheus.Histogram
}

func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	m := &CartMetrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "mutations_total",
			Help:      "Cart mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		StockChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "checks_total",
			Help:      "Stock checks by result.",
		}, []string{"result"}),
		StockCheckMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "check_duration_ms",
			Help:      "Stock query latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "persist_failures_total",
			Help:      "Failed write-through persistence attempts.",
		}),
		Lines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "lines",
			Help:      "Committed cart lines.",
		}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_ms",
			Help:      "Checkout duration in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
	reg.MustRegister(m.Mutations, m.StockChecks, m.StockCheckMS, m.PersistFailures, m.Lines, m.Checkouts, m.CheckoutDuration)
	return m
}

func (m *CartMetrics) Mutation(op, outcome string, lines int) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
	m.Lines.Set(float64(lines))
}

func (m *CartMetrics) StockCheck(result string, start time.Time) {
	if m == nil {
		return
	}
	m.StockChecks.WithLabelValues(result).Inc()
	m.StockCheckMS.Observe(float64(time.Since(start).Milliseconds()))
}

func (m *CartMetrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *CartMetrics) Checkout(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutDuration.Observe(float64(time.Since(start).Milliseconds()))
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
