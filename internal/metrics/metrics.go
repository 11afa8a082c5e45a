package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"elektromart/backend/internal/domain"
)

const namespace = "elektromart"

// Metrics holds the back-office collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrderTransitions  *prometheus.CounterVec
	StockAdjustments  *prometheus.CounterVec
	InsufficientStock prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
	m.OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed status transitions by order type and target status",
		},
		[]string{"order", "to"},
	)
	m.StockAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Units moved through the stock ledger",
		},
		[]string{"kind", "source"},
	)
	m.InsufficientStock = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_stock_total",
			Help:      "Commits rejected for lack of stock",
		},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrderTransitions,
		m.StockAdjustments,
		m.InsufficientStock,
	)
	return m
}

// Nil-safe so services built without metrics keep working.

func (m *Metrics) RecordTransition(order string, to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(order, to).Inc()
}

func (m *Metrics) RecordAdjustments(adjs []domain.StockAdjustment) {
	if m == nil {
		return
	}
	for _, adj := range adjs {
		m.StockAdjustments.WithLabelValues(string(adj.Kind), adj.SourceType).Add(float64(adj.Quantity))
	}
}

func (m *Metrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.InsufficientStock.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
