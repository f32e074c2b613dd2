package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// CartMetrics records cart synchronization operations.
type CartMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart operations by kind and outcome.",
	}, []string{"op", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_operation_duration_seconds",
		Help:    "Duration of cart operations in seconds, including lock wait.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(operations, duration)
	return &CartMetrics{operations: operations, duration: duration}
}

// Observe records one finished operation. outcome is usually OutcomeSuccess
// or the error code that ended it.
func (c *CartMetrics) Observe(op, outcome string, elapsed time.Duration) {
	if c == nil || c.operations == nil {
		return
	}
	op = normalizeLabel(op)
	c.operations.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// CatalogMetrics records outbound catalog requests.
type CatalogMetrics struct {
	requests *prometheus.CounterVec
}

// NewCatalogMetrics registers the catalog metrics on the provided registerer.
func NewCatalogMetrics(reg prometheus.Registerer) *CatalogMetrics {
	if reg == nil {
		return &CatalogMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_requests_total",
		Help: "Catalog API requests by operation and outcome.",
	}, []string{"op", "outcome"})
	reg.MustRegister(requests)
	return &CatalogMetrics{requests: requests}
}

// Inc increments the request counter.
func (c *CatalogMetrics) Inc(op, outcome string) {
	if c == nil || c.requests == nil {
		return
	}
	c.requests.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
