package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records cart engine activity. A nil *CartMetrics is valid and records nothing.
type CartMetrics struct {
	operations  *prometheus.CounterVec
	persistence *prometheus.CounterVec
	activeCarts prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart operations by name and outcome.",
	}, []string{"operation", "outcome"})
	persistence := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_persistence_errors_total",
		Help: "Session store failures swallowed by the cart persistence adapter.",
	}, []string{"operation"})
	activeCarts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_active_carts",
		Help: "Carts currently held by the registry.",
	})
	reg.MustRegister(operations, persistence, activeCarts)
	return &CartMetrics{
		operations:  operations,
		persistence: persistence,
		activeCarts: activeCarts,
	}
}

// ObserveOperation counts one operation with its outcome (ok, rejected, partial, ...).
func (m *CartMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncPersistenceError counts a failed load, save or delete against the session store.
func (m *CartMetrics) IncPersistenceError(operation string) {
	if m == nil || m.persistence == nil {
		return
	}
	m.persistence.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *CartMetrics) SetActiveCarts(n int) {
	if m == nil || m.activeCarts == nil {
		return
	}
	m.activeCarts.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
