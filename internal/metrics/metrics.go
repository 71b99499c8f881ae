package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Modification operations.
const (
	OpAddItem        = "add_item"
	OpUpdateQuantity = "update_quantity"
	OpCancel         = "cancel"
)

// Modification outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeSkipped     = "skipped"
	OutcomeRejected    = "rejected"
	OutcomeCompensated = "compensated"
	OutcomeMismatch    = "mismatch"
)

// Metrics holds Prometheus metrics for the order modification service.
type Metrics struct {
	ModificationOutcomes *prometheus.CounterVec
	AdjustmentLatency    prometheus.Histogram
	GatewayRetries       prometheus.Counter
	CriticalMismatches   prometheus.Counter
	ReconcileRequeued    prometheus.Counter
	ReconcileAlerts      prometheus.Counter
	gatherer             prometheus.Gatherer
}

// NewDefault registers metrics with the default Prometheus registry.
func NewDefault() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// New registers metrics with the provided registry. If registry is nil, a new
// isolated registry is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		ModificationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_modification_total",
			Help: "Total order modifications by operation and outcome.",
		}, []string{"op", "outcome"}),
		AdjustmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authorization_adjustment_latency_seconds",
			Help:    "Authorization amount adjustment latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		GatewayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total retried gateway calls.",
		}),
		CriticalMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authorization_mismatch_total",
			Help: "Total authorization/local-commit mismatches requiring operator attention.",
		}),
		ReconcileRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_capture_requeued_total",
			Help: "Total capture jobs re-queued by the reconciliation job.",
		}),
		ReconcileAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_alerts_total",
			Help: "Total critical alerts raised by the reconciliation job.",
		}),
		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.ModificationOutcomes,
		m.AdjustmentLatency,
		m.GatewayRetries,
		m.CriticalMismatches,
		m.ReconcileRequeued,
		m.ReconcileAlerts,
	)
	return m
}

// Handler returns the HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
