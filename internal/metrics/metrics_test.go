package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountersAndHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.AdjustmentLatency.Observe((150 * time.Millisecond).Seconds())
	m.ModificationOutcomes.WithLabelValues(OpUpdateQuantity, OutcomeSucceeded).Inc()
	m.CriticalMismatches.Inc()
	m.ReconcileRequeued.Inc()

	if got := testutil.ToFloat64(m.ModificationOutcomes.WithLabelValues(OpUpdateQuantity, OutcomeSucceeded)); got != 1 {
		t.Fatalf("expected modification counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.CriticalMismatches); got != 1 {
		t.Fatalf("expected mismatch counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReconcileRequeued); got != 1 {
		t.Fatalf("expected requeued counter 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.AdjustmentLatency); got != 1 {
		t.Fatalf("expected latency histogram collect count 1, got %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ReconcileAlerts.Inc()
	m.GatewayRetries.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "reconcile_alerts_total") {
		t.Fatalf("expected reconcile_alerts_total in response")
	}
	if !strings.Contains(body, "gateway_retries_total") {
		t.Fatalf("expected gateway_retries_total in response")
	}
	if !strings.Contains(body, "order_modification_total") {
		t.Fatalf("expected order_modification_total in response")
	}
}
