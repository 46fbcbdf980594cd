package dispatch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	// touch metrics so they are exported
	requestsSent.WithLabelValues("sequential").Inc()
	sendFailures.WithLabelValues("sequential", "unreachable").Inc()
	responsesTotal.WithLabelValues("first_acceptance").Inc()
	outcomesTotal.WithLabelValues("broadcast", "accepted").Inc()
	dispatchDuration.WithLabelValues("broadcast").Observe(0.1)
	pendingRequests.Set(1)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[*mf.Name] = true
	}
	expected := []string{
		"shipment_requests_sent_total",
		"shipment_request_skipped_total",
		"shipment_responses_total",
		"dispatch_outcomes_total",
		"dispatch_duration_seconds",
		"dispatch_pending_requests",
	}
	for _, n := range expected {
		if !names[n] {
			t.Errorf("metric %s not registered", n)
		}
	}
}
