package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsSent     *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	responsesTotal   *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	pendingRequests  prometheus.Gauge
)

type collectors struct {
	sent     *prometheus.CounterVec
	failures *prometheus.CounterVec
	resp     *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
}

// newCollectors creates new metric collectors.
func newCollectors() collectors {
	return collectors{
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipment_requests_sent_total",
				Help: "Number of shipment requests handed to the transport",
			},
			[]string{"strategy"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipment_request_skipped_total",
				Help: "Number of candidates skipped because they were unreachable",
			},
			[]string{"strategy", "reason"},
		),
		resp: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipment_responses_total",
				Help: "Inbound shipment responses by correlation result",
			},
			[]string{"result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_outcomes_total",
				Help: "Resolved dispatches by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_duration_seconds",
				Help:    "Time from dispatch start to resolution",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"strategy"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_pending_requests",
				Help: "Dispatches currently awaiting resolution",
			},
		),
	}
}

func (c collectors) install() {
	requestsSent = c.sent
	sendFailures = c.failures
	responsesTotal = c.resp
	outcomesTotal = c.outcomes
	dispatchDuration = c.duration
	pendingRequests = c.pending
}

func init() {
	newCollectors().install()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsSent, sendFailures, responsesTotal, outcomesTotal, dispatchDuration, pendingRequests)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors().install()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
