package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
)

// PromSink records dispatch outcomes in Prometheus metrics.
type PromSink struct {
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	contacted *prometheus.HistogramVec
	responses *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	actors    prometheus.Gauge
}

// NewPromSink registers relay metrics on the default Prometheus registerer.
// The metrics endpoint is served separately, see StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_outcomes_total",
			Help: "Resolved dispatches by strategy and status",
		}, []string{"strategy", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_dispatch_duration_seconds",
			Help:    "Time from dispatch start to resolution",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"strategy", "status"}),
		contacted: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_dispatch_contacted_actors",
			Help:    "Number of candidates a dispatch was sent to",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"strategy"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_responses_total",
			Help: "Shipment responses by correlation result",
		}, []string{"result", "accepted"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_send_skipped_total",
			Help: "Candidates skipped because they could not be reached",
		}, []string{"strategy"}),
		actors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected_actors",
			Help: "Actors currently bound to a live connection",
		}),
	}
	var err error
	if s.outcomes, err = register(reg, s.outcomes); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.contacted, err = register(reg, s.contacted); err != nil {
		return nil, err
	}
	if s.responses, err = register(reg, s.responses); err != nil {
		return nil, err
	}
	if s.skipped, err = register(reg, s.skipped); err != nil {
		return nil, err
	}
	if s.actors, err = register(reg, s.actors); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOutcome counts the outcome and observes its duration.
func (s *PromSink) RecordOutcome(rec coremetrics.OutcomeRecord) error {
	status := rec.Status.String()
	s.outcomes.WithLabelValues(rec.Strategy, status).Inc()
	s.duration.WithLabelValues(rec.Strategy, status).Observe(rec.Duration.Seconds())
	s.contacted.WithLabelValues(rec.Strategy).Observe(float64(rec.Contacted))
	return nil
}

// RecordResponse counts a correlated response.
func (s *PromSink) RecordResponse(rec coremetrics.ResponseRecord) error {
	accepted := "false"
	if rec.Accepted {
		accepted = "true"
	}
	s.responses.WithLabelValues(rec.Result, accepted).Inc()
	return nil
}

// RecordSend counts skipped candidates. Successful sends are already counted
// by the dispatch package.
func (s *PromSink) RecordSend(rec coremetrics.SendRecord) error {
	if rec.Err != "" {
		s.skipped.WithLabelValues(rec.Strategy).Inc()
	}
	return nil
}

// RecordRegistrySize sets the connected actors gauge.
func (s *PromSink) RecordRegistrySize(size int) error {
	s.actors.Set(float64(size))
	return nil
}
