package metrics

import (
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// OutcomeRecord is the resolution of one dispatch as seen by metric sinks.
type OutcomeRecord struct {
	RequestID model.RequestID
	Strategy  string
	Status    model.OutcomeStatus
	Winner    model.ActorID
	Contacted int
	Duration  time.Duration
	Time      time.Time
}

// NewOutcomeRecord flattens an outcome for the sinks.
func NewOutcomeRecord(o model.Outcome, at time.Time) OutcomeRecord {
	return OutcomeRecord{
		RequestID: o.RequestID,
		Strategy:  o.Strategy,
		Status:    o.Status,
		Winner:    o.Winner,
		Contacted: len(o.Contacted),
		Duration:  o.Duration,
		Time:      at,
	}
}

// MetricsSink records dispatch outcomes for observability purposes.
type MetricsSink interface {
	RecordOutcome(rec OutcomeRecord) error
}

// ResponseRecord is an inbound response after correlation.
type ResponseRecord struct {
	RequestID model.RequestID
	Actor     model.ActorID
	Accepted  bool
	Result    string
	Time      time.Time
}

// ResponseRecorder records correlated responses.
type ResponseRecorder interface {
	RecordResponse(rec ResponseRecord) error
}

// RegistrySizeRecorder records the number of actors currently reachable.
type RegistrySizeRecorder interface {
	RecordRegistrySize(size int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOutcome(OutcomeRecord) error   { return nil }
func (NopSink) RecordResponse(ResponseRecord) error { return nil }
func (NopSink) RecordRegistrySize(int) error        { return nil }

// SendRecord is a shipment request handed to the transport, or skipped when
// Err is set.
type SendRecord struct {
	RequestID model.RequestID
	Actor     model.ActorID
	Strategy  string
	Err       string
	Time      time.Time
}

// SendRecorder records outbound shipment requests.
type SendRecorder interface {
	RecordSend(rec SendRecord) error
}

func (NopSink) RecordSend(SendRecord) error { return nil }
