// Package logging persists dispatch outcomes for later inspection.
package logging

import (
	"context"
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// LogRecord captures one resolved dispatch.
type LogRecord struct {
	Timestamp  time.Time           `json:"timestamp"`
	RequestID  model.RequestID     `json:"request_id"`
	Strategy   string              `json:"strategy"`
	Status     model.OutcomeStatus `json:"status"`
	Winner     model.ActorID       `json:"winner,omitempty"`
	Contacted  []model.ActorID     `json:"contacted"`
	DurationMS int64               `json:"duration_ms"`
}

// NewLogRecord converts an outcome resolved at the given time.
func NewLogRecord(o model.Outcome, at time.Time) LogRecord {
	return LogRecord{
		Timestamp:  at,
		RequestID:  o.RequestID,
		Strategy:   o.Strategy,
		Status:     o.Status,
		Winner:     o.Winner,
		Contacted:  append([]model.ActorID(nil), o.Contacted...),
		DurationMS: o.Duration.Milliseconds(),
	}
}

// LogQuery defines filters for retrieving records. Zero fields match
// everything.
type LogQuery struct {
	Start     time.Time
	End       time.Time
	RequestID model.RequestID
	// ActorID matches records that contacted the actor.
	ActorID  model.ActorID
	Status   model.OutcomeStatus
	Strategy string
}

// Match reports whether r satisfies every filter of q.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RequestID != "" && r.RequestID != q.RequestID {
		return false
	}
	if q.Status != 0 && r.Status != q.Status {
		return false
	}
	if q.Strategy != "" && r.Strategy != q.Strategy {
		return false
	}
	if q.ActorID != "" {
		if r.Winner == q.ActorID {
			return true
		}
		for _, id := range r.Contacted {
			if id == q.ActorID {
				return true
			}
		}
		return false
	}
	return true
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}
