package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActorKind tags the type of entity behind a candidate.
type ActorKind string

const (
	KindDriver  ActorKind = "driver"
	KindCompany ActorKind = "company"
	KindUser    ActorKind = "user"
)

// Candidate is an actor eligible to receive a dispatch request. Rank only
// matters for sequential dispatch.
type Candidate struct {
	Actor ActorID   `json:"actor_id"`
	Rank  int       `json:"rank"`
	Kind  ActorKind `json:"kind,omitempty"`
}

// DispatchRequest is a job to deliver to candidates. Payload and Candidates
// are never mutated once dispatch begins.
type DispatchRequest struct {
	ID         RequestID       `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Candidates []Candidate     `json:"candidates"`
}

// Response is an actor's answer to a dispatch request.
type Response struct {
	RequestID RequestID `json:"request_id"`
	Actor     ActorID   `json:"actor_id"`
	Accepted  bool      `json:"accepted"`
}

// StrategyKind selects how candidates are contacted.
type StrategyKind int

const (
	// StrategySequential contacts one candidate at a time in rank order.
	StrategySequential StrategyKind = iota + 1
	// StrategyBroadcast contacts every live candidate at once.
	StrategyBroadcast
)

func (k StrategyKind) String() string {
	switch k {
	case StrategySequential:
		return "sequential"
	case StrategyBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// ParseStrategyKind converts a configuration value to a StrategyKind.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "sequential-fallback", "fallback":
		return StrategySequential, nil
	case "broadcast", "broadcast-race", "race":
		return StrategyBroadcast, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}

// OutcomeStatus is the terminal state of a dispatch.
type OutcomeStatus int

const (
	OutcomeAccepted OutcomeStatus = iota + 1
	OutcomeExhausted
	OutcomeNoResponse
	OutcomeDuplicate
	OutcomeCancelled
)

var outcomeNames = map[OutcomeStatus]string{
	OutcomeAccepted:   "accepted",
	OutcomeExhausted:  "exhausted",
	OutcomeNoResponse: "no_response",
	OutcomeDuplicate:  "duplicate",
	OutcomeCancelled:  "cancelled",
}

func (s OutcomeStatus) String() string {
	if n, ok := outcomeNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the status by name in logs and API responses.
func (s OutcomeStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name. "unknown" maps back to the zero value.
func (s *OutcomeStatus) UnmarshalText(b []byte) error {
	if string(b) == "unknown" {
		*s = 0
		return nil
	}
	for st, n := range outcomeNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown outcome status %q", b)
}

// Outcome is the resolution of a dispatch. Winner is set only when Status is
// OutcomeAccepted. Contacted lists the actors the request was sent to, in
// send order, so callers can notify the losers.
type Outcome struct {
	RequestID RequestID     `json:"request_id"`
	Strategy  string        `json:"strategy"`
	Status    OutcomeStatus `json:"status"`
	Winner    ActorID       `json:"winner,omitempty"`
	Contacted []ActorID     `json:"contacted,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Accepted reports whether a candidate took the request.
func (o Outcome) Accepted() bool { return o.Status == OutcomeAccepted }
