package events

import (
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// OutcomeEvent is emitted once per dispatch when it resolves.
type OutcomeEvent struct {
	Outcome model.Outcome
	Time    time.Time
}

// PresenceEvent is emitted by the lifecycle manager when an actor binding
// changes.
type PresenceEvent struct {
	Actor  model.ActorID
	Conn   model.ConnID
	Online bool
	// Bound is the number of bound actors after the change.
	Bound int
	Time  time.Time
}
