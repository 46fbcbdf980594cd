package events

import (
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// SendEvent is published when a strategy contacts a candidate. Err is set
// when the candidate was skipped because it was unreachable.
type SendEvent struct {
	RequestID model.RequestID
	Actor     model.ActorID
	Conn      model.ConnID
	Strategy  string
	Err       error
	Time      time.Time
}
