package events

import (
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// ResponseEvent is published for each inbound response after correlation.
// Result is the pending table verdict (first_acceptance, rejected, ...).
type ResponseEvent struct {
	RequestID model.RequestID
	Actor     model.ActorID
	Accepted  bool
	Result    string
	Time      time.Time
}
