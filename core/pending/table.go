// Package pending tracks in-flight dispatch requests awaiting resolution.
//
// Every request is resolved exactly once: by the first acceptance, by its
// deadline, by exhaustion of candidates or by cancellation. Resolution is
// decided under the table lock so a deadline firing concurrently with an
// acceptance yields a single outcome.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
)

// ErrDuplicateRequest is returned by Begin when the request id is already
// pending.
var ErrDuplicateRequest = errors.New("duplicate request")

// Result describes what RecordResponse did with a response.
type Result int

const (
	// UnknownRequest means no pending entry matched; the response was dropped.
	UnknownRequest Result = iota
	// FirstAcceptance means the response resolved the request.
	FirstAcceptance
	// RejectedContinue means the rejection was recorded and the request is
	// still pending.
	RejectedContinue
	// Ignored means the request is pending but not awaiting this actor.
	Ignored
)

func (r Result) String() string {
	switch r {
	case FirstAcceptance:
		return "first_acceptance"
	case RejectedContinue:
		return "rejected"
	case Ignored:
		return "ignored"
	default:
		return "unknown_request"
	}
}

// EventType is delivered to the strategy waiting on a request.
type EventType int

const (
	EventAccepted EventType = iota + 1
	EventRejected
	EventStepTimeout
	EventExpired
	EventCancelled
	EventExhausted
)

// Event wakes the strategy owning a request.
type Event struct {
	Type     EventType
	Response model.Response
}

// Terminal reports whether the event resolved the request.
func (e Event) Terminal() bool {
	return e.Type != EventRejected && e.Type != EventStepTimeout
}

// Table is the set of pending requests. The zero value is not usable; use New.
type Table struct {
	mu      sync.Mutex
	clock   clock.Clock
	log     logger.Logger
	entries map[model.RequestID]*entry
}

type entry struct {
	id         model.RequestID
	deadlineAt time.Time
	timer      *clock.Timer
	step       *clock.Timer
	stepGen    uint64
	awaiting   map[model.ActorID]struct{}
	responses  []model.Response
	queue      []Event
	wake       chan struct{}
	resolved   bool
	final      Event
}

// New creates an empty table. A nil clock uses the wall clock.
func New(clk clock.Clock, log logger.Logger) *Table {
	if clk == nil {
		clk = clock.New()
	}
	return &Table{clock: clk, log: logger.OrNop(log), entries: make(map[model.RequestID]*entry)}
}

// Begin registers a pending request. A positive timeout arms the request
// deadline; zero means the request only ends through responses,
// exhaustion or cancellation.
func (t *Table) Begin(id model.RequestID, timeout time.Duration) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return nil, ErrDuplicateRequest
	}
	e := &entry{
		id:       id,
		awaiting: make(map[model.ActorID]struct{}),
		wake:     make(chan struct{}, 1),
	}
	if timeout > 0 {
		e.deadlineAt = t.clock.Now().Add(timeout)
		e.timer = t.clock.AfterFunc(timeout, func() { t.expireEntry(e) })
	}
	t.entries[id] = e
	return &Handle{t: t, e: e}, nil
}

// RecordResponse correlates a response with its pending request by id.
func (t *Table) RecordResponse(resp model.Response) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[resp.RequestID]
	if !ok {
		t.log.Warnf("dropping response from %s for unknown request %s", resp.Actor, resp.RequestID)
		return UnknownRequest
	}
	if _, ok := e.awaiting[resp.Actor]; !ok {
		t.log.Warnf("ignoring response from %s: request %s is not awaiting it", resp.Actor, resp.RequestID)
		return Ignored
	}
	e.responses = append(e.responses, resp)
	if resp.Accepted {
		t.resolveLocked(e, Event{Type: EventAccepted, Response: resp})
		return FirstAcceptance
	}
	delete(e.awaiting, resp.Actor)
	if len(e.awaiting) == 0 {
		t.stopStepLocked(e)
	}
	e.push(Event{Type: EventRejected, Response: resp})
	return RejectedContinue
}

// Expire resolves the request as timed out. It returns false if the request
// was no longer pending.
func (t *Table) Expire(id model.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	t.resolveLocked(e, Event{Type: EventExpired})
	return true
}

// Cancel terminates the request early without notifying candidates.
func (t *Table) Cancel(id model.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false
	}
	t.resolveLocked(e, Event{Type: EventCancelled})
	return true
}

// Pending reports whether id is in flight.
func (t *Table) Pending(id model.RequestID) bool {
	t.mu.Lock()
	_, ok := t.entries[id]
	t.mu.Unlock()
	return ok
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// expireEntry is the deadline timer callback. It carries the entry itself so
// a stale timer never expires a newer request reusing the id.
func (t *Table) expireEntry(e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved {
		return
	}
	t.log.Debugf("request %s reached its deadline", e.id)
	t.resolveLocked(e, Event{Type: EventExpired})
}

func (t *Table) stepTimeout(e *entry, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved || gen != e.stepGen {
		return
	}
	e.awaiting = make(map[model.ActorID]struct{})
	e.step = nil
	e.push(Event{Type: EventStepTimeout})
}

func (t *Table) resolveLocked(e *entry, ev Event) {
	if e.resolved {
		return
	}
	e.resolved = true
	e.final = ev
	if cur, ok := t.entries[e.id]; ok && cur == e {
		delete(t.entries, e.id)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	t.stopStepLocked(e)
	e.awaiting = nil
	e.push(ev)
}

func (t *Table) stopStepLocked(e *entry) {
	if e.step != nil {
		e.step.Stop()
		e.step = nil
	}
	e.stepGen++
}

func (e *entry) push(ev Event) {
	e.queue = append(e.queue, ev)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Handle gives the strategy owning a request access to its entry.
type Handle struct {
	t *Table
	e *entry
}

// ID returns the request id.
func (h *Handle) ID() model.RequestID { return h.e.id }

// Deadline returns the request deadline, zero when none was set.
func (h *Handle) Deadline() time.Time { return h.e.deadlineAt }

// Arm starts the request deadline of a request begun without one. It returns
// false when the request is resolved or a deadline is already armed.
func (h *Handle) Arm(timeout time.Duration) bool {
	t, e := h.t, h.e
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved || e.timer != nil || timeout <= 0 {
		return false
	}
	e.deadlineAt = t.clock.Now().Add(timeout)
	e.timer = t.clock.AfterFunc(timeout, func() { t.expireEntry(e) })
	return true
}

// Await sets the actors whose responses the request currently accepts and
// arms a step timer. A positive timeout delivers EventStepTimeout when no
// awaited actor answered in time. Stale non-terminal events of the previous
// step are discarded. It returns false once the request is resolved.
func (h *Handle) Await(timeout time.Duration, actors ...model.ActorID) bool {
	t, e := h.t, h.e
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved {
		return false
	}
	t.stopStepLocked(e)
	e.queue = e.queue[:0]
	e.awaiting = make(map[model.ActorID]struct{}, len(actors))
	for _, a := range actors {
		e.awaiting[a] = struct{}{}
	}
	if timeout > 0 {
		gen := e.stepGen
		e.step = t.clock.AfterFunc(timeout, func() { t.stepTimeout(e, gen) })
	}
	return true
}

// Wait blocks until the next event for the request or until ctx is done.
// Once the request is resolved, Wait keeps returning the terminal event.
func (h *Handle) Wait(ctx context.Context) (Event, error) {
	e := h.e
	for {
		h.t.mu.Lock()
		if len(e.queue) > 0 {
			ev := e.queue[0]
			e.queue = e.queue[1:]
			h.t.mu.Unlock()
			return ev, nil
		}
		if e.resolved {
			ev := e.final
			h.t.mu.Unlock()
			return ev, nil
		}
		h.t.mu.Unlock()
		select {
		case <-e.wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Exhaust resolves the request because no candidate is left. It returns
// false if something else resolved the request first; the caller should then
// Wait for the terminal event.
func (h *Handle) Exhaust() bool {
	t, e := h.t, h.e
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved {
		return false
	}
	t.resolveLocked(e, Event{Type: EventExhausted})
	// the owner decided this itself, nothing to wake
	e.queue = e.queue[:0]
	return true
}

// Cancel resolves the request as cancelled. It returns false if the request
// was already resolved.
func (h *Handle) Cancel() bool {
	t, e := h.t, h.e
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.resolved {
		return false
	}
	t.resolveLocked(e, Event{Type: EventCancelled})
	return true
}

// Responses returns a copy of the responses recorded so far.
func (h *Handle) Responses() []model.Response {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return append([]model.Response(nil), h.e.responses...)
}
