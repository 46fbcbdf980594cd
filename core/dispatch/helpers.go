package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kilianp07/shiprelay/core/events"
	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
	"github.com/kilianp07/shiprelay/core/transport"
)

// ErrUnreachable marks a candidate without a live connection.
var ErrUnreachable = errors.New("candidate unreachable")

// Directory resolves an actor to its current connection.
type Directory interface {
	Lookup(actor model.ActorID) (model.ConnID, bool)
}

// Env is what a strategy may use while running.
type Env struct {
	Directory Directory
	Sender    transport.Sender
	Log       logger.Logger
	Clock     clock.Clock
	// Report receives one event per contacted or skipped candidate.
	Report func(events.SendEvent)
}

func (e Env) report(ev events.SendEvent) {
	if e.Report != nil {
		e.Report(ev)
	}
}

func (e Env) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

// lookup resolves a candidate, reporting it as skipped when offline.
func (e Env) lookup(strategy string, id model.RequestID, actor model.ActorID) (model.ConnID, bool) {
	conn, ok := e.Directory.Lookup(actor)
	if !ok {
		sendFailures.WithLabelValues(strategy, "unreachable").Inc()
		e.Log.Debugf("request %s: skipping %s, no live connection", id, actor)
		e.report(events.SendEvent{RequestID: id, Actor: actor, Strategy: strategy, Err: ErrUnreachable, Time: e.now()})
	}
	return conn, ok
}

// send delivers the shipment request to one connection. A failure means the
// candidate is treated as unreachable.
func (e Env) send(ctx context.Context, strategy string, req model.DispatchRequest, actor model.ActorID, conn model.ConnID) error {
	msg := model.ShipmentRequest{RequestID: req.ID, Payload: req.Payload}
	err := e.Sender.Send(ctx, conn, msg)
	ev := events.SendEvent{RequestID: req.ID, Actor: actor, Conn: conn, Strategy: strategy, Time: e.now()}
	if err != nil {
		err = fmt.Errorf("send to %s: %w", actor, err)
		sendFailures.WithLabelValues(strategy, "send_error").Inc()
		e.Log.Warnf("request %s: %v", req.ID, err)
		ev.Err = err
	} else {
		requestsSent.WithLabelValues(strategy).Inc()
	}
	e.report(ev)
	return err
}

// rankOrder returns the candidates sorted by ascending rank, keeping input
// order between equal ranks and dropping repeated actors.
func rankOrder(in []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(in))
	seen := make(map[model.ActorID]struct{}, len(in))
	for _, c := range in {
		if _, dup := seen[c.Actor]; dup || c.Actor == "" {
			continue
		}
		seen[c.Actor] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// await returns the next event. When ctx ends first the request is cancelled
// and whatever resolved it is returned.
func await(ctx context.Context, h *pending.Handle) pending.Event {
	ev, err := h.Wait(ctx)
	if err == nil {
		return ev
	}
	h.Cancel()
	return settle(h)
}

// settle drains non-terminal events of a resolved request.
func settle(h *pending.Handle) pending.Event {
	for {
		ev, _ := h.Wait(context.Background())
		if ev.Terminal() {
			return ev
		}
	}
}

// finish maps a terminal event on the outcome. expired is the status used
// when the request deadline fired.
func finish(out model.Outcome, ev pending.Event, expired model.OutcomeStatus) model.Outcome {
	switch ev.Type {
	case pending.EventAccepted:
		out.Status = model.OutcomeAccepted
		out.Winner = ev.Response.Actor
	case pending.EventExpired:
		out.Status = expired
	case pending.EventCancelled:
		out.Status = model.OutcomeCancelled
	default:
		out.Status = model.OutcomeExhausted
	}
	return out
}
