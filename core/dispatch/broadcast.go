package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
)

// BroadcastRace sends the request to every live candidate at once. The first
// acceptance wins; rejections do not end the race; at the deadline the
// dispatch fails with no response.
type BroadcastRace struct {
	Deadline        time.Duration
	SendConcurrency int
}

// NewBroadcastRace returns the strategy, applying the default deadline when
// deadline is not positive.
func NewBroadcastRace(deadline time.Duration) *BroadcastRace {
	if deadline <= 0 {
		deadline = DefaultBroadcastDeadline
	}
	return &BroadcastRace{Deadline: deadline, SendConcurrency: DefaultSendConcurrency}
}

func (b *BroadcastRace) Kind() model.StrategyKind { return model.StrategyBroadcast }

func (b *BroadcastRace) Empty(req model.DispatchRequest) model.Outcome {
	return model.Outcome{RequestID: req.ID, Status: model.OutcomeNoResponse}
}

type target struct {
	actor model.ActorID
	conn  model.ConnID
}

func (b *BroadcastRace) Run(ctx context.Context, env Env, h *pending.Handle, req model.DispatchRequest) model.Outcome {
	name := b.Kind().String()
	out := model.Outcome{RequestID: req.ID}

	var targets []target
	for _, c := range rankOrder(req.Candidates) {
		if conn, ok := env.lookup(name, req.ID, c.Actor); ok {
			targets = append(targets, target{actor: c.Actor, conn: conn})
		}
	}
	if len(targets) == 0 {
		return b.giveUp(h, out)
	}

	actors := make([]model.ActorID, len(targets))
	for i, t := range targets {
		actors[i] = t.actor
	}
	// await before sending so an instant answer is not dropped
	if !h.Await(0, actors...) {
		return finish(out, settle(h), model.OutcomeNoResponse)
	}
	h.Arm(b.Deadline)

	sent := make([]bool, len(targets))
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	if b.SendConcurrency > 0 {
		g.SetLimit(b.SendConcurrency)
	}
	for i, t := range targets {
		g.Go(func() error {
			if err := env.send(ctx, name, req, t.actor, t.conn); err != nil {
				return nil
			}
			mu.Lock()
			sent[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	for i, ok := range sent {
		if ok {
			out.Contacted = append(out.Contacted, targets[i].actor)
		}
	}
	if len(out.Contacted) == 0 {
		return b.giveUp(h, out)
	}

	for {
		ev := await(ctx, h)
		if ev.Terminal() {
			return finish(out, ev, model.OutcomeNoResponse)
		}
		if ev.Type == pending.EventRejected {
			env.Log.Debugf("request %s: %s declined", req.ID, ev.Response.Actor)
		}
	}
}

// giveUp resolves a request nobody could be sent to.
func (b *BroadcastRace) giveUp(h *pending.Handle, out model.Outcome) model.Outcome {
	if h.Exhaust() {
		out.Status = model.OutcomeNoResponse
		return out
	}
	return finish(out, settle(h), model.OutcomeNoResponse)
}
