package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
)

// SequentialFallback offers the request to one candidate at a time in rank
// order. A candidate that rejects or stays silent for StepTimeout hands the
// request to the next one; offline candidates are skipped without waiting.
type SequentialFallback struct {
	StepTimeout time.Duration
	// Deadline optionally bounds the whole dispatch and ends it Exhausted.
	// Zero means the request ends only when a candidate accepts or the list
	// runs out.
	Deadline time.Duration
}

// NewSequentialFallback returns the strategy, applying the default step
// timeout when step is not positive.
func NewSequentialFallback(step, deadline time.Duration) *SequentialFallback {
	if step <= 0 {
		step = DefaultStepTimeout
	}
	return &SequentialFallback{StepTimeout: step, Deadline: deadline}
}

func (s *SequentialFallback) Kind() model.StrategyKind { return model.StrategySequential }

func (s *SequentialFallback) Empty(req model.DispatchRequest) model.Outcome {
	return model.Outcome{RequestID: req.ID, Status: model.OutcomeExhausted}
}

func (s *SequentialFallback) Run(ctx context.Context, env Env, h *pending.Handle, req model.DispatchRequest) model.Outcome {
	name := s.Kind().String()
	out := model.Outcome{RequestID: req.ID}
	if s.Deadline > 0 {
		h.Arm(s.Deadline)
	}
	for _, c := range rankOrder(req.Candidates) {
		conn, ok := env.lookup(name, req.ID, c.Actor)
		if !ok {
			continue
		}
		if !h.Await(s.StepTimeout, c.Actor) {
			// resolved from outside, e.g. cancelled or past its deadline
			return finish(out, settle(h), model.OutcomeExhausted)
		}
		if err := env.send(ctx, name, req, c.Actor, conn); err != nil {
			continue
		}
		out.Contacted = append(out.Contacted, c.Actor)

		ev := await(ctx, h)
		switch ev.Type {
		case pending.EventRejected:
			env.Log.Debugf("request %s: %s declined", req.ID, c.Actor)
		case pending.EventStepTimeout:
			env.Log.Debugf("request %s: %s did not answer within %s", req.ID, c.Actor, s.StepTimeout)
		default:
			return finish(out, ev, model.OutcomeExhausted)
		}
	}
	if h.Exhaust() {
		out.Status = model.OutcomeExhausted
		return out
	}
	// an acceptance or the deadline got there first
	return finish(out, settle(h), model.OutcomeExhausted)
}
