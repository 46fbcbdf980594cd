package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kilianp07/shiprelay/core/events"
	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/metrics"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
	"github.com/kilianp07/shiprelay/core/transport"
	"github.com/kilianp07/shiprelay/internal/eventbus"
)

// ErrDuplicateRequest is returned by Dispatch when the request id is already
// in flight. It is the same error as pending.ErrDuplicateRequest.
var ErrDuplicateRequest = pending.ErrDuplicateRequest

var (
	ErrInvalidRequest  = errors.New("invalid dispatch request")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Coordinator runs dispatches and correlates inbound responses with them.
// Each Dispatch blocks only its calling goroutine; any number may run at once.
type Coordinator struct {
	table      *pending.Table
	strategies map[model.StrategyKind]Strategy
	directory  Directory
	sender     transport.Sender
	clock      clock.Clock
	logger     logger.Logger

	mu       sync.RWMutex
	metrics  metrics.MetricsSink
	bus      eventbus.EventBus
	recorder OutcomeRecorder
}

// OutcomeRecorder persists every resolved outcome. Unlike bus subscribers it
// must not lose records, and it must not block the dispatch.
type OutcomeRecorder interface {
	RecordOutcome(out model.Outcome, at time.Time)
}

// NewCoordinator builds the strategies described by cfg. Kinds missing from
// cfg.Strategies use their defaults. A nil clock uses the wall clock.
func NewCoordinator(cfg Config, dir Directory, sender transport.Sender, clk clock.Clock, log logger.Logger) (*Coordinator, error) {
	if dir == nil || sender == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCoordinator")
	}
	if clk == nil {
		clk = clock.New()
	}
	log = logger.OrNop(log)
	c := &Coordinator{
		table:      pending.New(clk, log),
		strategies: make(map[model.StrategyKind]Strategy),
		directory:  dir,
		sender:     sender,
		clock:      clk,
		logger:     log,
		metrics:    metrics.NopSink{},
	}
	for _, sc := range cfg.Strategies {
		s, err := NewStrategy(sc)
		if err != nil {
			return nil, fmt.Errorf("dispatch: strategy %s: %w", sc.Type, err)
		}
		c.strategies[s.Kind()] = s
	}
	if _, ok := c.strategies[model.StrategySequential]; !ok {
		c.strategies[model.StrategySequential] = NewSequentialFallback(0, 0)
	}
	if _, ok := c.strategies[model.StrategyBroadcast]; !ok {
		c.strategies[model.StrategyBroadcast] = NewBroadcastRace(0)
	}
	return c, nil
}

// SetMetricsSink configures where outcomes and responses are recorded.
func (c *Coordinator) SetMetricsSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c.mu.Lock()
	c.metrics = sink
	c.mu.Unlock()
}

// SetOutcomeRecorder configures where resolved outcomes are persisted.
func (c *Coordinator) SetOutcomeRecorder(r OutcomeRecorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// SetEventBus configures the bus receiving send, response and outcome events.
func (c *Coordinator) SetEventBus(bus eventbus.EventBus) {
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()
}

// Strategy returns the strategy registered for kind.
func (c *Coordinator) Strategy(kind model.StrategyKind) (Strategy, bool) {
	s, ok := c.strategies[kind]
	return s, ok
}

// Dispatch delivers req to its candidates with the strategy of the given kind
// and blocks until exactly one outcome is reached. A duplicate id yields an
// OutcomeDuplicate outcome together with ErrDuplicateRequest; timeouts and
// exhaustion are outcomes, not errors. Cancelling ctx cancels the dispatch.
func (c *Coordinator) Dispatch(ctx context.Context, req model.DispatchRequest, kind model.StrategyKind) (model.Outcome, error) {
	if req.ID == "" {
		return model.Outcome{}, fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}
	strat, ok := c.strategies[kind]
	if !ok {
		return model.Outcome{}, fmt.Errorf("%w: %v", ErrUnknownStrategy, kind)
	}
	start := c.clock.Now()

	if len(req.Candidates) == 0 {
		if c.table.Pending(req.ID) {
			return c.duplicate(strat, req.ID, start)
		}
		out := strat.Empty(req)
		c.logger.Infof("request %s has no candidates", req.ID)
		return c.complete(strat, out, start), nil
	}

	h, err := c.table.Begin(req.ID, 0)
	if err != nil {
		return c.duplicate(strat, req.ID, start)
	}
	pendingRequests.Inc()
	defer pendingRequests.Dec()

	c.logger.Debugw("dispatch started", map[string]any{
		"request_id": string(req.ID),
		"strategy":   strat.Kind().String(),
		"candidates": len(req.Candidates),
	})
	out := strat.Run(ctx, c.env(), h, req)
	return c.complete(strat, out, start), nil
}

// OnResponse correlates an inbound answer with its pending request. Nothing
// is mutated when the request is not pending.
func (c *Coordinator) OnResponse(resp model.Response) pending.Result {
	res := c.table.RecordResponse(resp)
	responsesTotal.WithLabelValues(res.String()).Inc()

	c.mu.RLock()
	sink, bus := c.metrics, c.bus
	c.mu.RUnlock()
	now := c.clock.Now()
	if rr, ok := sink.(metrics.ResponseRecorder); ok {
		if err := rr.RecordResponse(metrics.ResponseRecord{
			RequestID: resp.RequestID, Actor: resp.Actor, Accepted: resp.Accepted, Result: res.String(), Time: now,
		}); err != nil {
			c.logger.Errorf("response metrics error: %v", err)
		}
	}
	if bus != nil {
		bus.Publish(events.ResponseEvent{
			RequestID: resp.RequestID, Actor: resp.Actor, Accepted: resp.Accepted, Result: res.String(), Time: now,
		})
	}
	return res
}

// Cancel terminates a pending dispatch early. Candidates already contacted
// are not notified. It returns false when id is not pending.
func (c *Coordinator) Cancel(id model.RequestID) bool {
	ok := c.table.Cancel(id)
	if ok {
		c.logger.Infof("request %s cancelled", id)
	}
	return ok
}

// Pending reports whether id is being dispatched.
func (c *Coordinator) Pending(id model.RequestID) bool {
	return c.table.Pending(id)
}

func (c *Coordinator) duplicate(strat Strategy, id model.RequestID, start time.Time) (model.Outcome, error) {
	c.logger.Warnf("request %s is already being dispatched", id)
	out := model.Outcome{RequestID: id, Status: model.OutcomeDuplicate}
	return c.complete(strat, out, start), ErrDuplicateRequest
}

func (c *Coordinator) env() Env {
	c.mu.RLock()
	bus := c.bus
	c.mu.RUnlock()
	env := Env{Directory: c.directory, Sender: c.sender, Log: c.logger, Clock: c.clock}
	if bus != nil {
		env.Report = func(ev events.SendEvent) { bus.Publish(ev) }
	}
	return env
}

// complete stamps the outcome and reports it to metrics, the recorder and
// the event bus.
func (c *Coordinator) complete(strat Strategy, out model.Outcome, start time.Time) model.Outcome {
	now := c.clock.Now()
	name := strat.Kind().String()
	out.Strategy = name
	out.Duration = now.Sub(start)

	outcomesTotal.WithLabelValues(name, out.Status.String()).Inc()
	if out.Status != model.OutcomeDuplicate {
		dispatchDuration.WithLabelValues(name).Observe(out.Duration.Seconds())
	}

	c.mu.RLock()
	sink, bus, rec := c.metrics, c.bus, c.recorder
	c.mu.RUnlock()
	if err := sink.RecordOutcome(metrics.NewOutcomeRecord(out, now)); err != nil {
		c.logger.Errorf("outcome metrics error: %v", err)
	}
	if rec != nil {
		rec.RecordOutcome(out, now)
	}
	if bus != nil {
		bus.Publish(events.OutcomeEvent{Outcome: out, Time: now})
	}
	c.logger.Infow("dispatch resolved", map[string]any{
		"request_id": string(out.RequestID),
		"strategy":   name,
		"status":     out.Status.String(),
		"winner":     string(out.Winner),
		"contacted":  len(out.Contacted),
		"duration":   out.Duration.String(),
	})
	return out
}
