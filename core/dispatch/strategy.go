package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/shiprelay/core/factory"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
)

const (
	// DefaultStepTimeout bounds how long a sequential candidate may think.
	DefaultStepTimeout = 300 * time.Second
	// DefaultBroadcastDeadline bounds a broadcast race.
	DefaultBroadcastDeadline = 30 * time.Second
	// DefaultSendConcurrency caps parallel sends of a broadcast.
	DefaultSendConcurrency = 16
)

// Strategy decides which candidates receive a request and when the request
// resolves. Run owns the pending entry behind h until it returns and must
// leave it resolved.
type Strategy interface {
	Kind() model.StrategyKind
	Run(ctx context.Context, env Env, h *pending.Handle, req model.DispatchRequest) model.Outcome
	// Empty is the outcome of a request without candidates.
	Empty(req model.DispatchRequest) model.Outcome
}

var strategyRegistry = factory.NewRegistry[Strategy]()

func init() {
	_ = RegisterStrategy(model.StrategySequential.String(), func(conf map[string]any) (Strategy, error) {
		var c struct {
			StepTimeoutSeconds int `json:"step_timeout_seconds"`
			DeadlineSeconds    int `json:"deadline_seconds"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSequentialFallback(seconds(c.StepTimeoutSeconds), seconds(c.DeadlineSeconds)), nil
	})
	_ = RegisterStrategy(model.StrategyBroadcast.String(), func(conf map[string]any) (Strategy, error) {
		var c struct {
			DeadlineSeconds int `json:"deadline_seconds"`
			SendConcurrency int `json:"send_concurrency"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		b := NewBroadcastRace(seconds(c.DeadlineSeconds))
		if c.SendConcurrency > 0 {
			b.SendConcurrency = c.SendConcurrency
		}
		return b, nil
	})
}

// RegisterStrategy adds a strategy factory identified by name.
func RegisterStrategy(name string, f factory.Factory[Strategy]) error {
	return strategyRegistry.Register(name, f)
}

// NewStrategy builds a strategy from its configuration. Type accepts the
// aliases understood by model.ParseStrategyKind.
func NewStrategy(cfg factory.ModuleConfig) (Strategy, error) {
	if k, err := model.ParseStrategyKind(cfg.Type); err == nil {
		cfg.Type = k.String()
	}
	return strategyRegistry.Create(cfg)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
