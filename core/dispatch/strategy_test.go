package dispatch

import (
	"testing"
	"time"

	"github.com/kilianp07/shiprelay/core/factory"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/registry"
)

func TestNewStrategyFromConfig(t *testing.T) {
	s, err := NewStrategy(factory.ModuleConfig{
		Type: "fallback",
		Conf: map[string]any{"step_timeout_seconds": "5", "deadline_seconds": 60},
	})
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	seq, ok := s.(*SequentialFallback)
	if !ok {
		t.Fatalf("expected *SequentialFallback, got %T", s)
	}
	if seq.StepTimeout != 5*time.Second || seq.Deadline != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", seq)
	}

	s, err = NewStrategy(factory.ModuleConfig{Type: "race", Conf: map[string]any{"send_concurrency": 2}})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	b, ok := s.(*BroadcastRace)
	if !ok {
		t.Fatalf("expected *BroadcastRace, got %T", s)
	}
	if b.Deadline != DefaultBroadcastDeadline || b.SendConcurrency != 2 {
		t.Fatalf("unexpected broadcast config: %+v", b)
	}

	if _, err := NewStrategy(factory.ModuleConfig{Type: "lottery"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestCoordinatorFillsMissingStrategies(t *testing.T) {
	c, err := NewCoordinator(Config{
		Strategies: []factory.ModuleConfig{{Type: "broadcast", Conf: map[string]any{"deadline_seconds": 3}}},
	}, registry.New(), newRecordingSender(), nil, nil)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	seq, ok := c.Strategy(model.StrategySequential)
	if !ok || seq.(*SequentialFallback).StepTimeout != DefaultStepTimeout {
		t.Fatalf("sequential default missing: %v", seq)
	}
	b, ok := c.Strategy(model.StrategyBroadcast)
	if !ok || b.(*BroadcastRace).Deadline != 3*time.Second {
		t.Fatalf("broadcast config not applied: %v", b)
	}
}
