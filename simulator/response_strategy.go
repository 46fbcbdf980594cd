package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

// ResponseStrategy decides how a simulated actor answers a shipment request.
// answer is false when the actor stays silent.
type ResponseStrategy interface {
	Decide(ctx context.Context, actor model.ActorID, req model.ShipmentRequest) (accept, answer bool)
}

// AlwaysAccept accepts every request after an optional fixed delay.
type AlwaysAccept struct {
	Delay time.Duration
}

// Decide implements ResponseStrategy.
func (a AlwaysAccept) Decide(ctx context.Context, _ model.ActorID, _ model.ShipmentRequest) (bool, bool) {
	return true, sleep(ctx, a.Delay)
}

// AlwaysReject rejects every request after an optional fixed delay.
type AlwaysReject struct {
	Delay time.Duration
}

// Decide implements ResponseStrategy.
func (a AlwaysReject) Decide(ctx context.Context, _ model.ActorID, _ model.ShipmentRequest) (bool, bool) {
	return false, sleep(ctx, a.Delay)
}

// RandomResponse stays silent with DropRate probability, otherwise accepts
// with AcceptRate probability. Delay is drawn uniformly in [0, Delay].
type RandomResponse struct {
	Delay      time.Duration
	DropRate   float64
	AcceptRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomResponse seeds a RandomResponse.
func NewRandomResponse(delay time.Duration, dropRate, acceptRate float64, seed int64) *RandomResponse {
	return &RandomResponse{Delay: delay, DropRate: dropRate, AcceptRate: acceptRate, rng: rand.New(rand.NewSource(seed))}
}

// Decide implements ResponseStrategy.
func (r *RandomResponse) Decide(ctx context.Context, _ model.ActorID, _ model.ShipmentRequest) (bool, bool) {
	r.mu.Lock()
	drop := r.DropRate > 0 && r.rng.Float64() < r.DropRate
	accept := r.rng.Float64() < r.AcceptRate
	var d time.Duration
	if r.Delay > 0 {
		d = time.Duration(r.rng.Int63n(int64(r.Delay) + 1))
	}
	r.mu.Unlock()
	if drop {
		return false, false
	}
	return accept, sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func newStrategy(cfg Config) (ResponseStrategy, error) {
	switch cfg.Strategy {
	case "", "accept":
		return AlwaysAccept{Delay: cfg.Delay}, nil
	case "reject":
		return AlwaysReject{Delay: cfg.Delay}, nil
	case "random":
		return NewRandomResponse(cfg.Delay, cfg.DropRate, cfg.AcceptRate, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown response strategy %q", cfg.Strategy)
	}
}
