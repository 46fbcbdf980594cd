package logging

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
)

// Recorder persists dispatch outcomes to a LogStore from a background
// goroutine. RecordOutcome never blocks the caller and never drops a record:
// outcomes queue in memory until the writer catches up.
type Recorder struct {
	store LogStore
	log   logger.Logger

	mu    sync.Mutex
	queue []LogRecord
	wake  chan struct{}
}

// NewRecorder returns a recorder writing to store. A nil store makes every
// call a no-op.
func NewRecorder(store LogStore, log logger.Logger) *Recorder {
	return &Recorder{store: store, log: logger.OrNop(log), wake: make(chan struct{}, 1)}
}

// RecordOutcome queues out for persistence.
func (r *Recorder) RecordOutcome(out model.Outcome, at time.Time) {
	if r == nil || r.store == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	r.mu.Lock()
	r.queue = append(r.queue, NewLogRecord(out, at))
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start writes queued outcomes until ctx is canceled, then flushes what is
// left. The returned channel is closed once the final flush is done.
func (r *Recorder) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if r == nil || r.store == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				r.flush()
				return
			case <-r.wake:
				r.flush()
			}
		}
	}()
	return done
}

func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()
	for _, rec := range batch {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Append(wctx, rec); err != nil {
			r.log.Errorf("append dispatch log for %s: %v", rec.RequestID, err)
		}
		cancel()
	}
}
