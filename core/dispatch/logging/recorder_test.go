package logging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/internal/eventbus"
)

type memStore struct {
	mu   sync.Mutex
	recs []LogRecord
}

func (m *memStore) Append(_ context.Context, r LogRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Query(_ context.Context, q LogQuery) ([]LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogRecord
	for _, r := range m.recs {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func TestRecorderPersistsOutcomes(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := rec.Start(ctx)

	rec.RecordOutcome(model.Outcome{RequestID: "r1", Status: model.OutcomeExhausted}, time.Now())

	assert.Eventually(t, func() bool {
		out, _ := store.Query(context.Background(), LogQuery{})
		return len(out) == 1
	}, time.Second, 5*time.Millisecond)

	out, err := store.Query(context.Background(), LogQuery{RequestID: "r1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.OutcomeExhausted, out[0].Status)

	cancel()
	<-done
}

func TestRecorderKeepsBurstBeyondBusBuffer(t *testing.T) {
	store := &memStore{}
	rec := NewRecorder(store, nil)
	n := 10 * eventbus.DefaultBuffer
	for i := 0; i < n; i++ {
		rec.RecordOutcome(model.Outcome{RequestID: model.RequestID(fmt.Sprintf("r%d", i)), Status: model.OutcomeAccepted}, time.Time{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	<-rec.Start(ctx)

	out, err := store.Query(context.Background(), LogQuery{})
	require.NoError(t, err)
	require.Len(t, out, n)
	assert.Equal(t, model.RequestID("r0"), out[0].RequestID)
	assert.False(t, out[0].Timestamp.IsZero())
}

func TestRecorderWithoutStore(t *testing.T) {
	rec := NewRecorder(nil, nil)
	rec.RecordOutcome(model.Outcome{RequestID: "r1"}, time.Now())
	select {
	case <-rec.Start(context.Background()):
	default:
		t.Fatal("recorder without a store should report done immediately")
	}
}
