package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitEvent(t *testing.T, h *Handle) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := h.Wait(ctx)
	require.NoError(t, err)
	return ev
}

func TestBeginRejectsDuplicateWhilePending(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)

	_, err = tbl.Begin("r1", 0)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	require.True(t, h.Await(0, "a"))
	assert.Equal(t, FirstAcceptance, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))

	_, err = tbl.Begin("r1", 0)
	assert.NoError(t, err, "a resolved id can be dispatched again")
}

func TestRecordResponseAfterResolutionIsUnknown(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(0, "a", "b")

	assert.Equal(t, FirstAcceptance, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "b", Accepted: true}))
	assert.Equal(t, UnknownRequest, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))
	assert.Equal(t, UnknownRequest, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: false}))

	ev := waitEvent(t, h)
	assert.Equal(t, EventAccepted, ev.Type)
	assert.Equal(t, model.ActorID("b"), ev.Response.Actor)
	assert.Len(t, h.Responses(), 1, "cleared entry must not be mutated")
	assert.False(t, tbl.Pending("r1"))
}

func TestRejectionKeepsRequestPending(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(0, "a", "b")

	assert.Equal(t, RejectedContinue, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a"}))
	ev := waitEvent(t, h)
	assert.Equal(t, EventRejected, ev.Type)
	assert.False(t, ev.Terminal())
	assert.True(t, tbl.Pending("r1"))

	// a second answer from the same actor is no longer awaited
	assert.Equal(t, Ignored, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))
	assert.Equal(t, FirstAcceptance, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "b", Accepted: true}))
}

func TestResponseFromUnawaitedActorIsIgnored(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(0, "a")
	assert.Equal(t, Ignored, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "intruder", Accepted: true}))
	assert.True(t, tbl.Pending("r1"))
}

func TestDeadlineExpiresRequest(t *testing.T) {
	mock := clock.NewMock()
	tbl := New(mock, logger.Nop{})
	h, err := tbl.Begin("r1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, mock.Now().Add(30*time.Second), h.Deadline())
	h.Await(0, "a")

	mock.Add(29 * time.Second)
	assert.True(t, tbl.Pending("r1"))
	mock.Add(time.Second)

	ev := waitEvent(t, h)
	assert.Equal(t, EventExpired, ev.Type)
	assert.False(t, tbl.Pending("r1"))
	assert.Equal(t, UnknownRequest, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))
}

func TestExpireIsNoopAfterResolution(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(0, "a")
	tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true})
	assert.False(t, tbl.Expire("r1"))
	assert.Equal(t, EventAccepted, waitEvent(t, h).Type)
}

func TestStepTimeoutStopsAwaitingActor(t *testing.T) {
	mock := clock.NewMock()
	tbl := New(mock, logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(5*time.Minute, "a")

	mock.Add(5 * time.Minute)
	ev := waitEvent(t, h)
	assert.Equal(t, EventStepTimeout, ev.Type)
	assert.True(t, tbl.Pending("r1"))
	assert.Equal(t, Ignored, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))
}

func TestAwaitRearmsStepTimer(t *testing.T) {
	mock := clock.NewMock()
	tbl := New(mock, logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(time.Minute, "a")
	mock.Add(30 * time.Second)
	h.Await(time.Minute, "b")
	mock.Add(45 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the first step timer must have been disarmed")

	mock.Add(15 * time.Second)
	assert.Equal(t, EventStepTimeout, waitEvent(t, h).Type)
}

func TestStaleTimerDoesNotExpireNewRequest(t *testing.T) {
	mock := clock.NewMock()
	tbl := New(mock, logger.Nop{})
	_, err := tbl.Begin("r1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, tbl.Cancel("r1"))

	_, err = tbl.Begin("r1", 0)
	require.NoError(t, err)
	mock.Add(10 * time.Second)
	assert.Never(t, func() bool { return !tbl.Pending("r1") }, 50*time.Millisecond, 5*time.Millisecond)
	tbl.Cancel("r1")
}

func TestCancelWakesOwner(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", time.Minute)
	require.NoError(t, err)
	h.Await(0, "a")

	done := make(chan Event, 1)
	go func() {
		ev, _ := h.Wait(context.Background())
		done <- ev
	}()
	assert.True(t, tbl.Cancel("r1"))
	assert.False(t, tbl.Cancel("r1"))
	select {
	case ev := <-done:
		assert.Equal(t, EventCancelled, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("owner not woken by cancel")
	}
	assert.Equal(t, UnknownRequest, tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true}))
}

func TestExhaustLosesToEarlierAcceptance(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	h.Await(0, "a")
	tbl.RecordResponse(model.Response{RequestID: "r1", Actor: "a", Accepted: true})

	assert.False(t, h.Exhaust())
	assert.Equal(t, EventAccepted, waitEvent(t, h).Type)
	assert.False(t, h.Await(0, "b"))
}

func TestExhaustClearsEntry(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", time.Minute)
	require.NoError(t, err)
	assert.True(t, h.Exhaust())
	assert.False(t, tbl.Pending("r1"))
	assert.Equal(t, EventExhausted, waitEvent(t, h).Type)
	assert.Equal(t, 0, tbl.Len())
}

func TestWaitHonoursContext(t *testing.T) {
	tbl := New(clock.NewMock(), logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	h.Cancel()
}

// A deadline firing at the same time as an acceptance must resolve the
// request exactly once.
func TestDeadlineRacesAcceptance(t *testing.T) {
	tbl := New(clock.New(), logger.Nop{})
	for i := 0; i < 300; i++ {
		id := model.RequestID(fmt.Sprintf("r%d", i))
		h, err := tbl.Begin(id, time.Millisecond)
		require.NoError(t, err)
		h.Await(0, "a")

		var (
			wg     sync.WaitGroup
			result Result
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			result = tbl.RecordResponse(model.Response{RequestID: id, Actor: "a", Accepted: true})
		}()
		expired := false
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			expired = tbl.Expire(id)
		}()
		wg.Wait()

		ev := waitEvent(t, h)
		switch ev.Type {
		case EventAccepted:
			assert.Equal(t, FirstAcceptance, result, "iteration %d", i)
			assert.False(t, expired, "iteration %d", i)
		case EventExpired:
			assert.NotEqual(t, FirstAcceptance, result, "iteration %d", i)
		default:
			t.Fatalf("iteration %d: unexpected event %v", i, ev.Type)
		}
		// no second terminal event may be queued
		again := waitEvent(t, h)
		assert.Equal(t, ev.Type, again.Type)
		assert.False(t, tbl.Pending(id))
	}
}

func TestArmStartsDeadlineOnce(t *testing.T) {
	mock := clock.NewMock()
	tbl := New(mock, logger.Nop{})
	h, err := tbl.Begin("r1", 0)
	require.NoError(t, err)
	assert.True(t, h.Deadline().IsZero())

	assert.True(t, h.Arm(10*time.Second))
	assert.False(t, h.Arm(time.Second), "deadline already armed")
	h.Await(0, "a")

	mock.Add(10 * time.Second)
	assert.Equal(t, EventExpired, waitEvent(t, h).Type)
	assert.False(t, h.Arm(time.Second))
}
