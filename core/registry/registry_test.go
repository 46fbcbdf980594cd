package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shiprelay/core/model"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("a1", "c1")
	conn, ok := r.Lookup("a1")
	require.True(t, ok)
	assert.Equal(t, model.ConnID("c1"), conn)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestLastRegistrationWins(t *testing.T) {
	r := New()
	r.Register("I", "X")
	r.Register("I", "Y")

	conn, ok := r.Lookup("I")
	require.True(t, ok)
	assert.Equal(t, model.ConnID("Y"), conn)

	// disconnecting the superseded connection must keep the mapping
	_, removed := r.UnregisterByConnection("X")
	assert.False(t, removed)
	conn, ok = r.Lookup("I")
	require.True(t, ok)
	assert.Equal(t, model.ConnID("Y"), conn)
	assert.Equal(t, 1, r.Len())
}

func TestConnectionRebindDropsPreviousIdentity(t *testing.T) {
	r := New()
	r.Register("a1", "c1")
	r.Register("a2", "c1")

	_, ok := r.Lookup("a1")
	assert.False(t, ok, "a1 should no longer be reachable")
	actor, ok := r.ActorOf("c1")
	require.True(t, ok)
	assert.Equal(t, model.ActorID("a2"), actor)
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	r.Register("a1", "c1")
	r.Register("a1", "c1")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []Binding{{Actor: "a1", Conn: "c1"}}, r.Snapshot())
}

func TestUnregisterByConnection(t *testing.T) {
	r := New()
	r.Register("a1", "c1")
	r.Register("a2", "c2")

	actor, ok := r.UnregisterByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, model.ActorID("a1"), actor)
	_, ok = r.Lookup("a1")
	assert.False(t, ok)
	_, ok = r.ActorOf("c1")
	assert.False(t, ok)

	_, ok = r.UnregisterByConnection("unknown")
	assert.False(t, ok)
	assert.Equal(t, []Binding{{Actor: "a2", Conn: "c2"}}, r.Snapshot())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := model.ActorID(fmt.Sprintf("a%d", i%10))
			conn := model.ConnID(fmt.Sprintf("c%d", i))
			r.Register(actor, conn)
			r.Lookup(actor)
			r.UnregisterByConnection(conn)
		}(i)
	}
	wg.Wait()
	for _, b := range r.Snapshot() {
		got, ok := r.ActorOf(b.Conn)
		require.True(t, ok)
		assert.Equal(t, b.Actor, got)
	}
}
