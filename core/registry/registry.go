// Package registry maps logical actor identities to their live connection.
package registry

import (
	"sort"
	"sync"

	"github.com/kilianp07/shiprelay/core/model"
)

// Binding is one identity/connection pair.
type Binding struct {
	Actor model.ActorID `json:"userId"`
	Conn  model.ConnID  `json:"socketId"`
}

// ActorRegistry is a bidirectional identity <-> connection map. An identity
// has at most one connection and a connection at most one identity; the last
// registration wins.
type ActorRegistry struct {
	mu      sync.RWMutex
	byActor map[model.ActorID]model.ConnID
	byConn  map[model.ConnID]model.ActorID
}

// New returns an empty registry.
func New() *ActorRegistry {
	return &ActorRegistry{
		byActor: make(map[model.ActorID]model.ConnID),
		byConn:  make(map[model.ConnID]model.ActorID),
	}
}

// Register binds actor to conn, dropping any previous connection of the actor
// and any previous identity of the connection. The superseded connection is
// not closed.
func (r *ActorRegistry) Register(actor model.ActorID, conn model.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byActor[actor]; ok && old != conn {
		delete(r.byConn, old)
	}
	if prev, ok := r.byConn[conn]; ok && prev != actor {
		if r.byActor[prev] == conn {
			delete(r.byActor, prev)
		}
	}
	r.byActor[actor] = conn
	r.byConn[conn] = actor
}

// Lookup returns the live connection of actor. A miss means the actor is
// currently unreachable.
func (r *ActorRegistry) Lookup(actor model.ActorID) (model.ConnID, bool) {
	r.mu.RLock()
	conn, ok := r.byActor[actor]
	r.mu.RUnlock()
	return conn, ok
}

// ActorOf returns the identity currently bound to conn.
func (r *ActorRegistry) ActorOf(conn model.ConnID) (model.ActorID, bool) {
	r.mu.RLock()
	actor, ok := r.byConn[conn]
	r.mu.RUnlock()
	return actor, ok
}

// UnregisterByConnection removes the identity whose current connection is
// conn. It is a no-op when the identity has since moved to another
// connection.
func (r *ActorRegistry) UnregisterByConnection(conn model.ConnID) (model.ActorID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	if r.byActor[actor] != conn {
		return "", false
	}
	delete(r.byActor, actor)
	return actor, true
}

// Len returns the number of reachable actors.
func (r *ActorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byActor)
}

// Snapshot returns all bindings sorted by actor.
func (r *ActorRegistry) Snapshot() []Binding {
	r.mu.RLock()
	res := make([]Binding, 0, len(r.byActor))
	for a, c := range r.byActor {
		res = append(res, Binding{Actor: a, Conn: c})
	}
	r.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Actor < res[j].Actor })
	return res
}
