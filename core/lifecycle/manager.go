// Package lifecycle admits connections, keeps the actor registry in sync with
// them and forwards their answers to the dispatch coordinator.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/shiprelay/core/events"
	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/pending"
	"github.com/kilianp07/shiprelay/core/registry"
	"github.com/kilianp07/shiprelay/core/transport"
	"github.com/kilianp07/shiprelay/internal/eventbus"
)

var (
	// ErrIdentityVerification is returned when a connection could not prove
	// who it is. The connection is refused and not retried.
	ErrIdentityVerification = errors.New("identity verification failed")
	// ErrNotAdmitted is returned for traffic on a connection that never
	// passed verification.
	ErrNotAdmitted = errors.New("connection not admitted")
)

// Verifier resolves a connection token to the identity it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (model.ActorID, error)
}

// ResponseHandler receives attributed responses, typically the coordinator.
type ResponseHandler interface {
	OnResponse(resp model.Response) pending.Result
}

// Manager implements transport.InboundHandler.
type Manager struct {
	registry  *registry.ActorRegistry
	verifier  Verifier
	sender    transport.Sender
	responses ResponseHandler
	logger    logger.Logger
	bus       eventbus.EventBus

	mu       sync.Mutex
	admitted map[model.ConnID]struct{}
}

var _ transport.InboundHandler = (*Manager)(nil)

// NewManager wires the lifecycle hooks. sender is used only to tell refused
// connections why they were refused.
func NewManager(reg *registry.ActorRegistry, verifier Verifier, sender transport.Sender, responses ResponseHandler, log logger.Logger) (*Manager, error) {
	if reg == nil || verifier == nil || sender == nil || responses == nil {
		return nil, fmt.Errorf("lifecycle: nil parameter provided to NewManager")
	}
	return &Manager{
		registry:  reg,
		verifier:  verifier,
		sender:    sender,
		responses: responses,
		logger:    logger.OrNop(log),
		admitted:  make(map[model.ConnID]struct{}),
	}, nil
}

// SetEventBus configures the bus receiving presence events.
func (m *Manager) SetEventBus(bus eventbus.EventBus) {
	m.mu.Lock()
	m.bus = bus
	m.mu.Unlock()
}

// Handle dispatches one inbound message to the matching hook.
func (m *Manager) Handle(ctx context.Context, conn model.ConnID, msg model.Message) error {
	switch v := msg.(type) {
	case model.Connect:
		return m.OnConnect(ctx, conn, v.Token)
	case model.Register:
		return m.OnRegister(conn, v.Actor)
	case model.ShipmentResponse:
		m.OnResponse(conn, v.RequestID, v.Accepted)
		return nil
	case model.Disconnect:
		m.OnDisconnect(conn)
		return nil
	default:
		return fmt.Errorf("%w: %s is not an inbound message", model.ErrUnknownMessage, msg.Kind())
	}
}

// OnConnect verifies the token presented by a new connection. On success the
// connection is admitted and its identity registered right away.
func (m *Manager) OnConnect(ctx context.Context, conn model.ConnID, token string) error {
	actor, err := m.verify(ctx, token)
	if err != nil {
		m.logger.Warnf("refusing connection %s: %v", conn, err)
		if serr := m.sender.Send(ctx, conn, model.ConnectRefused{Reason: err.Error()}); serr != nil {
			m.logger.Debugf("could not notify refused connection %s: %v", conn, serr)
		}
		return err
	}
	m.mu.Lock()
	m.admitted[conn] = struct{}{}
	m.mu.Unlock()
	m.bind(actor, conn)
	return nil
}

func (m *Manager) verify(ctx context.Context, token string) (model.ActorID, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrIdentityVerification)
	}
	actor, err := m.verifier.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityVerification, err)
	}
	if actor == "" {
		return "", fmt.Errorf("%w: no identity for token", ErrIdentityVerification)
	}
	return actor, nil
}

// OnRegister rebinds an admitted connection to actor, overwriting whatever
// the registry held for either side.
func (m *Manager) OnRegister(conn model.ConnID, actor model.ActorID) error {
	if !m.Admitted(conn) {
		m.logger.Warnf("register from unadmitted connection %s ignored", conn)
		return ErrNotAdmitted
	}
	if actor == "" {
		return fmt.Errorf("register on %s: empty identity", conn)
	}
	m.bind(actor, conn)
	return nil
}

// OnDisconnect forgets the connection. Dispatches the actor was a candidate
// for are left alone; later sends to it are skipped.
func (m *Manager) OnDisconnect(conn model.ConnID) {
	m.mu.Lock()
	delete(m.admitted, conn)
	m.mu.Unlock()
	actor, ok := m.registry.UnregisterByConnection(conn)
	if !ok {
		return
	}
	m.logger.Infof("%s disconnected from %s", actor, conn)
	m.publish(events.PresenceEvent{Actor: actor, Conn: conn, Online: false})
}

// OnResponse attributes an answer to the actor bound to conn and forwards it.
// Answers from unbound connections are dropped.
func (m *Manager) OnResponse(conn model.ConnID, id model.RequestID, accepted bool) pending.Result {
	actor, ok := m.registry.ActorOf(conn)
	if !ok {
		m.logger.Warnf("dropping response for %s from unbound connection %s", id, conn)
		return pending.UnknownRequest
	}
	return m.responses.OnResponse(model.Response{RequestID: id, Actor: actor, Accepted: accepted})
}

// Admitted reports whether conn passed verification and is still open.
func (m *Manager) Admitted(conn model.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.admitted[conn]
	return ok
}

func (m *Manager) bind(actor model.ActorID, conn model.ConnID) {
	m.registry.Register(actor, conn)
	m.logger.Infof("%s bound to %s", actor, conn)
	m.publish(events.PresenceEvent{Actor: actor, Conn: conn, Online: true})
}

func (m *Manager) publish(ev events.PresenceEvent) {
	m.mu.Lock()
	bus := m.bus
	m.mu.Unlock()
	if bus == nil {
		return
	}
	ev.Bound = m.registry.Len()
	ev.Time = time.Now()
	bus.Publish(ev)
}
