// Package transport defines how the relay talks to connected actors.
package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kilianp07/shiprelay/core/model"
)

// ErrNotConnected is returned by Send when the underlying session to the
// broker is down.
var ErrNotConnected = errors.New("transport not connected")

// Sender delivers a message to one connection. Delivery is fire-and-forget:
// a nil error means the message was handed to the transport, not that the
// actor read it.
type Sender interface {
	Send(ctx context.Context, conn model.ConnID, msg model.Message) error
}

// InboundHandler receives decoded messages read from a connection.
type InboundHandler interface {
	Handle(ctx context.Context, conn model.ConnID, msg model.Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, conn model.ConnID, msg model.Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, conn model.ConnID, msg model.Message) error {
	return f(ctx, conn, msg)
}

// Deferred is a Sender whose target is bound after construction, for
// components built before the transport that delivers their messages. Until
// Set is called, Send fails with ErrNotConnected.
type Deferred struct {
	target atomic.Pointer[Sender]
}

// Set binds the target sender.
func (d *Deferred) Set(s Sender) { d.target.Store(&s) }

// Send forwards to the bound sender.
func (d *Deferred) Send(ctx context.Context, conn model.ConnID, msg model.Message) error {
	p := d.target.Load()
	if p == nil || *p == nil {
		return ErrNotConnected
	}
	return (*p).Send(ctx, conn, msg)
}
