package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageKind names a message exchanged with an actor connection.
type MessageKind string

const (
	// inbound, actor -> relay
	MsgConnect          MessageKind = "connect"
	MsgRegister         MessageKind = "register"
	MsgShipmentResponse MessageKind = "shipment_response"
	MsgDisconnect       MessageKind = "disconnect"

	// outbound, relay -> actor
	MsgShipmentRequest MessageKind = "shipment_request"
	MsgBidPlaced       MessageKind = "bid_placed"
	MsgConnectRefused  MessageKind = "connect_refused"
)

// Message is the closed set of messages carried over actor connections.
type Message interface {
	Kind() MessageKind
}

// Connect opens a session. Token is verified against the backend.
type Connect struct {
	Token string `json:"token"`
}

// Register binds an identity to an already admitted connection.
type Register struct {
	Actor ActorID `json:"entity_id"`
}

// ShipmentResponse is an actor's accept/reject answer. The responder identity
// comes from the connection, never from the payload.
type ShipmentResponse struct {
	RequestID RequestID `json:"requestId"`
	Accepted  bool      `json:"accepted"`
}

// Disconnect ends a session. Actors publish it as their last will.
type Disconnect struct{}

// ShipmentRequest delivers a dispatch request to a candidate.
type ShipmentRequest struct {
	RequestID RequestID       `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

// BidPlaced relays a bid to the owner of a shipment.
type BidPlaced struct {
	Payload json.RawMessage `json:"payload"`
}

// ConnectRefused tells a connection it was not admitted.
type ConnectRefused struct {
	Reason string `json:"reason"`
}

func (Connect) Kind() MessageKind          { return MsgConnect }
func (Register) Kind() MessageKind         { return MsgRegister }
func (ShipmentResponse) Kind() MessageKind { return MsgShipmentResponse }
func (Disconnect) Kind() MessageKind       { return MsgDisconnect }
func (ShipmentRequest) Kind() MessageKind  { return MsgShipmentRequest }
func (BidPlaced) Kind() MessageKind        { return MsgBidPlaced }
func (ConnectRefused) Kind() MessageKind   { return MsgConnectRefused }

// ErrUnknownMessage is returned when decoding an envelope of unknown kind.
var ErrUnknownMessage = errors.New("unknown message kind")

type envelope struct {
	Kind MessageKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps the message in a {"kind", "data"} envelope.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Kind: m.Kind(), Data: data})
}

// Decode parses an envelope into its concrete message type.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var m Message
	switch env.Kind {
	case MsgConnect:
		m = &Connect{}
	case MsgRegister:
		m = &Register{}
	case MsgShipmentResponse:
		m = &ShipmentResponse{}
	case MsgDisconnect:
		return Disconnect{}, nil
	case MsgShipmentRequest:
		m = &ShipmentRequest{}
	case MsgBidPlaced:
		m = &BidPlaced{}
	case MsgConnectRefused:
		m = &ConnectRefused{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Kind)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
	}
	return deref(m), nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *Connect:
		return *v
	case *Register:
		return *v
	case *ShipmentResponse:
		return *v
	case *ShipmentRequest:
		return *v
	case *BidPlaced:
		return *v
	case *ConnectRefused:
		return *v
	}
	return m
}
