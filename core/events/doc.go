// Package events defines the relay events emitted on the event bus.
//
// Available event types:
//   - SendEvent: a shipment request handed to the transport
//   - ResponseEvent: an inbound accept or reject correlated to a request
//   - OutcomeEvent: the resolution of a dispatch
//   - PresenceEvent: an actor coming online or going offline
package events
