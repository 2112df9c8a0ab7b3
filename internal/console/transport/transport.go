// Package transport carries named events between the operator console and
// the backend.
//
// Delivery is at-most-once: a message sent while the channel is not Open is
// rejected, and nothing is replayed after a reconnect. Events received on one
// connection are handed to handlers in arrival order, one at a time.
package transport

import (
	"encoding/json"
	"errors"
)

// State is the channel's connection state.
type State int

const (
	Closed State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

var (
	// ErrNotConnected is returned by Send while the channel is not Open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrBackpressure is returned by Send when the outbound buffer is full.
	ErrBackpressure = errors.New("transport: send buffer full")
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Transport is the channel the console core talks through.
type Transport interface {
	// Send transmits one event. It never blocks on the network.
	Send(event string, payload any) error
	// On registers a handler for an event name. Several handlers may be
	// registered for the same name; they run in registration order.
	On(event string, h Handler)
	// State reports the current connection state.
	State() State
	// OnStateChange registers fn to be called after every state transition.
	OnStateChange(fn func(State))
}
