package interfaces

import (
	"context"
	"encoding/json"
)

// ConnectionState is the lifecycle position of an event channel.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// EventHandler receives the decoded argument list of a pushed event.
type EventHandler func(args []json.RawMessage)

// Channel represents the bidirectional event channel to the chat namespace
// ARCHITECTURAL DISCOVERY: Request helpers and the session depend on this
// contract only, so tests can substitute a scripted channel for the socket
type Channel interface {
	// Connect performs the handshake if the channel is not connected yet.
	// Concurrent callers share a single attempt.
	Connect(ctx context.Context) error

	// Connected reports whether the namespace handshake has completed
	// and the channel has not been torn down since.
	Connected() bool

	// State returns the current lifecycle state.
	State() ConnectionState

	// Emit sends an event without requesting an acknowledgement.
	Emit(event string, args ...interface{}) error

	// EmitWithAck sends an event and blocks until the matching
	// acknowledgement arrives, ctx ends, or the channel dies.
	EmitWithAck(ctx context.Context, event string, args ...interface{}) ([]json.RawMessage, error)

	// On subscribes to a pushed event and returns the matching unsubscribe func.
	On(event string, handler EventHandler) func()

	// Expect registers a one-shot waiter for the first pushed event whose
	// arguments satisfy match. Matched events never reach On handlers.
	Expect(event string, match func(args []json.RawMessage) bool) Expectation

	// Close tears the channel down. Pending requests fail.
	Close() error
}

// Expectation is an outstanding one-shot waiter registered through Channel.Expect.
type Expectation interface {
	// Ready is closed once the expectation is resolved or failed.
	Ready() <-chan struct{}

	// Result returns the matched arguments or the failure cause.
	Result() ([]json.RawMessage, error)

	// Cancel deregisters the waiter. Safe to call more than once.
	Cancel()
}
