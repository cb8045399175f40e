package types

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrMissingMessageID      = errors.New("message id is required")
	ErrMissingRoomID         = errors.New("room id is required")
	ErrInvalidSenderType     = errors.New("invalid sender type")
	ErrInvalidMessageType    = errors.New("invalid message type")
	ErrSenderDetailMismatch  = errors.New("sender detail does not match sender type")
	ErrOverlappingPartition  = errors.New("room appears in both ongoing and awaiting")
	ErrForeignHistoryMessage = errors.New("history contains a message from another room")
)

// ErrMissingToken is wrapped by AuthenticationError.
var ErrMissingToken = errors.New("authentication token is required")

// AuthenticationError is returned when no bearer token is available at
// connection-creation time. No transport object exists when it is returned.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return ErrMissingToken.Error()
	}
	return fmt.Sprintf("%s: %s", ErrMissingToken.Error(), e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return ErrMissingToken }

// ChatServerError carries the error string the chat server put in an
// acknowledgement or pushed payload.
type ChatServerError struct {
	Event   string
	Message string
}

func (e *ChatServerError) Error() string {
	return fmt.Sprintf("chat server error on %s: %s", e.Event, e.Message)
}

// TransportError wraps failures of the event channel itself
// (dial, handshake, read, write, closed connection).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
