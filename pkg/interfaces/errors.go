package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotConnected = errors.New("channel not connected")
)
