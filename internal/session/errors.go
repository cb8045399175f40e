package session

import "errors"

// Session error types
var (
	ErrNotOpen          = errors.New("session is not open")
	ErrClosed           = errors.New("session is closed")
	ErrSelectionChanged = errors.New("selection changed before history arrived")
	ErrNilDependency    = errors.New("session requires a token source, factory and hub")
)
