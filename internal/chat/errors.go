package chat

import "errors"

// Request errors
var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrEmptyReply     = errors.New("acknowledgement carried no payload")
	ErrMissingRoom    = errors.New("room id is required")
)
