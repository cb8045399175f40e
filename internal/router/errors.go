package router

import "errors"

// Router-specific error types
var (
	ErrRouterClosed       = errors.New("router closed")
	ErrExpectationDropped = errors.New("expectation cancelled")
)
