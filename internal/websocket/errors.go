package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrHandshakeFailed  = errors.New("unexpected engine handshake")
	ErrConnectRefused   = errors.New("namespace connect refused")
)

// Codec errors
var (
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrBinaryUnsupported = errors.New("binary packets are not supported")
)

// Factory errors
var (
	ErrInvalidOptions = errors.New("invalid connection options")
)
