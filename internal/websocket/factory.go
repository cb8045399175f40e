package websocket

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Factory hands out the single shared connection of a process
// ARCHITECTURAL DISCOVERY: Connection replacement pattern from the old registry:
// at most one live connection exists, keyed by its token, and the previous one
// is closed before a replacement is registered
// TECHNICAL DISCOVERY: Every call is serialized by the factory mutex, so two
// mounts racing for a connection get the same instance and exactly one is built
type Factory struct {
	mu          sync.Mutex
	base        Options
	current     *Connection
	constructed int
	logger      *zap.Logger
}

// NewFactory creates a factory that builds connections from base. The token
// field of base is ignored.
func NewFactory(base Options) *Factory {
	base.withDefaults()
	return &Factory{
		base:   base,
		logger: base.Logger.Named("factory"),
	}
}

// Connection returns the shared connection for token, constructing it when
// none exists, when the token changed, or when the previous one disconnected.
// The returned connection may still need Connect.
func (f *Factory) Connection(token string) (*Connection, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		f.logger.Error("no access token available for socket connection")
		return nil, &types.AuthenticationError{Reason: "no access token available"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil {
		if f.current.Token() == token && f.current.State() != interfaces.StateDisconnected {
			return f.current, nil
		}

		reason := "token changed"
		if f.current.State() == interfaces.StateDisconnected {
			reason = "previous connection disconnected"
		}
		f.logger.Info("replacing socket connection",
			zap.String("old_conn_id", f.current.ID()),
			zap.String("reason", reason))
		if err := f.current.Close(); err != nil {
			f.logger.Warn("failed to close previous connection", zap.Error(err))
		}
		f.current = nil
	}

	opts := f.base
	opts.Token = token
	conn := NewConnection(opts)

	f.logger.Info("constructing socket connection",
		append([]zap.Field{
			zap.String("conn_id", conn.ID()),
			zap.String("url", opts.URL),
			zap.String("namespace", opts.Namespace),
		}, TokenSummary(token)...)...)

	conn.On(EventError, func(args []json.RawMessage) {
		f.logger.Warn("socket error reported", zap.String("conn_id", conn.ID()), zap.String("detail", firstString(args)))
	})

	f.current = conn
	f.constructed++
	return conn, nil
}

// Current returns the shared connection without constructing one.
func (f *Factory) Current() (*Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.current != nil
}

// Release disconnects and forgets the shared connection. Idempotent.
func (f *Factory) Release() error {
	f.mu.Lock()
	conn := f.current
	f.current = nil
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	f.logger.Info("releasing socket connection", zap.String("conn_id", conn.ID()))
	return conn.Close()
}

// Stats returns factory statistics for monitoring and tests.
func (f *Factory) Stats() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := 0
	if f.current != nil && f.current.State() != interfaces.StateDisconnected {
		active = 1
	}
	return map[string]int{
		"constructed":        f.constructed,
		"active_connections": active,
	}
}

func firstString(args []json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(args[0], &s); err != nil {
		return string(args[0])
	}
	return s
}
