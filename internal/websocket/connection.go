package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatdesk/internal/router"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Lifecycle events delivered through Connection.On. They never travel on the
// wire; the server cannot emit events with these reserved names.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// Disconnect reasons, named as the Socket.IO client names them
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
	ReasonConnectFailed    = "connect failed"
)

// Dialer opens the underlying websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures one Connection.
type Options struct {
	URL              string // base http(s) or ws(s) URL of the chat server
	Path             string // engine path, "/socket.io/" by default
	Namespace        string // "/chat"
	Token            string // trimmed bearer token, without the "Bearer " prefix
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingGrace        time.Duration // added to the server's ping interval + timeout
	WriteBuffer      int
	Dialer           Dialer
	Logger           *zap.Logger
}

func (o *Options) withDefaults() {
	if o.Path == "" {
		o.Path = "/socket.io/"
	}
	if o.Namespace == "" {
		o.Namespace = "/"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.WriteBuffer <= 0 {
		o.WriteBuffer = 100
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Connection is one Socket.IO namespace session over a single websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes are serialized through one writer
// goroutine and reads through one reader goroutine; everything else talks to
// them through channels and the router
// FUNCTIONAL DISCOVERY: A connection is single-use. Once disconnected it stays
// disconnected; the factory builds a replacement instead of reconnecting
type Connection struct {
	id     string
	opts   Options
	router *router.Router
	logger *zap.Logger

	mu          sync.RWMutex
	state       interfaces.ConnectionState
	conn        *websocket.Conn
	sid         string
	connectDone chan struct{}
	connectErr  error

	writeCh    chan []byte
	nsReady    chan error
	writerDone chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewConnection creates an idle connection. Nothing is dialed until Connect.
func NewConnection(opts Options) *Connection {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	logger := opts.Logger.With(zap.String("conn_id", id))

	return &Connection{
		id:         id,
		opts:       opts,
		router:     router.NewRouter(logger.Named("router")),
		logger:     logger,
		state:      interfaces.StateIdle,
		writeCh:    make(chan []byte, opts.WriteBuffer),
		nsReady:    make(chan error, 1),
		writerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the client-side identifier of this connection.
func (c *Connection) ID() string { return c.id }

// Token returns the bearer token the connection was built for.
func (c *Connection) Token() string { return c.opts.Token }

// SID returns the namespace session id assigned by the server.
func (c *Connection) SID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

// State returns the lifecycle state.
func (c *Connection) State() interfaces.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether the namespace handshake completed.
func (c *Connection) Connected() bool {
	return c.State() == interfaces.StateConnected
}

// Connect dials and performs both handshakes. It returns immediately when
// already connected and joins the in-flight attempt when one is running.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case interfaces.StateConnected:
		c.mu.Unlock()
		return nil
	case interfaces.StateDisconnected:
		c.mu.Unlock()
		return &types.TransportError{Op: "connect", Err: ErrConnectionClosed}
	case interfaces.StateConnecting:
		done := c.connectDone
		c.mu.Unlock()
		select {
		case <-done:
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.connectErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.state = interfaces.StateConnecting
	c.connectDone = make(chan struct{})
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	// TECHNICAL DISCOVERY: The server may drop the namespace right after
	// accepting it; the read loop has then already marked the connection
	// disconnected and that must stick
	if err == nil && c.state != interfaces.StateConnecting {
		err = &types.TransportError{Op: "connect", Err: ErrConnectionClosed}
	}
	c.connectErr = err
	if err == nil {
		c.state = interfaces.StateConnected
	}
	close(c.connectDone)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("socket connection error", zap.Error(err))
		c.dispatchLifecycle(EventError, err.Error())
		c.shutdown(ReasonConnectFailed)
		return err
	}

	c.logger.Info("socket connected", zap.String("sid", c.SID()))
	c.dispatchLifecycle(EventConnect, c.SID())
	return nil
}

// dial opens the websocket, reads the engine open packet and joins the namespace.
func (c *Connection) dial(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return &types.TransportError{Op: "dial", Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := c.opts.Dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return &types.TransportError{Op: "dial", Err: err}
	}

	open, err := readOpenPacket(conn, c.opts.HandshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return &types.TransportError{Op: "handshake", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn, open)

	auth, err := json.Marshal(map[string]string{"token": "Bearer " + c.opts.Token})
	if err != nil {
		return &types.TransportError{Op: "handshake", Err: err}
	}
	if err := c.write(encodePacket(packet{Type: packetConnect, Namespace: c.opts.Namespace, ID: noAckID, Data: auth})); err != nil {
		return &types.TransportError{Op: "handshake", Err: err}
	}

	select {
	case err := <-c.nsReady:
		if err != nil {
			return &types.TransportError{Op: "namespace connect", Err: err}
		}
		return nil
	case <-dialCtx.Done():
		return &types.TransportError{Op: "namespace connect", Err: ErrHandshakeTimeout}
	case <-c.ctx.Done():
		return &types.TransportError{Op: "namespace connect", Err: ErrConnectionClosed}
	}
}

func (c *Connection) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOptions, u.Scheme)
	}
	u.Path = c.opts.Path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readOpenPacket(conn *websocket.Conn, timeout time.Duration) (*openPayload, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 || frame[0] != engineOpen {
		return nil, fmt.Errorf("%w: %q", ErrHandshakeFailed, truncate(string(frame), 32))
	}
	var open openPayload
	if err := json.Unmarshal(frame[1:], &open); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return &open, nil
}

// writeLoop is the single writer of the websocket.
func (c *Connection) writeLoop(conn *websocket.Conn) {
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.writeCh:
			if err := c.writeFrame(conn, data); err != nil {
				c.logger.Warn("socket write failed", zap.Error(err))
				go c.shutdown(ReasonTransportError)
				return
			}
		case <-c.ctx.Done():
			// flush what was queued before shutdown, e.g. the namespace disconnect
			for {
				select {
				case data := <-c.writeCh:
					if err := c.writeFrame(conn, data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) writeFrame(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop is the single reader of the websocket.
func (c *Connection) readLoop(conn *websocket.Conn, open *openPayload) {
	deadline := time.Duration(open.PingInterval+open.PingTimeout)*time.Millisecond + c.opts.PingGrace
	if deadline <= c.opts.PingGrace {
		deadline = 45*time.Second + c.opts.PingGrace
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			c.shutdown(ReasonTransportError)
			return
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			reason := ReasonTransportClose
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				reason = ReasonPingTimeout
			}
			c.logger.Warn("socket read failed", zap.String("reason", reason), zap.Error(err))
			c.shutdown(reason)
			return
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := c.write([]byte{enginePong}); err != nil {
				c.logger.Warn("failed to answer ping", zap.Error(err))
			}
		case engineClose:
			c.shutdown(ReasonTransportClose)
			return
		case engineMessage:
			if stop := c.handlePacket(frame[1:]); stop {
				return
			}
		case engineNoop, enginePong, engineUpgrade:
		default:
			c.logger.Debug("ignoring engine frame", zap.String("frame", truncate(string(frame), 32)))
		}
	}
}

// handlePacket processes one Socket.IO packet; it returns true when the
// namespace is gone and the read loop must stop.
func (c *Connection) handlePacket(raw []byte) bool {
	p, err := decodePacket(raw)
	if err != nil {
		c.logger.Warn("dropping undecodable packet", zap.Error(err))
		c.dispatchLifecycle(EventError, err.Error())
		return false
	}
	if p.Namespace != c.opts.Namespace {
		c.logger.Debug("ignoring packet for foreign namespace", zap.String("namespace", p.Namespace))
		return false
	}

	switch p.Type {
	case packetConnect:
		var payload struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(p.Data, &payload)
		c.mu.Lock()
		c.sid = payload.SID
		c.mu.Unlock()
		c.signalNamespace(nil)

	case packetConnectError:
		reason := connectErrorMessage(p.Data)
		c.signalNamespace(fmt.Errorf("%w: %s", ErrConnectRefused, reason))

	case packetDisconnect:
		c.logger.Warn("server disconnected the socket",
			zap.String("hint", "invalid token, missing auth header, or server-side validation failure"))
		c.shutdown(ReasonServerDisconnect)
		return true

	case packetEvent:
		event, args, err := splitEvent(p.Data)
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.Error(err))
			return false
		}
		if p.ID != noAckID {
			// the server asked for an acknowledgement we have no handler for
			if data, err := encodeAck(c.opts.Namespace, p.ID); err == nil {
				_ = c.write(data)
			}
		}
		c.router.RouteEvent(event, args)

	case packetAck:
		args, err := splitAck(p.Data)
		if err != nil {
			c.logger.Warn("dropping malformed acknowledgement", zap.Error(err))
			return false
		}
		c.router.RouteAck(p.ID, args)
	}
	return false
}

func (c *Connection) signalNamespace(err error) {
	select {
	case c.nsReady <- err:
	default:
	}
}

// write queues a frame for the writer goroutine.
func (c *Connection) write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Emit sends an event without an acknowledgement id.
func (c *Connection) Emit(event string, args ...interface{}) error {
	if !c.Connected() {
		return &types.TransportError{Op: "emit " + event, Err: interfaces.ErrNotConnected}
	}
	data, err := encodeEvent(c.opts.Namespace, noAckID, event, args...)
	if err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return &types.TransportError{Op: "emit " + event, Err: err}
	}
	return nil
}

// EmitWithAck sends an event and waits for its acknowledgement.
func (c *Connection) EmitWithAck(ctx context.Context, event string, args ...interface{}) ([]json.RawMessage, error) {
	if !c.Connected() {
		return nil, &types.TransportError{Op: "emit " + event, Err: interfaces.ErrNotConnected}
	}

	waiter, err := c.router.RegisterAck()
	if err != nil {
		return nil, err
	}
	data, err := encodeEvent(c.opts.Namespace, waiter.ID, event, args...)
	if err != nil {
		c.router.CancelAck(waiter.ID)
		return nil, err
	}
	if err := c.write(data); err != nil {
		c.router.CancelAck(waiter.ID)
		return nil, &types.TransportError{Op: "emit " + event, Err: err}
	}

	c.logger.Debug("emitted request", zap.String("event", event), zap.Int("ack_id", waiter.ID))

	reply, err := waiter.Wait(ctx)
	if err != nil {
		c.router.CancelAck(waiter.ID)
		return nil, err
	}
	return reply, nil
}

// On subscribes to a pushed or lifecycle event.
func (c *Connection) On(event string, handler interfaces.EventHandler) func() {
	return c.router.On(event, handler)
}

// Expect registers a one-shot correlated waiter for a pushed event.
func (c *Connection) Expect(event string, match func(args []json.RawMessage) bool) interfaces.Expectation {
	return c.router.Expect(event, match)
}

// RouterStats exposes the router table sizes.
func (c *Connection) RouterStats() map[string]int {
	return c.router.Stats()
}

// Close leaves the namespace and tears the connection down.
func (c *Connection) Close() error {
	if c.Connected() {
		select {
		case c.writeCh <- encodePacket(packet{Type: packetDisconnect, Namespace: c.opts.Namespace, ID: noAckID}):
		default:
		}
	}
	c.shutdown(ReasonClientDisconnect)
	return nil
}

// shutdown runs exactly once per connection regardless of who triggers it.
// Disconnect observers run after the teardown so they may call Close safely.
func (c *Connection) shutdown(reason string) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.mu.Lock()
		wasConnected := c.state == interfaces.StateConnected
		c.state = interfaces.StateDisconnected
		conn := c.conn
		c.mu.Unlock()

		c.cancel()

		if conn != nil {
			select {
			case <-c.writerDone:
			case <-time.After(c.opts.WriteTimeout):
			}
			if err := conn.Close(); err != nil {
				c.logger.Debug("closing websocket", zap.Error(err))
			}
		}

		c.router.FailAll(&types.TransportError{Op: "disconnect", Err: fmt.Errorf("%w: %s", ErrConnectionClosed, reason)})

		if wasConnected || reason != ReasonConnectFailed {
			c.logger.Info("socket disconnected", zap.String("reason", reason))
		}
	})
	if first {
		c.dispatchLifecycle(EventDisconnect, reason)
	}
}

func (c *Connection) dispatchLifecycle(event, detail string) {
	data, _ := json.Marshal(detail)
	c.router.RouteEvent(event, []json.RawMessage{data})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TokenSummary describes a token for logs without revealing it.
func TokenSummary(token string) []zap.Field {
	snippet := token
	if len(snippet) > 10 {
		snippet = snippet[:10]
	}
	return []zap.Field{
		zap.Int("token_length", len(token)),
		zap.Bool("starts_with_ey", strings.HasPrefix(token, "eyJ")),
		zap.String("token_snippet", snippet+"..."),
	}
}
