// Package wstest runs an in-process chat server speaking Engine.IO v4 and
// Socket.IO v5 over websocket, for tests of the client stack.
package wstest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler answers an emitted event. A nil return sends no acknowledgement,
// which lets tests exercise client timeouts.
type Handler func(c *Client, args []json.RawMessage) []interface{}

// Received records one event emitted by a client.
type Received struct {
	Event string
	Args  []json.RawMessage
	AckID int
	Token string
}

// Server is a fake Socket.IO server mounted on httptest.
type Server struct {
	*httptest.Server

	Namespace    string
	PingInterval time.Duration
	PingTimeout  time.Duration
	Logger       *zap.Logger

	mu        sync.Mutex
	handlers  map[string]Handler
	authorize func(token string) error
	clients   map[*Client]struct{}
	received  []Received
	notify    chan struct{}

	transports int32
	joins      int32
}

// NewServer starts a server accepting any bearer token on namespace.
func NewServer(namespace string) *Server {
	s := &Server{
		Namespace:    namespace,
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		Logger:       zap.NewNop(),
		handlers:     make(map[string]Handler),
		clients:      make(map[*Client]struct{}),
		notify:       make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/", s.handleWebSocket)
	s.Server = httptest.NewServer(mux)
	return s
}

// Handle installs the handler for event, replacing any previous one.
func (s *Server) Handle(event string, h Handler) {
	s.mu.Lock()
	s.handlers[event] = h
	s.mu.Unlock()
}

// Authorize installs the namespace auth check. The argument is the token
// without its "Bearer " prefix.
func (s *Server) Authorize(fn func(token string) error) {
	s.mu.Lock()
	s.authorize = fn
	s.mu.Unlock()
}

// RequireToken accepts only the given token.
func (s *Server) RequireToken(token string) {
	s.Authorize(func(got string) error {
		if got != token {
			return errors.New("invalid token")
		}
		return nil
	})
}

// Broadcast emits event to every client joined to the namespace.
func (s *Server) Broadcast(event string, args ...interface{}) int {
	sent := 0
	for _, c := range s.Clients() {
		if err := c.Emit(event, args...); err == nil {
			sent++
		}
	}
	return sent
}

// Clients returns the joined clients.
func (s *Server) Clients() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// DisconnectAll sends a namespace disconnect to every client.
func (s *Server) DisconnectAll() {
	for _, c := range s.Clients() {
		_ = c.Disconnect()
	}
}

// Received returns every recorded emission of event; an empty event returns all.
func (s *Server) Received(event string) []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Received
	for _, r := range s.received {
		if event == "" || r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many times event was emitted by clients.
func (s *Server) Count(event string) int {
	return len(s.Received(event))
}

// WaitFor blocks until event was received at least n times.
func (s *Server) WaitFor(event string, n int, timeout time.Duration) bool {
	return s.waitUntil(func() bool { return s.Count(event) >= n }, timeout)
}

// WaitForClients blocks until n clients joined the namespace.
func (s *Server) WaitForClients(n int, timeout time.Duration) bool {
	return s.waitUntil(func() bool { return len(s.Clients()) >= n }, timeout)
}

func (s *Server) waitUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		ch := s.notify
		s.mu.Unlock()
		if cond() {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return cond()
		}
	}
}

func (s *Server) changed() {
	s.mu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Transports returns how many websocket transports were opened.
func (s *Server) Transports() int { return int(atomic.LoadInt32(&s.transports)) }

// Joins returns how many namespace connects were accepted.
func (s *Server) Joins() int { return int(atomic.LoadInt32(&s.joins)) }

// handleWebSocket validates the engine query, upgrades, and serves one client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("EIO") != "4" || q.Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	atomic.AddInt32(&s.transports, 1)

	c := &Client{server: s, conn: conn, sid: uuid.New().String()}
	defer c.close()

	open, _ := json.Marshal(map[string]interface{}{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": s.PingInterval.Milliseconds(),
		"pingTimeout":  s.PingTimeout.Milliseconds(),
		"maxPayload":   1000000,
	})
	if err := c.writeRaw(append([]byte{'0'}, open...)); err != nil {
		return
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(frame) == 0 {
			continue
		}
		switch frame[0] {
		case '1':
			return
		case '2':
			_ = c.writeRaw([]byte{'3'})
		case '3':
			atomic.AddInt32(&c.pongs, 1)
		case '4':
			s.handlePacket(c, frame[1:])
		}
	}
}

func (s *Server) handlePacket(c *Client, raw []byte) {
	p, err := parse(raw)
	if err != nil {
		s.Logger.Warn("bad packet from client", zap.Error(err))
		return
	}
	if p.namespace != s.Namespace {
		_ = c.writeRaw([]byte(fmt.Sprintf(`44%s,{"message":"Invalid namespace"}`, p.namespace)))
		return
	}

	switch p.kind {
	case '0':
		var auth struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(p.data, &auth)
		token := strings.TrimPrefix(auth.Token, "Bearer ")

		s.mu.Lock()
		authorize := s.authorize
		s.mu.Unlock()
		if authorize != nil {
			if err := authorize(token); err != nil {
				msg, _ := json.Marshal(map[string]string{"message": err.Error()})
				_ = c.writeRaw([]byte("44" + s.Namespace + "," + string(msg)))
				return
			}
		}
		c.writeMu.Lock()
		c.token = token
		c.writeMu.Unlock()
		_ = c.writeRaw([]byte(fmt.Sprintf(`40%s,{"sid":"%s"}`, s.Namespace, c.sid)))
		atomic.AddInt32(&s.joins, 1)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		s.changed()

	case '1':
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.changed()

	case '2':
		var list []json.RawMessage
		if err := json.Unmarshal(p.data, &list); err != nil || len(list) == 0 {
			return
		}
		var event string
		if err := json.Unmarshal(list[0], &event); err != nil {
			return
		}
		args := list[1:]

		s.mu.Lock()
		s.received = append(s.received, Received{Event: event, Args: args, AckID: p.id, Token: c.Token()})
		h := s.handlers[event]
		s.mu.Unlock()
		s.changed()

		if h == nil {
			return
		}
		reply := h(c, args)
		if reply == nil || p.id < 0 {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = c.writeRaw([]byte("43" + s.Namespace + "," + strconv.Itoa(p.id) + string(data)))
	}
}

// Client is the server side of one joined socket.
type Client struct {
	server *Server
	conn   *websocket.Conn
	sid    string
	token  string
	pongs  int32

	writeMu sync.Mutex
	closed  bool
}

// Token returns the bearer token the client joined with.
func (c *Client) Token() string {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.token
}

// Emit pushes an event to the client.
func (c *Client) Emit(event string, args ...interface{}) error {
	list := append([]interface{}{event}, args...)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.writeRaw([]byte("42" + c.server.Namespace + "," + string(data)))
}

// Ping sends an engine ping; the client must answer with a pong.
func (c *Client) Ping() error { return c.writeRaw([]byte{'2'}) }

// Pongs returns how many pongs the client sent.
func (c *Client) Pongs() int { return int(atomic.LoadInt32(&c.pongs)) }

// Disconnect removes the client from the namespace the way a server-side
// socket.disconnect() does.
func (c *Client) Disconnect() error {
	return c.writeRaw([]byte("41" + c.server.Namespace + ","))
}

// CloseTransport drops the websocket without any Socket.IO goodbye.
func (c *Client) CloseTransport() { c.close() }

func (c *Client) writeRaw(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) close() {
	c.writeMu.Lock()
	already := c.closed
	c.closed = true
	c.writeMu.Unlock()
	if already {
		return
	}
	_ = c.conn.Close()

	c.server.mu.Lock()
	delete(c.server.clients, c)
	c.server.mu.Unlock()
	c.server.changed()
}

type frame struct {
	kind      byte
	namespace string
	id        int
	data      json.RawMessage
}

func parse(raw []byte) (frame, error) {
	f := frame{namespace: "/", id: -1}
	if len(raw) == 0 {
		return f, errors.New("empty packet")
	}
	f.kind = raw[0]
	rest := raw[1:]
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			f.namespace = string(rest)
			return f, nil
		}
		f.namespace = string(rest[:end])
		rest = rest[end+1:]
	}
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		f.id, _ = strconv.Atoi(string(rest[:digits]))
		rest = rest[digits:]
	}
	f.data = rest
	return f, nil
}
