// Package relay republishes chat pushes onto NATS so other console services
// (notifications, supervisors' dashboards) can fan them out.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"chatdesk/internal/hub"
	"chatdesk/pkg/types"
)

// Header keys set on every relayed message.
const (
	HeaderMessageID  = "Chat-Message-Id"
	HeaderRoomID     = "Chat-Room-Id"
	HeaderSenderType = "Chat-Sender-Type"
)

var ErrEmptySubject = errors.New("relay subject cannot be empty")

// Publisher is the slice of *nats.Conn the relay needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Options configures a NATS connection owned by the relay.
type Options struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Relay publishes each pushed message as JSON on "<subject>.<roomId>".
// FUNCTIONAL DISCOVERY: Failures are logged and counted, never returned to the
// hub, so a NATS outage cannot disturb the chat session
type Relay struct {
	pub     Publisher
	conn    *nats.Conn // nil when the publisher was injected
	subject string
	logger  *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// Connect dials NATS and returns a relay that owns the connection.
func Connect(opts Options, logger *zap.Logger) (*Relay, error) {
	if opts.Subject == "" {
		return nil, ErrEmptySubject
	}
	if opts.Name == "" {
		opts.Name = "chatdesk"
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 500 * time.Millisecond
	}
	if opts.Timeout == 0 {
		opts.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	log := logger.With(zap.String("component", "relay"))
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}

	r, err := New(nc, opts.Subject, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	r.conn = nc
	return r, nil
}

// New wraps an existing publisher.
func New(pub Publisher, subject string, logger *zap.Logger) (*Relay, error) {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		pub:     pub,
		subject: subject,
		logger:  logger.With(zap.String("component", "relay"), zap.String("subject", subject)),
	}, nil
}

// Attach subscribes the relay to the hub and returns the unsubscribe func.
func (r *Relay) Attach(h *hub.Hub) func() {
	return h.Subscribe(r.Handle)
}

// Handle publishes one message. It matches interfaces.MessageHandler.
func (r *Relay) Handle(ctx context.Context, msg *types.Message) {
	if msg == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("relay marshal failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	out := nats.NewMsg(r.SubjectFor(msg.RoomID))
	out.Data = data
	out.Header.Set(HeaderMessageID, msg.ID)
	out.Header.Set(HeaderRoomID, msg.RoomID)
	out.Header.Set(HeaderSenderType, string(msg.SenderType))

	if err := r.pub.PublishMsg(out); err != nil {
		r.failed.Add(1)
		r.logger.Warn("relay publish failed",
			zap.String("message_id", msg.ID),
			zap.String("room_id", msg.RoomID),
			zap.Error(err))
		return
	}
	r.published.Add(1)
}

// SubjectFor returns the subject a room's pushes are published on.
// TECHNICAL DISCOVERY: Room ids are opaque; characters NATS treats as token
// separators or wildcards are replaced so one room is always one token
func (r *Relay) SubjectFor(roomID string) string {
	token := strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, roomID)
	if token == "" {
		token = "_"
	}
	return r.subject + "." + token
}

// Stats returns publish counters.
func (r *Relay) Stats() map[string]int64 {
	return map[string]int64{
		"published": r.published.Load(),
		"failed":    r.failed.Load(),
	}
}

// Close drains the owned connection, if any.
func (r *Relay) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}
