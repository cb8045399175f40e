// Package chat implements the typed requests of the /chat namespace on top of
// an event channel.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// DefaultTimeout bounds a request when the client was built without one.
const DefaultTimeout = 10 * time.Second

// Client issues requests over one channel.
type Client struct {
	ch      interfaces.Channel
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient wraps ch. A non-positive timeout selects DefaultTimeout.
func NewClient(ch interfaces.Channel, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{ch: ch, timeout: timeout, logger: logger}
}

// Channel returns the underlying channel.
func (c *Client) Channel() interfaces.Channel { return c.ch }

// Request emits event, waits for its acknowledgement and decodes the first
// argument into T. An {error} envelope becomes a ChatServerError.
func Request[T any](ctx context.Context, c *Client, event string, args ...interface{}) (*T, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.emit(ctx, reqCtx, event, args...)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("%s: %w", event, ErrEmptyReply)
	}
	if msg := errorField(reply[0]); msg != "" {
		return nil, &types.ChatServerError{Event: event, Message: msg}
	}

	out, err := Decode[T](reply[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}
	return out, nil
}

// emit lazily connects and performs one acknowledged emission under reqCtx.
func (c *Client) emit(ctx, reqCtx context.Context, event string, args ...interface{}) ([]json.RawMessage, error) {
	if err := c.ch.Connect(reqCtx); err != nil {
		return nil, c.classify(ctx, event, err)
	}
	reply, err := c.ch.EmitWithAck(reqCtx, event, args...)
	if err != nil {
		return nil, c.classify(ctx, event, err)
	}
	return reply, nil
}

// classify turns the request deadline into ErrRequestTimeout while leaving a
// caller cancellation untouched.
func (c *Client) classify(ctx context.Context, event string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s after %s: %w", event, c.timeout, ErrRequestTimeout)
	}
	return err
}

// FetchAllRooms requests the room directory.
func (c *Client) FetchAllRooms(ctx context.Context) (*types.ChatList, error) {
	list, err := Request[types.ChatList](ctx, c, types.EventGetAllChats)
	if err != nil {
		return nil, err
	}
	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", types.EventGetAllChats, err)
	}
	c.logger.Debug("fetched room directory",
		zap.Int("ongoing", len(list.Ongoing)),
		zap.Int("awaiting", len(list.Awaiting)))
	return list, nil
}

// FetchHistory requests the history of roomID. The acknowledgement only
// reports errors; the messages arrive as a separate chatHistory push.
// ARCHITECTURAL DISCOVERY: The expectation is registered before the emit, so a
// push that overtakes the ack is still caught, and it is removed on every exit
// path so no stale waiter outlives the request
func (c *Client) FetchHistory(ctx context.Context, roomID string) (*types.ChatHistory, error) {
	if roomID == "" {
		return nil, ErrMissingRoom
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.New().String()
	if err := c.ch.Connect(reqCtx); err != nil {
		return nil, c.classify(ctx, types.EventGetChatHistory, err)
	}

	exp := c.ch.Expect(types.EventChatHistory, MatchHistory(roomID, requestID))
	defer exp.Cancel()

	// FUNCTIONAL DISCOVERY: Whichever arrives first wins: the push resolves the
	// request even when the server never acknowledges a success, and only an
	// error ack that precedes the push rejects it
	type ackResult struct {
		reply []json.RawMessage
		err   error
	}
	acks := make(chan ackResult, 1)
	go func() {
		reply, err := c.ch.EmitWithAck(reqCtx, types.EventGetChatHistory, types.HistoryRequest{
			RoomID:    roomID,
			RequestID: requestID,
		})
		acks <- ackResult{reply: reply, err: err}
	}()

wait:
	for {
		select {
		case <-exp.Ready():
			break wait
		case ack := <-acks:
			acks = nil
			if pushed(exp) {
				break wait
			}
			if ack.err != nil {
				return nil, c.classify(ctx, types.EventGetChatHistory, ack.err)
			}
			if msg := historyAckError(ack.reply); msg != "" {
				return nil, &types.ChatServerError{Event: types.EventGetChatHistory, Message: msg}
			}
		case <-reqCtx.Done():
			return nil, c.classify(ctx, types.EventChatHistory, reqCtx.Err())
		}
	}

	args, err := exp.Result()
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w", types.EventChatHistory, ErrEmptyReply)
	}
	if msg := errorField(args[0]); msg != "" {
		return nil, &types.ChatServerError{Event: types.EventChatHistory, Message: msg}
	}

	history, err := Decode[types.ChatHistory](args[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", types.EventChatHistory, err)
	}
	if err := history.Validate(roomID); err != nil {
		return nil, fmt.Errorf("%s: %w", types.EventChatHistory, err)
	}

	c.logger.Debug("fetched room history",
		zap.String("room_id", roomID),
		zap.String("request_id", requestID),
		zap.Int("messages", len(history.Messages)))
	return history, nil
}

func pushed(exp interfaces.Expectation) bool {
	select {
	case <-exp.Ready():
		return true
	default:
		return false
	}
}

// MatchHistory accepts a chatHistory push for this request: by echoed
// requestId when the server provides one, by roomId otherwise.
func MatchHistory(roomID, requestID string) func(args []json.RawMessage) bool {
	return func(args []json.RawMessage) bool {
		if len(args) == 0 {
			return false
		}
		var head struct {
			RoomID    string `json:"roomId"`
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(args[0], &head); err != nil {
			return false
		}
		if head.RequestID != "" {
			return head.RequestID == requestID
		}
		return head.RoomID == roomID
	}
}

// SendMessage sends req and returns the message as persisted by the server.
func (c *Client) SendMessage(ctx context.Context, req types.SendRequest) (*types.Message, error) {
	if req.RoomID == "" {
		return nil, ErrMissingRoom
	}
	if req.Type == "" {
		req.Type = types.MessageTypeText
	}
	if !types.IsValidMessageType(req.Type) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidMessageType, req.Type)
	}

	msg, err := Request[types.Message](ctx, c, types.EventSendMessage, req)
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", types.EventSendMessage, err)
	}
	return msg, nil
}

// OnNewMessage subscribes fn to newMessage pushes. Undecodable or invalid
// pushes are logged and dropped. fn runs on the connection's read goroutine
// and must not block.
func (c *Client) OnNewMessage(fn func(msg *types.Message)) func() {
	return c.ch.On(types.EventNewMessage, func(args []json.RawMessage) {
		if len(args) == 0 {
			c.logger.Warn("dropping empty newMessage push")
			return
		}
		msg, err := Decode[types.Message](args[0])
		if err != nil {
			c.logger.Warn("dropping undecodable newMessage push", zap.Error(err))
			return
		}
		if err := msg.Validate(); err != nil {
			c.logger.Warn("dropping invalid newMessage push", zap.String("message_id", msg.ID), zap.Error(err))
			return
		}
		fn(msg)
	})
}
