package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatdesk/internal/chat"
	"chatdesk/internal/hub"
	"chatdesk/internal/websocket"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// HistoryState tracks the materialization of the selected room's log.
type HistoryState string

const (
	HistoryIdle    HistoryState = "idle"
	HistoryLoading HistoryState = "loading"
	HistoryReady   HistoryState = "ready"
	HistoryError   HistoryState = "error"
)

// Options wires a Manager.
type Options struct {
	Tokens         interfaces.TokenSource
	Factory        *websocket.Factory
	Hub            *hub.Hub
	Journal        interfaces.Journal // optional
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Manager is the chat session of one signed-in agent
// ARCHITECTURAL DISCOVERY: All session state lives here and is owned by the
// caller; the connection is borrowed from the factory, and pushes reach the
// state through the hub goroutine, never through the socket reader
// FUNCTIONAL DISCOVERY: The room directory and the selected room's log are
// both replaced wholesale from server responses; the only local edits are
// appends of acknowledged or pushed messages for the selected room
type Manager struct {
	tokens  interfaces.TokenSource
	factory *websocket.Factory
	hub     *hub.Hub
	journal interfaces.Journal
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.RWMutex
	conn       *websocket.Connection
	client     *chat.Client
	detach     []func()
	unsubHub   func()
	closed     bool
	rooms      types.ChatList
	selected   string
	messages   []types.Message
	state      HistoryState
	lastErr    error
	generation uint64
	buffered   []types.Message // pushes for the selected room received while its history loads
}

// NewManager creates a session and subscribes it to the hub.
func NewManager(opts Options) (*Manager, error) {
	if opts.Tokens == nil || opts.Factory == nil || opts.Hub == nil {
		return nil, ErrNilDependency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{
		tokens:  opts.Tokens,
		factory: opts.Factory,
		hub:     opts.Hub,
		journal: opts.Journal,
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
		state:   HistoryIdle,
	}
	m.unsubHub = opts.Hub.Subscribe(m.handlePush)
	return m, nil
}

// Open obtains the shared connection, connects it and loads the directory.
// Calling Open on an open, connected session only refreshes the directory.
func (m *Manager) Open(ctx context.Context) error {
	if err := m.ensureConnection(ctx); err != nil {
		return err
	}
	return m.RefreshRooms(ctx)
}

// Reconnect replaces a dead connection and reloads the directory and the
// selected room's history. Nothing reconnects automatically.
func (m *Manager) Reconnect(ctx context.Context) error {
	if err := m.ensureConnection(ctx); err != nil {
		return err
	}
	if err := m.RefreshRooms(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	selected := m.selected
	m.mu.RUnlock()
	if selected == "" {
		return nil
	}
	return m.Select(ctx, selected)
}

// ensureConnection resolves the token, borrows the factory's connection for
// it and connects. A different instance than the current one is re-attached.
func (m *Manager) ensureConnection(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	token, err := m.tokens.AccessToken()
	if err != nil {
		m.logger.Error("no access token for chat session", zap.Error(err))
		return err
	}
	conn, err := m.factory.Connection(token)
	if err != nil {
		return err
	}
	m.attach(conn)

	if err := conn.Connect(ctx); err != nil {
		m.logger.Error("chat connection failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) attach(conn *websocket.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == conn {
		return
	}
	for _, fn := range m.detach {
		fn()
	}

	client := chat.NewClient(conn, m.timeout, m.logger.Named("chat"))
	m.conn = conn
	m.client = client
	m.detach = []func(){
		client.OnNewMessage(func(msg *types.Message) {
			if err := m.hub.Publish(msg); err != nil {
				m.logger.Warn("push not queued", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}),
		conn.On(websocket.EventDisconnect, func(args []json.RawMessage) {
			var reason string
			if len(args) > 0 {
				_ = json.Unmarshal(args[0], &reason)
			}
			m.logger.Warn("chat session lost its connection", zap.String("reason", reason))
		}),
	}
	m.logger.Info("chat session attached to connection", zap.String("conn_id", conn.ID()))
}

// RefreshRooms replaces the room directory with the server's partition. When
// nothing is selected it selects the first ongoing room and loads its history;
// a failure of that history load is logged, not returned.
func (m *Manager) RefreshRooms(ctx context.Context) error {
	client, err := m.currentClient()
	if err != nil {
		return err
	}

	list, err := client.FetchAllRooms(ctx)
	if err != nil {
		m.logger.Error("failed to fetch room directory", zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.rooms = *list
	autoSelect := ""
	if m.selected == "" && len(list.Ongoing) > 0 {
		autoSelect = list.Ongoing[0].RoomID
	}
	m.mu.Unlock()

	m.record(func(j interfaces.Journal) error { return j.StoreRooms(ctx, list) })

	if autoSelect != "" {
		if err := m.Select(ctx, autoSelect); err != nil {
			m.logger.Warn("auto-selected room history failed", zap.String("room_id", autoSelect), zap.Error(err))
		}
	}
	return nil
}

// Select makes roomID the selected room and reloads its history. An empty id
// clears the selection without any request. Selecting the current room again
// re-fetches without clearing the displayed log first.
// TECHNICAL DISCOVERY: Each call takes a new generation; a history response
// that arrives after a newer Select is discarded with ErrSelectionChanged
func (m *Manager) Select(ctx context.Context, roomID string) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.buffered = nil

	if roomID == "" {
		m.selected = ""
		m.messages = nil
		m.state = HistoryIdle
		m.lastErr = nil
		m.mu.Unlock()
		return nil
	}

	if roomID != m.selected {
		m.messages = nil
	}
	m.selected = roomID
	m.state = HistoryLoading
	client := m.client
	m.mu.Unlock()

	if client == nil {
		m.failHistory(gen, ErrNotOpen)
		return ErrNotOpen
	}

	history, err := client.FetchHistory(ctx, roomID)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.logger.Debug("discarding stale history", zap.String("room_id", roomID))
		return ErrSelectionChanged
	}
	if err != nil {
		m.state = HistoryError
		m.lastErr = err
		m.buffered = nil
		m.mu.Unlock()
		m.logger.Error("failed to load room history", zap.String("room_id", roomID), zap.Error(err))
		return err
	}

	messages := make([]types.Message, 0, len(history.Messages)+len(m.buffered))
	messages = append(messages, history.Messages...)
	for _, pushed := range m.buffered {
		if !containsMessage(messages, pushed.ID) {
			messages = append(messages, pushed)
		}
	}
	m.messages = messages
	m.buffered = nil
	m.state = HistoryReady
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("room history loaded", zap.String("room_id", roomID), zap.Int("messages", len(messages)))
	m.record(func(j interfaces.Journal) error { return j.StoreMessages(ctx, history.Messages) })
	return nil
}

func (m *Manager) failHistory(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.state = HistoryError
		m.lastErr = err
	}
}

// Send sends a text message to the selected room.
func (m *Manager) Send(ctx context.Context, text string) (*types.Message, error) {
	return m.SendContent(ctx, text, types.MessageTypeText)
}

// SendContent sends content of the given type to the selected room and
// returns the server's acknowledged message. With blank content, no selected
// room, or no connection it does nothing and returns (nil, nil).
func (m *Manager) SendContent(ctx context.Context, content string, messageType types.MessageType) (*types.Message, error) {
	content = strings.TrimSpace(content)

	m.mu.RLock()
	roomID := m.selected
	client := m.client
	m.mu.RUnlock()

	if content == "" || roomID == "" || client == nil {
		m.logger.Debug("send skipped",
			zap.Bool("empty_content", content == ""),
			zap.Bool("no_room", roomID == ""),
			zap.Bool("no_connection", client == nil))
		return nil, nil
	}

	msg, err := client.SendMessage(ctx, types.SendRequest{RoomID: roomID, Content: content, Type: messageType})
	if err != nil {
		m.logger.Error("failed to send message", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}

	m.appendIfSelected(*msg)
	m.record(func(j interfaces.Journal) error { return j.StoreMessages(ctx, []types.Message{*msg}) })

	if err := m.RefreshRooms(ctx); err != nil {
		m.logger.Warn("directory refresh after send failed", zap.Error(err))
	}
	return msg, nil
}

// handlePush runs on the hub goroutine for every newMessage push.
func (m *Manager) handlePush(ctx context.Context, msg *types.Message) {
	m.appendIfSelected(*msg)
	m.record(func(j interfaces.Journal) error { return j.StoreMessages(ctx, []types.Message{*msg}) })

	if err := m.RefreshRooms(ctx); err != nil {
		m.logger.Warn("directory refresh after push failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// appendIfSelected adds msg to the log when it belongs to the selected room,
// or buffers it while that room's history is loading. Duplicates by id are ignored.
func (m *Manager) appendIfSelected(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selected == "" || msg.RoomID != m.selected {
		return
	}
	if m.state == HistoryLoading {
		if !containsMessage(m.buffered, msg.ID) {
			m.buffered = append(m.buffered, msg)
		}
		return
	}
	if !containsMessage(m.messages, msg.ID) {
		m.messages = append(m.messages, msg)
	}
}

func containsMessage(list []types.Message, id string) bool {
	for i := range list {
		if list[i].ID == id {
			return true
		}
	}
	return false
}

func (m *Manager) currentClient() (*chat.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.client == nil {
		return nil, ErrNotOpen
	}
	return m.client, nil
}

func (m *Manager) record(write func(j interfaces.Journal) error) {
	if m.journal == nil {
		return
	}
	if err := write(m.journal); err != nil {
		m.logger.Warn("journal write failed", zap.Error(err))
	}
}

// Rooms returns a copy of the room directory.
func (m *Manager) Rooms() types.ChatList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.ChatList{
		Ongoing:  append([]types.Room(nil), m.rooms.Ongoing...),
		Awaiting: append([]types.Room(nil), m.rooms.Awaiting...),
	}
}

// Selected returns the selected room id, or "" when none is selected.
func (m *Manager) Selected() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// Messages returns a copy of the selected room's log.
func (m *Manager) Messages() []types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Message(nil), m.messages...)
}

// State returns the history state and the error of the last failed load.
func (m *Manager) State() (HistoryState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.lastErr
}

// Connected reports whether the session's connection is live.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && m.conn.Connected()
}

// ConnectionState returns the lifecycle state of the borrowed connection.
func (m *Manager) ConnectionState() interfaces.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return interfaces.StateIdle
	}
	return m.conn.State()
}

// Close unsubscribes the session and releases the shared connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, fn := range m.detach {
		fn()
	}
	m.detach = nil
	m.conn = nil
	m.client = nil
	m.generation++
	m.mu.Unlock()

	m.unsubHub()
	return m.factory.Release()
}
