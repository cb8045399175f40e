package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// DefaultBuffer is the event channel capacity used when none is given.
const DefaultBuffer = 1000

// Hub serializes server-pushed messages onto a single goroutine
// ARCHITECTURAL DISCOVERY: The socket read loop only enqueues; subscribers run
// on the hub goroutine one event at a time, so they may issue blocking
// requests on the same connection without stalling its reader
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs push bursts while a
	// subscriber is waiting on a directory refresh
	eventChannel    chan *PushContext
	shutdownChannel chan struct{}
	done            chan struct{}

	subMu       sync.RWMutex
	subscribers []*subscription
	nextID      int

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex

	processed uint64
	dropped   uint64
	logger    *zap.Logger
}

// PushContext wraps a pushed message with its arrival time.
type PushContext struct {
	Message    *types.Message
	ReceivedAt time.Time
}

type subscription struct {
	id      int
	handler interfaces.MessageHandler
}

// NewHub creates a stopped hub. A non-positive buffer selects DefaultBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		eventChannel: make(chan *PushContext, buffer),
		logger:       logger,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps subscriber side effects
// in arrival order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	h.logger.Info("starting push hub")
	go h.run(ctx, shutdown, done)
	return nil
}

// Stop shuts the hub down and waits for the event in progress to finish.
// Queued events that were not processed yet are discarded. Must not be
// called from a subscriber.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	h.logger.Info("stopping push hub")
	<-done
	return nil
}

// Running reports whether the processing loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Subscribe adds handler to the fan-out list and returns its unsubscribe func.
func (h *Hub) Subscribe(handler interfaces.MessageHandler) func() {
	h.subMu.Lock()
	h.nextID++
	id := h.nextID
	h.subscribers = append(h.subscribers, &subscription{id: id, handler: handler})
	h.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subMu.Lock()
			defer h.subMu.Unlock()
			for i, s := range h.subscribers {
				if s.id == id {
					h.subscribers = append(h.subscribers[:i:i], h.subscribers[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish queues a pushed message for the subscribers
// TECHNICAL DISCOVERY: Non-blocking send keeps the socket reader from ever
// waiting on a slow subscriber; overflow is reported and the push dropped
func (h *Hub) Publish(message *types.Message) error {
	if message == nil {
		return ErrNilMessage
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- &PushContext{Message: message, ReceivedAt: time.Now()}:
		return nil
	default:
		atomic.AddUint64(&h.dropped, 1)
		h.logger.Warn("push dropped, event channel full",
			zap.String("message_id", message.ID),
			zap.String("room_id", message.RoomID))
		return ErrEventChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer h.logger.Info("push hub stopped")

	for {
		select {
		case push := <-h.eventChannel:
			h.handleEvent(ctx, push)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

// handleEvent delivers one push to every subscriber
// FUNCTIONAL DISCOVERY: A panicking subscriber is logged and skipped so the
// remaining subscribers and later pushes still run
func (h *Hub) handleEvent(ctx context.Context, push *PushContext) {
	h.subMu.RLock()
	subscribers := make([]*subscription, len(h.subscribers))
	copy(subscribers, h.subscribers)
	h.subMu.RUnlock()

	for _, s := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("push subscriber panicked",
						zap.Int("subscriber", s.id),
						zap.Any("panic", r))
				}
			}()
			s.handler(ctx, push.Message)
		}()
	}

	atomic.AddUint64(&h.processed, 1)

	h.logger.Debug("push delivered",
		zap.String("message_id", push.Message.ID),
		zap.String("room_id", push.Message.RoomID),
		zap.Int("subscribers", len(subscribers)),
		zap.Duration("queued_for", time.Since(push.ReceivedAt)))
}

// Stats returns hub counters for monitoring and tests.
func (h *Hub) Stats() map[string]int {
	h.subMu.RLock()
	subs := len(h.subscribers)
	h.subMu.RUnlock()

	return map[string]int{
		"subscribers": subs,
		"queued":      len(h.eventChannel),
		"processed":   int(atomic.LoadUint64(&h.processed)),
		"dropped":     int(atomic.LoadUint64(&h.dropped)),
	}
}
