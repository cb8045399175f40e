package router

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chatdesk/pkg/interfaces"
)

// Router dispatches inbound packets of one connection
// ARCHITECTURAL DISCOVERY: Acknowledgements are matched by ack id and pushed
// events by explicit match functions, never by bare event name alone, so a late
// or foreign push cannot resolve the wrong request
type Router struct {
	mu           sync.Mutex
	nextAckID    int
	pending      map[int]*AckWaiter
	listeners    map[string][]*listener
	expectations map[string][]*Expectation
	closedErr    error
	logger       *zap.Logger
}

type listener struct {
	handler interfaces.EventHandler
}

type ackResult struct {
	args []json.RawMessage
	err  error
}

// AckWaiter is the pending side of an emitted request.
type AckWaiter struct {
	ID     int
	result chan ackResult
}

// Wait blocks until the acknowledgement arrives, the router fails, or ctx ends.
func (w *AckWaiter) Wait(ctx context.Context) ([]json.RawMessage, error) {
	select {
	case res := <-w.result:
		return res.args, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expectation is a one-shot waiter for a matching pushed event.
type Expectation struct {
	router *Router
	event  string
	match  func(args []json.RawMessage) bool

	once  sync.Once
	ready chan struct{}
	args  []json.RawMessage
	err   error
}

// NewRouter creates a router with empty tables.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		pending:      make(map[int]*AckWaiter),
		listeners:    make(map[string][]*listener),
		expectations: make(map[string][]*Expectation),
		logger:       logger,
	}
}

// RegisterAck allocates the next ack id and its waiter.
func (r *Router) RegisterAck() (*AckWaiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closedErr != nil {
		return nil, r.closedErr
	}

	w := &AckWaiter{ID: r.nextAckID, result: make(chan ackResult, 1)}
	r.nextAckID++
	r.pending[w.ID] = w
	return w, nil
}

// CancelAck forgets a waiter whose caller gave up.
func (r *Router) CancelAck(id int) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// RouteAck resolves the waiter registered under id.
func (r *Router) RouteAck(id int, args []json.RawMessage) {
	r.mu.Lock()
	w, exists := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !exists {
		r.logger.Warn("dropping acknowledgement with unknown id", zap.Int("ack_id", id))
		return
	}
	w.result <- ackResult{args: args}
}

// RouteEvent hands a pushed event to the first matching expectation,
// otherwise to every listener.
func (r *Router) RouteEvent(event string, args []json.RawMessage) {
	r.mu.Lock()
	var matched *Expectation
	waiting := r.expectations[event]
	for i, exp := range waiting {
		if exp.match == nil || exp.match(args) {
			matched = exp
			r.expectations[event] = append(waiting[:i:i], waiting[i+1:]...)
			if len(r.expectations[event]) == 0 {
				delete(r.expectations, event)
			}
			break
		}
	}
	var handlers []interfaces.EventHandler
	if matched == nil {
		for _, l := range r.listeners[event] {
			handlers = append(handlers, l.handler)
		}
	}
	r.mu.Unlock()

	if matched != nil {
		matched.resolve(args, nil)
		return
	}

	if len(handlers) == 0 {
		r.logger.Debug("dropping unmatched event", zap.String("event", event), zap.Int("waiting", len(waiting)))
		return
	}
	for _, h := range handlers {
		h(args)
	}
}

// On subscribes handler to event and returns its unsubscribe func.
func (r *Router) On(event string, handler interfaces.EventHandler) func() {
	l := &listener{handler: handler}

	r.mu.Lock()
	r.listeners[event] = append(r.listeners[event], l)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			current := r.listeners[event]
			for i, candidate := range current {
				if candidate == l {
					r.listeners[event] = append(current[:i:i], current[i+1:]...)
					break
				}
			}
			if len(r.listeners[event]) == 0 {
				delete(r.listeners, event)
			}
		})
	}
}

// Expect registers a one-shot waiter for event. A nil match accepts anything.
func (r *Router) Expect(event string, match func(args []json.RawMessage) bool) *Expectation {
	exp := &Expectation{
		router: r,
		event:  event,
		match:  match,
		ready:  make(chan struct{}),
	}

	r.mu.Lock()
	closedErr := r.closedErr
	if closedErr == nil {
		r.expectations[event] = append(r.expectations[event], exp)
	}
	r.mu.Unlock()

	if closedErr != nil {
		exp.resolve(nil, closedErr)
	}
	return exp
}

// FailAll fails every pending ack and expectation with err and refuses new
// registrations. Listeners are kept so late observers do not panic.
func (r *Router) FailAll(err error) {
	if err == nil {
		err = ErrRouterClosed
	}

	r.mu.Lock()
	if r.closedErr != nil {
		r.mu.Unlock()
		return
	}
	r.closedErr = err
	pending := r.pending
	expectations := r.expectations
	r.pending = make(map[int]*AckWaiter)
	r.expectations = make(map[string][]*Expectation)
	r.mu.Unlock()

	for _, w := range pending {
		w.result <- ackResult{err: err}
	}
	for _, list := range expectations {
		for _, exp := range list {
			exp.resolve(nil, err)
		}
	}
	if n := len(pending); n > 0 {
		r.logger.Info("failed pending requests", zap.Int("count", n), zap.Error(err))
	}
}

// Stats returns table sizes for monitoring and tests.
func (r *Router) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expectations := 0
	for _, list := range r.expectations {
		expectations += len(list)
	}
	listeners := 0
	for _, list := range r.listeners {
		listeners += len(list)
	}
	return map[string]int{
		"pending_acks": len(r.pending),
		"expectations": expectations,
		"listeners":    listeners,
	}
}

func (r *Router) removeExpectation(target *Expectation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.expectations[target.event]
	for i, exp := range current {
		if exp == target {
			r.expectations[target.event] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(r.expectations[target.event]) == 0 {
		delete(r.expectations, target.event)
	}
}

func (e *Expectation) resolve(args []json.RawMessage, err error) {
	e.once.Do(func() {
		e.args = args
		e.err = err
		close(e.ready)
	})
}

// Ready is closed once the expectation resolved, failed or was cancelled.
func (e *Expectation) Ready() <-chan struct{} { return e.ready }

// Result returns the matched arguments or the failure cause.
// Only meaningful after Ready is closed.
func (e *Expectation) Result() ([]json.RawMessage, error) {
	select {
	case <-e.ready:
		return e.args, e.err
	default:
		return nil, nil
	}
}

// Cancel deregisters the expectation.
func (e *Expectation) Cancel() {
	e.router.removeExpectation(e)
	e.resolve(nil, ErrExpectationDropped)
}
