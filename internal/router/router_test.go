package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chatdesk/pkg/interfaces"
)

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func roomMatcher(roomID string) func([]json.RawMessage) bool {
	return func(args []json.RawMessage) bool {
		if len(args) == 0 {
			return false
		}
		var payload struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(args[0], &payload); err != nil {
			return false
		}
		return payload.RoomID == roomID
	}
}

func TestRouter_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Expectation = &Expectation{}
}

func TestRouter_AckRoundTrip(t *testing.T) {
	r := NewRouter(nil)

	w1, err := r.RegisterAck()
	if err != nil {
		t.Fatalf("RegisterAck failed: %v", err)
	}
	w2, _ := r.RegisterAck()
	if w1.ID == w2.ID {
		t.Fatalf("ack ids must be unique, got %d twice", w1.ID)
	}

	r.RouteAck(w2.ID, []json.RawMessage{raw(t, "second")})
	r.RouteAck(w1.ID, []json.RawMessage{raw(t, "first")})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	args, err := w1.Wait(ctx)
	if err != nil || string(args[0]) != `"first"` {
		t.Errorf("waiter 1 got %v, %v", args, err)
	}
	args, err = w2.Wait(ctx)
	if err != nil || string(args[0]) != `"second"` {
		t.Errorf("waiter 2 got %v, %v", args, err)
	}

	if got := r.Stats()["pending_acks"]; got != 0 {
		t.Errorf("expected no pending acks, got %d", got)
	}
}

func TestRouter_UnknownAckDropped(t *testing.T) {
	r := NewRouter(nil)
	r.RouteAck(42, nil) // must not panic
}

func TestRouter_WaitHonoursContext(t *testing.T) {
	r := NewRouter(nil)
	w, _ := r.RegisterAck()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	r.CancelAck(w.ID)
	if got := r.Stats()["pending_acks"]; got != 0 {
		t.Errorf("expected cancelled ack to be forgotten, got %d pending", got)
	}
}

func TestRouter_ExpectationMatchesByPayload(t *testing.T) {
	r := NewRouter(nil)

	var listenerCalls int32
	r.On("chatHistory", func(args []json.RawMessage) {
		atomic.AddInt32(&listenerCalls, 1)
	})

	expA := r.Expect("chatHistory", roomMatcher("a"))
	expB := r.Expect("chatHistory", roomMatcher("b"))

	// a push for b must not resolve a
	r.RouteEvent("chatHistory", []json.RawMessage{raw(t, map[string]string{"roomId": "b"})})

	select {
	case <-expB.Ready():
	default:
		t.Fatal("expectation b should be resolved")
	}
	select {
	case <-expA.Ready():
		t.Fatal("expectation a must not be resolved by b's push")
	default:
	}

	r.RouteEvent("chatHistory", []json.RawMessage{raw(t, map[string]string{"roomId": "a"})})
	args, err := expA.Result()
	if err != nil || len(args) != 1 {
		t.Fatalf("expectation a got %v, %v", args, err)
	}

	if atomic.LoadInt32(&listenerCalls) != 0 {
		t.Error("matched events must not reach listeners")
	}

	// an unmatched push falls through to listeners
	r.RouteEvent("chatHistory", []json.RawMessage{raw(t, map[string]string{"roomId": "zzz"})})
	if atomic.LoadInt32(&listenerCalls) != 1 {
		t.Errorf("expected unmatched event to reach the listener once, got %d", listenerCalls)
	}
}

func TestRouter_ExpectationCancel(t *testing.T) {
	r := NewRouter(nil)
	exp := r.Expect("chatHistory", nil)
	if r.Stats()["expectations"] != 1 {
		t.Fatal("expected one registered expectation")
	}

	exp.Cancel()
	exp.Cancel()

	if r.Stats()["expectations"] != 0 {
		t.Error("cancelled expectation must be deregistered")
	}
	if _, err := exp.Result(); !errors.Is(err, ErrExpectationDropped) {
		t.Errorf("expected ErrExpectationDropped, got %v", err)
	}
}

func TestRouter_ListenerUnsubscribe(t *testing.T) {
	r := NewRouter(nil)

	var calls int32
	unsubscribe := r.On("newMessage", func(args []json.RawMessage) {
		atomic.AddInt32(&calls, 1)
	})

	r.RouteEvent("newMessage", nil)
	unsubscribe()
	unsubscribe()
	r.RouteEvent("newMessage", nil)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if r.Stats()["listeners"] != 0 {
		t.Error("listener table should be empty after unsubscribe")
	}
}

func TestRouter_FailAll(t *testing.T) {
	r := NewRouter(nil)
	w, _ := r.RegisterAck()
	exp := r.Expect("chatHistory", nil)

	cause := errors.New("socket closed")
	r.FailAll(cause)

	if _, err := w.Wait(context.Background()); !errors.Is(err, cause) {
		t.Errorf("pending ack should fail with cause, got %v", err)
	}
	<-exp.Ready()
	if _, err := exp.Result(); !errors.Is(err, cause) {
		t.Errorf("expectation should fail with cause, got %v", err)
	}

	if _, err := r.RegisterAck(); !errors.Is(err, cause) {
		t.Errorf("registration after FailAll should fail, got %v", err)
	}
	late := r.Expect("chatHistory", nil)
	if _, err := late.Result(); !errors.Is(err, cause) {
		t.Errorf("late expectation should fail immediately, got %v", err)
	}

	r.FailAll(errors.New("second")) // idempotent
}
