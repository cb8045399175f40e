package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"chatdesk/internal/hub"
	"chatdesk/pkg/types"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (p *recordingPublisher) PublishMsg(m *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func pushed(id, roomID string) *types.Message {
	return &types.Message{
		ID:          id,
		RoomID:      roomID,
		SenderID:    "cust-1",
		SenderType:  types.SenderCustomer,
		Content:     "where is my order",
		MessageType: types.MessageTypeText,
		Timestamp:   time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestNew_RequiresSubject(t *testing.T) {
	if _, err := New(&recordingPublisher{}, "  ", nil); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Expected ErrEmptySubject, got %v", err)
	}
	if _, err := Connect(Options{URL: "nats://127.0.0.1:1"}, nil); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Connect should validate the subject before dialing, got %v", err)
	}
}

func TestRelay_SubjectFor(t *testing.T) {
	r, err := New(&recordingPublisher{}, "care.messages.", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := map[string]string{
		"room-1":     "care.messages.room-1",
		"a.b":        "care.messages.a_b",
		"x*y>z":      "care.messages.x_y_z",
		"with space": "care.messages.with_space",
		"":           "care.messages._",
	}
	for room, want := range tests {
		if got := r.SubjectFor(room); got != want {
			t.Errorf("SubjectFor(%q) = %q, want %q", room, got, want)
		}
	}
}

func TestRelay_Handle(t *testing.T) {
	pub := &recordingPublisher{}
	r, _ := New(pub, "care.messages", nil)

	r.Handle(context.Background(), pushed("m1", "r1"))
	r.Handle(context.Background(), nil)

	if pub.count() != 1 {
		t.Fatalf("expected one publish, got %d", pub.count())
	}
	msg := pub.msgs[0]
	if msg.Subject != "care.messages.r1" {
		t.Errorf("unexpected subject %s", msg.Subject)
	}
	if msg.Header.Get(HeaderMessageID) != "m1" || msg.Header.Get(HeaderSenderType) != "CUSTOMER" {
		t.Errorf("unexpected headers %v", msg.Header)
	}

	var decoded types.Message
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ID != "m1" || decoded.RoomID != "r1" {
		t.Errorf("unexpected payload %+v", decoded)
	}
	if r.Stats()["published"] != 1 {
		t.Errorf("unexpected stats %v", r.Stats())
	}
}

func TestRelay_PublishFailureIsContained(t *testing.T) {
	pub := &recordingPublisher{err: nats.ErrConnectionClosed}
	r, _ := New(pub, "care.messages", nil)

	r.Handle(context.Background(), pushed("m1", "r1"))

	stats := r.Stats()
	if stats["failed"] != 1 || stats["published"] != 0 {
		t.Errorf("unexpected stats %v", stats)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close without an owned connection should be a no-op: %v", err)
	}
}

func TestRelay_AttachToHub(t *testing.T) {
	h := hub.NewHub(0, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer func() { _ = h.Stop() }()

	pub := &recordingPublisher{}
	r, _ := New(pub, "care.messages", nil)
	detach := r.Attach(h)

	_ = h.Publish(pushed("m1", "r1"))
	_ = h.Publish(pushed("m2", "r2"))

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 relayed pushes, got %d", pub.count())
	}

	detach()
	_ = h.Publish(pushed("m3", "r1"))
	deadline = time.Now().Add(2 * time.Second)
	for h.Stats()["processed"] < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() != 2 {
		t.Error("detached relay must not publish")
	}
}
