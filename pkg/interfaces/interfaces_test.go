package interfaces_test

import (
	"context"
	"encoding/json"
	"testing"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Mock implementations for testing

type mockChannel struct{}

func (m *mockChannel) Connect(ctx context.Context) error       { return nil }
func (m *mockChannel) Connected() bool                         { return false }
func (m *mockChannel) State() interfaces.ConnectionState       { return interfaces.StateIdle }
func (m *mockChannel) Emit(event string, args ...interface{}) error { return nil }
func (m *mockChannel) EmitWithAck(ctx context.Context, event string, args ...interface{}) ([]json.RawMessage, error) {
	return nil, nil
}
func (m *mockChannel) On(event string, handler interfaces.EventHandler) func() { return func() {} }
func (m *mockChannel) Expect(event string, match func([]json.RawMessage) bool) interfaces.Expectation {
	return &mockExpectation{ready: make(chan struct{})}
}
func (m *mockChannel) Close() error { return nil }

type mockExpectation struct{ ready chan struct{} }

func (m *mockExpectation) Ready() <-chan struct{}             { return m.ready }
func (m *mockExpectation) Result() ([]json.RawMessage, error) { return nil, nil }
func (m *mockExpectation) Cancel()                            {}

type mockJournal struct{}

func (m *mockJournal) StoreRooms(ctx context.Context, list *types.ChatList) error { return nil }
func (m *mockJournal) StoreMessages(ctx context.Context, messages []types.Message) error {
	return nil
}
func (m *mockJournal) RoomTranscript(ctx context.Context, roomID string) ([]types.Message, error) {
	return nil, nil
}
func (m *mockJournal) HealthCheck(ctx context.Context) error { return nil }
func (m *mockJournal) Close() error                          { return nil }

type mockTokenSource struct{}

func (m *mockTokenSource) AccessToken() (string, error) { return "token", nil }

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Channel = &mockChannel{}
	var _ interfaces.Expectation = &mockExpectation{}
	var _ interfaces.Journal = &mockJournal{}
	var _ interfaces.TokenSource = &mockTokenSource{}
	var _ interfaces.MessageHandler = func(ctx context.Context, m *types.Message) {}
}

func TestChannel_InterfaceContract(t *testing.T) {
	var ch interfaces.Channel = &mockChannel{}
	ctx := context.Background()

	_ = ch.Connect(ctx)
	_ = ch.Connected()
	_ = ch.State()
	_ = ch.Emit(types.EventGetAllChats)
	_, _ = ch.EmitWithAck(ctx, types.EventGetAllChats)
	unsubscribe := ch.On(types.EventNewMessage, func(args []json.RawMessage) {})
	unsubscribe()
	exp := ch.Expect(types.EventChatHistory, func(args []json.RawMessage) bool { return true })
	exp.Cancel()
	_ = ch.Close()
}

func TestJournal_InterfaceContract(t *testing.T) {
	var j interfaces.Journal = &mockJournal{}
	ctx := context.Background()

	_ = j.StoreRooms(ctx, &types.ChatList{})
	_ = j.StoreMessages(ctx, []types.Message{{ID: "m1"}})
	_, _ = j.RoomTranscript(ctx, "r1")
	_ = j.HealthCheck(ctx)
	_ = j.Close()
}

func TestConnectionState_Values(t *testing.T) {
	states := []interfaces.ConnectionState{
		interfaces.StateIdle,
		interfaces.StateConnecting,
		interfaces.StateConnected,
		interfaces.StateDisconnected,
	}
	seen := make(map[interfaces.ConnectionState]bool)
	for _, s := range states {
		if s == "" {
			t.Error("connection state must not be empty")
		}
		if seen[s] {
			t.Errorf("duplicate connection state %q", s)
		}
		seen[s] = true
	}
}
