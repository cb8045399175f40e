package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatdesk/pkg/database"
	"chatdesk/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "journal.db")
	config.RetryDelay = 0

	manager, err := NewManager(config, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

var base = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func textMessage(id, roomID string, offset time.Duration) types.Message {
	return types.Message{
		ID:          id,
		RoomID:      roomID,
		SenderID:    "cust-1",
		SenderType:  types.SenderCustomer,
		Content:     "hello " + id,
		MessageType: types.MessageTypeText,
		Timestamp:   base.Add(offset),
		ReadBy:      []string{"cust-1"},
		CustomerSender: &types.PersonSender{
			ID:        "cust-1",
			FirstName: "Ada",
			LastName:  "Lovelace",
		},
	}
}

func TestManager_InvalidConfig(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = ""
	if _, err := NewManager(config, nil); err == nil {
		t.Error("NewManager should reject an empty path")
	}
}

func TestManager_StoreMessagesAndTranscript(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	// stored out of order on purpose
	err := manager.StoreMessages(ctx, []types.Message{
		textMessage("m2", "r1", 2*time.Minute),
		textMessage("m1", "r1", time.Minute),
		textMessage("x1", "r2", 0),
	})
	if err != nil {
		t.Fatalf("StoreMessages failed: %v", err)
	}

	transcript, err := manager.RoomTranscript(ctx, "r1")
	if err != nil {
		t.Fatalf("RoomTranscript failed: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected 2 messages for r1, got %d", len(transcript))
	}
	if transcript[0].ID != "m1" || transcript[1].ID != "m2" {
		t.Errorf("transcript should be ordered by timestamp, got %s,%s", transcript[0].ID, transcript[1].ID)
	}
	if transcript[0].CustomerSender == nil || transcript[0].CustomerSender.FirstName != "Ada" {
		t.Error("sender details should round-trip through the payload")
	}
	if !transcript[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp mismatch: %v", transcript[0].Timestamp)
	}
}

func TestManager_StoreMessagesUpserts(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	msg := textMessage("m1", "r1", 0)
	if err := manager.StoreMessages(ctx, []types.Message{msg}); err != nil {
		t.Fatalf("StoreMessages failed: %v", err)
	}

	msg.ReadBy = []string{"cust-1", "agent-1"}
	if err := manager.StoreMessages(ctx, []types.Message{msg}); err != nil {
		t.Fatalf("second StoreMessages failed: %v", err)
	}

	transcript, err := manager.RoomTranscript(ctx, "r1")
	if err != nil {
		t.Fatalf("RoomTranscript failed: %v", err)
	}
	if len(transcript) != 1 {
		t.Fatalf("same id must be stored once, got %d", len(transcript))
	}
	if len(transcript[0].ReadBy) != 2 {
		t.Error("later copy should replace the earlier one")
	}
}

func TestManager_StoreMessagesRejectsUnknownTypes(t *testing.T) {
	manager := setupTestDB(t)

	bad := textMessage("m1", "r1", 0)
	bad.SenderType = "ROBOT"
	good := textMessage("m2", "r1", 0)

	if err := manager.StoreMessages(context.Background(), []types.Message{good, bad}); err == nil {
		t.Fatal("unknown sender type should violate the check constraint")
	}

	transcript, _ := manager.RoomTranscript(context.Background(), "r1")
	if len(transcript) != 0 {
		t.Error("a failed batch must not be partially committed")
	}
}

func TestManager_EmptyInputsAreNoOps(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.StoreMessages(ctx, nil); err != nil {
		t.Errorf("empty StoreMessages should succeed: %v", err)
	}
	if err := manager.StoreRooms(ctx, nil); err != nil {
		t.Errorf("nil StoreRooms should succeed: %v", err)
	}

	transcript, err := manager.RoomTranscript(ctx, "unknown")
	if err != nil {
		t.Fatalf("RoomTranscript failed: %v", err)
	}
	if transcript == nil || len(transcript) != 0 {
		t.Error("unknown room should yield an empty, non-nil transcript")
	}
}

func TestManager_StoreRooms(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	related := "order-9"
	list := &types.ChatList{
		Ongoing: []types.Room{{
			RoomID:           "r1",
			Type:             "CUSTOMER_SUPPORT",
			OtherParticipant: types.Participant{UserID: "cust-1", UserType: "CUSTOMER", FirstName: "Ada"},
			LastActivity:     base,
			RelatedID:        &related,
		}},
		Awaiting: []types.Room{{
			RoomID:           "r2",
			OtherParticipant: types.Participant{UserID: "rest-1", UserType: "RESTAURANT", RestaurantName: "Pho 24"},
		}},
	}
	if err := manager.StoreRooms(ctx, list); err != nil {
		t.Fatalf("StoreRooms failed: %v", err)
	}

	counts, err := manager.RoomCount(ctx)
	if err != nil {
		t.Fatalf("RoomCount failed: %v", err)
	}
	if counts["ongoing"] != 1 || counts["awaiting"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	// the server moved r2 to ongoing
	list.Ongoing = append(list.Ongoing, list.Awaiting[0])
	list.Awaiting = nil
	if err := manager.StoreRooms(ctx, list); err != nil {
		t.Fatalf("second StoreRooms failed: %v", err)
	}

	counts, _ = manager.RoomCount(ctx)
	if counts["ongoing"] != 2 || counts["awaiting"] != 0 {
		t.Errorf("room should follow its latest partition, got %v", counts)
	}

	var name string
	if err := manager.GetDB().QueryRow("SELECT display_name FROM rooms WHERE room_id = 'r2'").Scan(&name); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if name != "Pho 24" {
		t.Errorf("expected display name Pho 24, got %q", name)
	}
}

// TECHNICAL VALIDATION TEST: Concurrent writers are serialized by the write loop
func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)

	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			msg := textMessage(fmt.Sprintf("m%02d", id), "r1", time.Duration(id)*time.Second)
			if err := manager.StoreMessages(ctx, []types.Message{msg}); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent write failed: %v", err)
	}

	transcript, err := manager.RoomTranscript(ctx, "r1")
	if err != nil {
		t.Fatalf("RoomTranscript failed: %v", err)
	}
	if len(transcript) != numWrites {
		t.Errorf("Expected %d messages, got %d", numWrites, len(transcript))
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager := setupTestDB(t)
	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck should succeed for healthy database: %v", err)
	}
}

func TestManager_CancelledContext(t *testing.T) {
	manager := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := manager.StoreMessages(ctx, []types.Message{textMessage("m1", "r1", 0)}); err == nil {
		t.Error("a cancelled context should fail the write")
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.StoreMessages(ctx, []types.Message{textMessage("m1", "r1", 0)}); err != nil {
		t.Fatalf("StoreMessages should succeed: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Errorf("Close should succeed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}

	err := manager.StoreMessages(ctx, []types.Message{textMessage("m2", "r1", 0)})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after Close, got %v", err)
	}
}
