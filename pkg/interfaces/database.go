package interfaces

import (
	"context"

	"chatdesk/pkg/types"
)

// Journal records what the chat session materialized for later audit
// ARCHITECTURAL DISCOVERY: The journal is write-mostly; nothing in the session
// reads it back, the chat server stays the only source of truth
type Journal interface {
	// StoreRooms upserts the latest directory snapshot.
	StoreRooms(ctx context.Context, list *types.ChatList) error

	// StoreMessages upserts messages, keyed by message id.
	StoreMessages(ctx context.Context, messages []types.Message) error

	// RoomTranscript returns the recorded messages of a room ordered by timestamp.
	RoomTranscript(ctx context.Context, roomID string) ([]types.Message, error)

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the database.
	Close() error
}
