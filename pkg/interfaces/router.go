package interfaces

import (
	"context"

	"chatdesk/pkg/types"
)

// MessageHandler consumes a server-pushed message on the push event loop.
type MessageHandler func(ctx context.Context, message *types.Message)
