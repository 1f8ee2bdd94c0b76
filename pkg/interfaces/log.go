package interfaces

import (
	"context"

	"roomcast/pkg/types"
)

// MessageLog is the narrow persistence contract a room depends on: append a
// message under a time-ordered key and list the most recent entries. The
// room re-orders replayed entries chronologically regardless of storage
// iteration order.
type MessageLog interface {
	AppendMessage(ctx context.Context, roomID string, msg *types.Message) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error)
}
