package store

import (
	"context"

	"github.com/nhle/approval-watcher/internal/model"
)

// Store defines the persistence interface for the external call journal.
// Only call metadata is kept: never message bodies or decision payloads.
type Store interface {
	// RecordCall inserts the call or updates the row with the same ID.
	RecordCall(ctx context.Context, call model.ExternalCall) error

	// RecentCalls returns the newest calls first.
	RecentCalls(ctx context.Context, limit int) ([]model.ExternalCall, error)

	// CallsForRequest returns every call made for a request id, oldest first.
	CallsForRequest(ctx context.Context, requestID string) ([]model.ExternalCall, error)

	Close() error
}
