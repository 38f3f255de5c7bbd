package sync

import (
	"context"
	"time"
)

// CoordinatorInterface defines the sync operations used by the scheduler and handlers.
// This interface allows for mocking in tests.
type CoordinatorInterface interface {
	// Sync performs one pass over the unsynced backlog of userID.
	Sync(ctx context.Context, userID string) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last completed pass.
	LastSync() *time.Time

	// LastError returns the last error that occurred during sync.
	LastError() error
}

var _ CoordinatorInterface = (*Coordinator)(nil)
