package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// TripRepository defines operations for offline trip persistence.
type TripRepository interface {
	// SaveTripOffline persists a trip with synced=false.
	SaveTripOffline(ctx context.Context, trip models.PendingTrip) (*models.PendingTrip, error)

	// GetPendingTrips returns the unsynced trips owned by a user.
	GetPendingTrips(ctx context.Context, userID string) ([]models.PendingTrip, error)

	// MarkTripSynced sets synced=true on a trip.
	MarkTripSynced(ctx context.Context, id string) error
}

// MessageRepository defines operations for offline message persistence.
type MessageRepository interface {
	SaveMessageOffline(ctx context.Context, msg models.PendingMessage) (*models.PendingMessage, error)
	GetPendingMessages(ctx context.Context) ([]models.PendingMessage, error)
	MarkMessageSynced(ctx context.Context, id string) error
}

// PreferenceRepository defines operations for the key/value preference table.
type PreferenceRepository interface {
	SaveUserPreference(ctx context.Context, key string, value json.RawMessage) error
	GetUserPreference(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// SyncRepository groups the repositories the sync coordinator drains.
type SyncRepository interface {
	TripRepository
	MessageRepository
}

// LocalStore is the full client store surface.
type LocalStore interface {
	SyncRepository
	PreferenceRepository

	// ClearOldData deletes synced records older than maxAge and returns how many went.
	ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error)

	// PendingCounts returns the unsynced backlog size.
	PendingCounts(ctx context.Context) (PendingCounts, error)
}

// Ensure *Store implements the interfaces at compile time.
var (
	_ TripRepository       = (*Store)(nil)
	_ MessageRepository    = (*Store)(nil)
	_ PreferenceRepository = (*Store)(nil)
	_ SyncRepository       = (*Store)(nil)
	_ LocalStore           = (*Store)(nil)
)
