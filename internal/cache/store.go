package cache

import (
	"context"
	"time"

	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// EntryInfo identifies a stored entry and when it was stored.
type EntryInfo struct {
	Key      string
	StoredAt int64
}

// Age returns how long before now the entry was stored.
func (e EntryInfo) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.StoredAt))
}

// Store persists cache entries by group. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the entry or nil when it is absent.
	Get(ctx context.Context, group, key string) (*models.CacheEntry, error)

	// Put stores entry under entry.Group, replacing any previous value.
	Put(ctx context.Context, entry *models.CacheEntry) error

	// Delete removes one entry. Removing an absent entry is not an error.
	Delete(ctx context.Context, group, key string) error

	// Entries lists a group's entries, oldest first.
	Entries(ctx context.Context, group string) ([]EntryInfo, error)

	// Groups lists every group holding at least one entry.
	Groups(ctx context.Context) ([]string, error)

	// DeleteGroup removes a group and all of its entries.
	DeleteGroup(ctx context.Context, group string) error
}
