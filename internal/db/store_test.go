// Package db tests for the offline store.
package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	database := openMemory(t)
	require.NoError(t, NewMigrator(database.DB).Up())
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(database)
	store.now = clock.now
	return store, clock
}

// =====================================================
// Trips
// =====================================================

func TestStore_SaveTripOffline(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	saved, err := store.SaveTripOffline(ctx, models.PendingTrip{
		ID:      "T1",
		UserID:  "U1",
		Payload: json.RawMessage(`{"from":"A","to":"B"}`),
		Synced:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", saved.ID)
	assert.Equal(t, models.TripKindBooking, saved.Kind)
	assert.False(t, saved.Synced)
	assert.Equal(t, clock.t.UnixMilli(), saved.CreatedAt)

	stored, err := store.GetTrip(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Synced)
	assert.JSONEq(t, `{"from":"A","to":"B"}`, string(stored.Payload))
}

func TestStore_SaveTripOffline_GeneratesID(t *testing.T) {
	store, _ := newTestStore(t)

	saved, err := store.SaveTripOffline(context.Background(), models.PendingTrip{UserID: "U1"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "null", string(saved.Payload))
}

func TestStore_SaveTripOffline_DuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)

	_, err = store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
}

func TestStore_SaveTripOffline_InvalidKind(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.SaveTripOffline(context.Background(), models.PendingTrip{UserID: "U1", Kind: "cargo"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestStore_GetPendingTrips(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, trip := range []models.PendingTrip{
		{ID: "T1", UserID: "U1"},
		{ID: "T2", UserID: "U1", Kind: models.TripKindHistory},
		{ID: "T3", UserID: "U2"},
	} {
		_, err := store.SaveTripOffline(ctx, trip)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkTripSynced(ctx, "T2"))

	pending, err := store.GetPendingTrips(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "T1", pending[0].ID)

	none, err := store.GetPendingTrips(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_MarkTripSynced_Missing(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.MarkTripSynced(context.Background(), "does-not-exist"))
}

func TestStore_GetTrip_Missing(t *testing.T) {
	store, _ := newTestStore(t)
	trip, err := store.GetTrip(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, trip)
}

// =====================================================
// Messages
// =====================================================

func TestStore_Messages(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessageOffline(ctx, models.PendingMessage{ID: "M1", ConversationID: "C1", SenderID: "U1", Content: "hi"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ID: "M2", ConversationID: "C2", SenderID: "U2", Content: "yo"})
	require.NoError(t, err)

	pending, err := store.GetPendingMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, store.MarkMessageSynced(ctx, "M1"))
	require.NoError(t, store.MarkMessageSynced(ctx, "missing"))

	pending, err = store.GetPendingMessages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "M2", pending[0].ID)
	assert.Equal(t, "yo", pending[0].Content)
}

// =====================================================
// Preferences
// =====================================================

func TestStore_MarkSyncedTwice(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ID: "M1", ConversationID: "C1", SenderID: "U1", Content: "here"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.MarkTripSynced(ctx, "T1"))
		require.NoError(t, store.MarkMessageSynced(ctx, "M1"))
	}

	trip, err := store.GetTrip(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, trip)
	assert.True(t, trip.Synced)

	pending, err := store.GetPendingMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_Preferences(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetUserPreference(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveUserPreference(ctx, "theme", json.RawMessage(`"light"`)))
	require.NoError(t, store.SaveUserPreference(ctx, "theme", json.RawMessage(`"dark"`)))

	value, ok, err := store.GetUserPreference(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"dark"`, string(value))

	err = store.SaveUserPreference(ctx, "", json.RawMessage(`1`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

// =====================================================
// Retention
// =====================================================

func TestStore_ClearOldData(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	start := clock.t

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "old-synced", UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveTripOffline(ctx, models.PendingTrip{ID: "old-pending", UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ID: "old-msg", ConversationID: "C1", SenderID: "U1"})
	require.NoError(t, err)
	require.NoError(t, store.MarkTripSynced(ctx, "old-synced"))
	require.NoError(t, store.MarkMessageSynced(ctx, "old-msg"))

	clock.t = start.Add(40 * 24 * time.Hour)
	_, err = store.SaveTripOffline(ctx, models.PendingTrip{ID: "new-synced", UserID: "U1"})
	require.NoError(t, err)
	require.NoError(t, store.MarkTripSynced(ctx, "new-synced"))

	deleted, err := store.ClearOldData(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	for id, present := range map[string]bool{"old-synced": false, "old-pending": true, "new-synced": true} {
		trip, err := store.GetTrip(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, present, trip != nil, id)
	}

	clock.t = clock.t.Add(time.Second)
	deleted, err = store.ClearOldData(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestStore_PendingCounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ConversationID: "C1", SenderID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ConversationID: "C1", SenderID: "U1"})
	require.NoError(t, err)

	counts, err := store.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, PendingCounts{Trips: 1, Messages: 2}, counts)
}

// TestOpenStore verifies a file-backed store survives reopening.
func TestOpenStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	ctx := context.Background()

	store, database, err := OpenStore(dir)
	require.NoError(t, err)
	_, err = store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)
	require.NoError(t, database.Close())

	store, database, err = OpenStore(dir)
	require.NoError(t, err)
	defer database.Close()

	pending, err := store.GetPendingTrips(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.FileExists(t, filepath.Join(dir, FileName))
}
