// Package sync tests for the sync coordinator.
package sync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ridelink/backend/internal/db"
	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// fakeSubmitter records submissions and fails the ids listed in failing.
type fakeSubmitter struct {
	mu       sync.Mutex
	trips    []string
	messages []string
	failing  map[string]bool
	block    chan struct{}
}

func (f *fakeSubmitter) SubmitTrip(ctx context.Context, trip models.PendingTrip) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips = append(f.trips, trip.ID)
	if f.failing[trip.ID] {
		return apperrors.Wrap(apperrors.ErrNetwork, "submit trip", errors.New("connection refused"))
	}
	return nil
}

func (f *fakeSubmitter) SubmitMessage(ctx context.Context, msg models.PendingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg.ID)
	if f.failing[msg.ID] {
		return apperrors.Upstream(500, "database unavailable")
	}
	return nil
}

// testEventHandler is a test implementation of SyncEventHandler.
type testEventHandler struct {
	mu     sync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())
	return db.NewStore(database)
}

// TestNewCoordinator verifies initial state.
func TestNewCoordinator(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)

	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.Nil(t, c.LastSync())
	assert.NoError(t, c.LastError())
}

// TestCoordinator_OfflineBookingThenReconnect walks the offline booking scenario end to end.
func TestCoordinator_OfflineBookingThenReconnect(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &fakeSubmitter{}
	c := NewCoordinator(store, submitter, nil)

	saved, err := store.SaveTripOffline(ctx, models.PendingTrip{
		UserID:  "U1",
		Kind:    models.TripKindBooking,
		Payload: []byte(`{"pickup":"Main St","dropoff":"Airport"}`),
	})
	require.NoError(t, err)
	assert.False(t, saved.Synced)

	pending, err := store.GetPendingTrips(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	result, err := c.Sync(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TripsSynced)
	assert.Equal(t, 0, result.Failed())
	assert.Equal(t, []string{saved.ID}, submitter.trips)

	trip, err := store.GetTrip(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, trip.Synced)

	pending, err = store.GetPendingTrips(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.NotNil(t, c.LastSync())
}

// TestCoordinator_FailedRecordsStayPending verifies failures are counted and retried next pass.
func TestCoordinator_FailedRecordsStayPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &fakeSubmitter{failing: map[string]bool{"T2": true, "M1": true}}
	c := NewCoordinator(store, submitter, nil)

	for _, id := range []string{"T1", "T2"} {
		_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: id, UserID: "U1"})
		require.NoError(t, err)
	}
	for _, id := range []string{"M1", "M2"} {
		_, err := store.SaveMessageOffline(ctx, models.PendingMessage{ID: id, ConversationID: "C1", SenderID: "U1", Content: id})
		require.NoError(t, err)
	}

	result, err := c.Sync(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TripsSynced)
	assert.Equal(t, 1, result.TripsFailed)
	assert.Equal(t, 1, result.MessagesSynced)
	assert.Equal(t, 1, result.MessagesFailed)
	assert.Equal(t, SyncStatusFailed, c.Status())
	assert.True(t, apperrors.Is(c.LastError(), apperrors.ErrUpstream))

	counts, err := store.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.PendingCounts{Trips: 1, Messages: 1}, counts)

	// The failing records are submitted again on every pass.
	submitter.failing = nil
	result, err = c.Sync(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TripsSynced)
	assert.Equal(t, 1, result.MessagesSynced)
	assert.Equal(t, []string{"T1", "T2", "T2"}, submitter.trips)
	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.NoError(t, c.LastError())
}

// TestCoordinator_TripsScopedToUser verifies other users' trips are not submitted.
func TestCoordinator_TripsScopedToUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &fakeSubmitter{}
	c := NewCoordinator(store, submitter, nil)

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "mine", UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveTripOffline(ctx, models.PendingTrip{ID: "theirs", UserID: "U2"})
	require.NoError(t, err)

	_, err = c.Sync(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, submitter.trips)
}

// TestCoordinator_RejectsConcurrentSync verifies a second pass is refused while one runs.
func TestCoordinator_RejectsConcurrentSync(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &fakeSubmitter{block: make(chan struct{})}
	c := NewCoordinator(store, submitter, nil)

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Sync(ctx, "U1")
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Status() == SyncStatusSyncing }, timeout, tick)

	_, err = c.Sync(ctx, "U1")
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	close(submitter.block)
	require.NoError(t, <-done)
}

// TestCoordinator_StorageFailure verifies a broken store fails the pass.
func TestCoordinator_StorageFailure(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	store := db.NewStore(database)
	require.NoError(t, database.Close())

	c := NewCoordinator(store, &fakeSubmitter{}, nil)
	result, err := c.Sync(context.Background(), "U1")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, SyncStatusFailed, c.Status())
	assert.Nil(t, c.LastSync())
}

// brokenTripStore fails every trip read and delegates the rest.
type brokenTripStore struct {
	*db.Store
}

func (s brokenTripStore) GetPendingTrips(context.Context, string) ([]models.PendingTrip, error) {
	return nil, apperrors.New(apperrors.ErrStorage, "trips table unreadable")
}

// TestCoordinator_TripReadFailureStillSyncsMessages verifies a broken trip
// phase does not hold back pending messages.
func TestCoordinator_TripReadFailureStillSyncsMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.SaveMessageOffline(ctx, models.PendingMessage{ID: "M1", ConversationID: "C1", SenderID: "U1", Content: "on my way"})
	require.NoError(t, err)

	submitter := &fakeSubmitter{}
	c := NewCoordinator(brokenTripStore{store}, submitter, nil)
	result, err := c.Sync(ctx, "U1")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.Equal(t, 1, result.MessagesSynced)
	assert.Equal(t, []string{"M1"}, submitter.messages)
	assert.Equal(t, SyncStatusFailed, c.Status())

	pending, err := store.GetPendingMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestCoordinator_Cancelled verifies a cancelled context stops the pass.
func TestCoordinator_Cancelled(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveTripOffline(context.Background(), models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	submitter := &fakeSubmitter{}
	c := NewCoordinator(store, submitter, nil)
	_, err = c.Sync(ctx, "U1")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, submitter.trips)
}

// TestCoordinator_Events verifies the event sequence of a pass.
func TestCoordinator_Events(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := NewCoordinator(store, &fakeSubmitter{failing: map[string]bool{"M1": true}}, nil)
	handler := &testEventHandler{}
	c.SetEventHandler(handler)

	_, err := store.SaveTripOffline(ctx, models.PendingTrip{ID: "T1", UserID: "U1"})
	require.NoError(t, err)
	_, err = store.SaveMessageOffline(ctx, models.PendingMessage{ID: "M1", ConversationID: "C1", SenderID: "U1"})
	require.NoError(t, err)

	_, err = c.Sync(ctx, "U1")
	require.NoError(t, err)

	var types []SyncEventType
	for _, e := range handler.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []SyncEventType{
		SyncEventStarted,
		SyncEventRecordSynced,
		SyncEventRecordFailed,
		SyncEventCompleted,
	}, types)
	assert.Equal(t, "M1", handler.events[2].RecordID)
	require.NotNil(t, handler.events[3].Result)
	assert.Equal(t, 1, handler.events[3].Result.MessagesFailed)
}
