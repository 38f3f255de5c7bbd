package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// DefaultRetention is how long synced records are kept when ClearOldData gets no window.
const DefaultRetention = 30 * 24 * time.Hour

// nullJSON is stored for records saved without a payload.
var nullJSON = json.RawMessage("null")

// Store provides the offline CRUD operations over trips, messages and preferences.
// Every error it returns for a storage-layer failure carries apperrors.ErrStorage.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a Store over an open, migrated database.
func NewStore(database *DB) *Store {
	return &Store{db: database.DB, now: time.Now}
}

// OpenStore opens the database in dataDir, applies migrations and returns the Store.
func OpenStore(dataDir string) (*Store, *DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrStorage, "open local store", err)
	}
	if err := NewMigrator(database.DB).Up(); err != nil {
		database.Close()
		return nil, nil, apperrors.Wrap(apperrors.ErrMigration, "migrate local store", err)
	}
	return NewStore(database), database, nil
}

func storageErr(message string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, message, err)
}

// =====================================================
// Trip Operations
// =====================================================

// SaveTripOffline stamps the trip as unsynced, persists it and returns the stored record.
func (s *Store) SaveTripOffline(ctx context.Context, trip models.PendingTrip) (*models.PendingTrip, error) {
	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	if trip.Kind == "" {
		trip.Kind = models.TripKindBooking
	}
	if !trip.Kind.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, "unknown trip kind "+string(trip.Kind))
	}
	if len(trip.Payload) == 0 {
		trip.Payload = nullJSON
	}
	trip.CreatedAt = s.now().UnixMilli()
	trip.Synced = false

	query := `
	INSERT INTO trips (id, user_id, kind, payload, created_at, synced)
	VALUES (?, ?, ?, ?, ?, 0)
	`
	if _, err := s.db.ExecContext(ctx, query, trip.ID, trip.UserID, string(trip.Kind),
		[]byte(trip.Payload), trip.CreatedAt); err != nil {
		return nil, storageErr("save trip "+trip.ID, err)
	}
	return &trip, nil
}

// GetPendingTrips returns the unsynced trips owned by userID.
func (s *Store) GetPendingTrips(ctx context.Context, userID string) ([]models.PendingTrip, error) {
	trips := []models.PendingTrip{}
	query := `
	SELECT id, user_id, kind, payload, created_at, synced
	FROM trips WHERE user_id = ? AND synced = 0
	`
	if err := s.db.SelectContext(ctx, &trips, query, userID); err != nil {
		return nil, storageErr("list pending trips", err)
	}
	return trips, nil
}

// GetTrip returns a trip by ID, or nil when it does not exist.
func (s *Store) GetTrip(ctx context.Context, id string) (*models.PendingTrip, error) {
	var trip models.PendingTrip
	query := `SELECT id, user_id, kind, payload, created_at, synced FROM trips WHERE id = ?`
	if err := s.db.GetContext(ctx, &trip, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get trip "+id, err)
	}
	return &trip, nil
}

// MarkTripSynced flips the trip's synced flag. A missing trip is not an error.
func (s *Store) MarkTripSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE trips SET synced = 1 WHERE id = ?`, id); err != nil {
		return storageErr("mark trip synced "+id, err)
	}
	return nil
}

// =====================================================
// Message Operations
// =====================================================

// SaveMessageOffline stamps the message as unsynced, persists it and returns the stored record.
func (s *Store) SaveMessageOffline(ctx context.Context, msg models.PendingMessage) (*models.PendingMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = s.now().UnixMilli()
	msg.Synced = false

	query := `
	INSERT INTO messages (id, conversation_id, sender_id, content, created_at, synced)
	VALUES (?, ?, ?, ?, ?, 0)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID,
		msg.Content, msg.CreatedAt); err != nil {
		return nil, storageErr("save message "+msg.ID, err)
	}
	return &msg, nil
}

// GetPendingMessages returns every unsynced message regardless of sender.
func (s *Store) GetPendingMessages(ctx context.Context) ([]models.PendingMessage, error) {
	messages := []models.PendingMessage{}
	query := `
	SELECT id, conversation_id, sender_id, content, created_at, synced
	FROM messages WHERE synced = 0
	`
	if err := s.db.SelectContext(ctx, &messages, query); err != nil {
		return nil, storageErr("list pending messages", err)
	}
	return messages, nil
}

// MarkMessageSynced flips the message's synced flag. A missing message is not an error.
func (s *Store) MarkMessageSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET synced = 1 WHERE id = ?`, id); err != nil {
		return storageErr("mark message synced "+id, err)
	}
	return nil
}

// =====================================================
// Preference Operations
// =====================================================

// SaveUserPreference writes value under key, replacing any previous value.
func (s *Store) SaveUserPreference(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return apperrors.New(apperrors.ErrInvalid, "preference key is required")
	}
	if len(value) == 0 {
		value = nullJSON
	}
	query := `
	INSERT INTO user_preferences (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, []byte(value), s.now().UnixMilli()); err != nil {
		return storageErr("save preference "+key, err)
	}
	return nil
}

// GetUserPreference returns the value stored under key and whether it exists.
func (s *Store) GetUserPreference(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var pref models.UserPreference
	err := s.db.GetContext(ctx, &pref,
		`SELECT key, value, updated_at FROM user_preferences WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get preference "+key, err)
	}
	return pref.Value, true, nil
}

// =====================================================
// Retention and Status
// =====================================================

// ClearOldData deletes synced trips and messages created more than maxAge ago.
// Unsynced records are never deleted. A non-positive maxAge means DefaultRetention.
func (s *Store) ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	cutoff := s.now().Add(-maxAge).UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin retention sweep", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, table := range []string{"trips", "messages"} {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE synced = 1 AND created_at < ?", cutoff)
		if err != nil {
			return 0, storageErr("sweep "+table, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit retention sweep", err)
	}
	return deleted, nil
}

// PendingCounts reports the size of the unsynced backlog.
type PendingCounts struct {
	Trips    int `db:"trips" json:"trips"`
	Messages int `db:"messages" json:"messages"`
}

// PendingCounts returns the number of unsynced trips and messages.
func (s *Store) PendingCounts(ctx context.Context) (PendingCounts, error) {
	var counts PendingCounts
	query := `
	SELECT
		(SELECT COUNT(*) FROM trips WHERE synced = 0) AS trips,
		(SELECT COUNT(*) FROM messages WHERE synced = 0) AS messages
	`
	if err := s.db.GetContext(ctx, &counts, query); err != nil {
		return counts, storageErr("count pending records", err)
	}
	return counts, nil
}
