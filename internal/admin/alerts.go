// Package admin reads the fraud alert view backing the admin dashboard.
package admin

import (
	"context"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
)

// MaxLimit caps ListAlerts.
const MaxLimit = 500

// TableFraudAlerts holds alerts raised by the fraud pipeline. The pipeline
// itself lives outside this module; this package only reads its output.
const TableFraudAlerts = "fraud_alerts"

// CreateFraudAlertsTableSQL is the MySQL DDL of the alert table.
const CreateFraudAlertsTableSQL = `
	CREATE TABLE IF NOT EXISTS fraud_alerts (
		id VARCHAR(64) PRIMARY KEY,
		ride_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		score DOUBLE NOT NULL,
		reason TEXT NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'open',
		created_at BIGINT NOT NULL,
		INDEX idx_status_created (status, created_at DESC),
		INDEX idx_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
`

// FraudAlert is one row of the alert view.
type FraudAlert struct {
	ID        string  `db:"id" json:"id"`
	RideID    string  `db:"ride_id" json:"rideId"`
	UserID    string  `db:"user_id" json:"userId"`
	Score     float64 `db:"score" json:"score"`
	Reason    string  `db:"reason" json:"reason"`
	Status    string  `db:"status" json:"status"`
	CreatedAt int64   `db:"created_at" json:"createdAt"`
}

// AlertLister lists fraud alerts, newest first.
type AlertLister interface {
	ListAlerts(ctx context.Context, limit int) ([]FraudAlert, error)
	Ping(ctx context.Context) error
}

// AlertStore reads fraud alerts with sqlx.
type AlertStore struct {
	db *sqlx.DB
}

var _ AlertLister = (*AlertStore)(nil)

// NewAlertStore wraps an open database.
func NewAlertStore(db *sqlx.DB) *AlertStore {
	return &AlertStore{db: db}
}

// OpenMySQL connects to the admin MySQL database.
func OpenMySQL(dsn string, maxOpenConns int) (*AlertStore, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "open admin database", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewAlertStore(db), nil
}

// EnsureSchema creates the alert table when missing.
func (s *AlertStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, CreateFraudAlertsTableSQL); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "create "+TableFraudAlerts, err)
	}
	return nil
}

// ListAlerts returns up to limit alerts, newest first.
func (s *AlertStore) ListAlerts(ctx context.Context, limit int) ([]FraudAlert, error) {
	if limit <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "limit must be positive")
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	alerts := []FraudAlert{}
	query := `
	SELECT id, ride_id, user_id, score, reason, status, created_at
	FROM fraud_alerts
	ORDER BY created_at DESC
	LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list fraud alerts", err)
	}
	return alerts, nil
}

// Ping checks the connection.
func (s *AlertStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *AlertStore) Close() error {
	return s.db.Close()
}
