// Package models provides data model definitions for the RideLink client core.
package models

import (
	"encoding/json"
	"time"
)

// TripKind distinguishes a booking attempt from a completed-trip record.
type TripKind string

const (
	TripKindBooking TripKind = "booking"
	TripKindHistory TripKind = "history"
)

// Valid reports whether k is a known trip kind.
func (k TripKind) Valid() bool {
	return k == TripKindBooking || k == TripKindHistory
}

// PendingTrip represents a trip record created while offline.
type PendingTrip struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"userId"`
	Kind      TripKind        `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt int64           `db:"created_at" json:"createdAt"` // epoch milliseconds
	Synced    bool            `db:"synced" json:"synced"`
}

// TableName returns the table name for PendingTrip.
func (PendingTrip) TableName() string {
	return "trips"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (t *PendingTrip) CreatedAtTime() time.Time {
	return time.UnixMilli(t.CreatedAt)
}
