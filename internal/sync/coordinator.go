// Package sync drains the offline backlog of trips and messages to the backend.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kimhsiao/ridelink/backend/internal/db"
	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncEventType identifies a coordinator event.
type SyncEventType string

const (
	SyncEventStarted      SyncEventType = "sync.started"
	SyncEventRecordSynced SyncEventType = "sync.record_synced"
	SyncEventRecordFailed SyncEventType = "sync.record_failed"
	SyncEventCompleted    SyncEventType = "sync.completed"
)

// SyncEvent is emitted to the event handler during a pass.
type SyncEvent struct {
	Type     SyncEventType `json:"type"`
	Kind     string        `json:"kind,omitempty"` // "trip" or "message"
	RecordID string        `json:"recordId,omitempty"`
	Error    string        `json:"error,omitempty"`
	Result   *SyncResult   `json:"result,omitempty"`
}

// SyncEventHandler receives coordinator events.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// Submitter delivers a single record to the backend.
type Submitter interface {
	SubmitTrip(ctx context.Context, trip models.PendingTrip) error
	SubmitMessage(ctx context.Context, msg models.PendingMessage) error
}

// SyncResult represents the result of a sync pass.
type SyncResult struct {
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	Duration       time.Duration `json:"duration"`
	TripsSynced    int           `json:"tripsSynced"`
	TripsFailed    int           `json:"tripsFailed"`
	MessagesSynced int           `json:"messagesSynced"`
	MessagesFailed int           `json:"messagesFailed"`
	Error          string        `json:"error,omitempty"`
}

// Failed returns the number of records left unsynced by the pass.
func (r *SyncResult) Failed() int {
	return r.TripsFailed + r.MessagesFailed
}

// Coordinator submits unsynced records and marks them synced on success.
// A record that fails stays unsynced and is retried on the next pass; there is
// no attempt bound at this layer.
type Coordinator struct {
	store     db.SyncRepository
	submitter Submitter
	logger    *logging.Logger

	mu       sync.Mutex
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
	handler  SyncEventHandler
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(store db.SyncRepository, submitter Submitter, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		store:     store,
		submitter: submitter,
		logger:    logger.With("sync"),
		status:    SyncStatusIdle,
	}
}

// SetEventHandler sets the receiver of sync events. Nil disables events.
func (c *Coordinator) SetEventHandler(handler SyncEventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Coordinator) emitEvent(event SyncEvent) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

// Status returns the current sync status.
func (c *Coordinator) Status() SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastSync returns the end time of the last pass that completed without a storage error.
func (c *Coordinator) LastSync() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// LastError returns the last error seen by a pass.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Sync drains unsynced trips owned by userID, then all unsynced messages.
// Per-record submission failures are counted, not returned. The returned error
// is non-nil only when the pass could not run: another pass is in progress,
// the store failed, or ctx was cancelled. A store failure while draining trips
// still lets the message phase run.
func (c *Coordinator) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	c.mu.Lock()
	if c.status == SyncStatusSyncing {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	c.status = SyncStatusSyncing
	c.mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}
	c.emitEvent(SyncEvent{Type: SyncEventStarted})

	var recordErr error
	err := c.syncTrips(ctx, userID, result, &recordErr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			err = ctxErr
		}
	} else {
		err = errors.Join(err, c.syncMessages(ctx, result, &recordErr))
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	c.mu.Lock()
	switch {
	case err != nil:
		c.status = SyncStatusFailed
		c.lastErr = err
		result.Error = err.Error()
	case recordErr != nil:
		c.status = SyncStatusFailed
		c.lastErr = recordErr
		c.lastSync = &result.EndTime
	default:
		c.status = SyncStatusIdle
		c.lastErr = nil
		c.lastSync = &result.EndTime
	}
	c.mu.Unlock()

	c.logger.Info("sync pass finished", map[string]interface{}{
		"user_id":         userID,
		"trips_synced":    result.TripsSynced,
		"trips_failed":    result.TripsFailed,
		"messages_synced": result.MessagesSynced,
		"messages_failed": result.MessagesFailed,
		"duration_ms":     result.Duration.Milliseconds(),
	})
	c.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: result, Error: result.Error})

	return result, err
}

// syncTrips submits the user's pending trips one at a time.
func (c *Coordinator) syncTrips(ctx context.Context, userID string, result *SyncResult, recordErr *error) error {
	trips, err := c.store.GetPendingTrips(ctx, userID)
	if err != nil {
		return err
	}

	for _, trip := range trips {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.submitter.SubmitTrip(ctx, trip); err != nil {
			result.TripsFailed++
			*recordErr = err
			c.recordFailed("trip", trip.ID, trip.CreatedAtTime(), err)
			continue
		}

		if err := c.store.MarkTripSynced(ctx, trip.ID); err != nil {
			return err
		}
		result.TripsSynced++
		c.emitEvent(SyncEvent{Type: SyncEventRecordSynced, Kind: "trip", RecordID: trip.ID})
	}

	return nil
}

// syncMessages submits all pending messages one at a time.
func (c *Coordinator) syncMessages(ctx context.Context, result *SyncResult, recordErr *error) error {
	messages, err := c.store.GetPendingMessages(ctx)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.submitter.SubmitMessage(ctx, msg); err != nil {
			result.MessagesFailed++
			*recordErr = err
			c.recordFailed("message", msg.ID, msg.CreatedAtTime(), err)
			continue
		}

		if err := c.store.MarkMessageSynced(ctx, msg.ID); err != nil {
			return err
		}
		result.MessagesSynced++
		c.emitEvent(SyncEvent{Type: SyncEventRecordSynced, Kind: "message", RecordID: msg.ID})
	}

	return nil
}

func (c *Coordinator) recordFailed(kind, id string, created time.Time, err error) {
	c.logger.Warn("record left unsynced", map[string]interface{}{
		"kind":        kind,
		"record_id":   id,
		"pending_for": time.Since(created).Round(time.Second).String(),
		"code":        string(apperrors.CodeOf(err)),
		"error":       err.Error(),
	})
	c.emitEvent(SyncEvent{Type: SyncEventRecordFailed, Kind: kind, RecordID: id, Error: err.Error()})
}
