package handlers

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/kimhsiao/ridelink/backend/internal/db"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	syncpkg "github.com/kimhsiao/ridelink/backend/internal/sync"
	"github.com/kimhsiao/ridelink/backend/internal/sync/scheduler"
)

// SyncController is the part of the scheduler the sync endpoints drive.
type SyncController interface {
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	TriggerNow() bool
	SetOnlineStatus(isOnline bool)
	IsOnline() bool
	GetStatus() scheduler.SchedulerStatus
}

// PendingCounter reports the unsynced backlog.
type PendingCounter interface {
	PendingCounts(ctx context.Context) (db.PendingCounts, error)
}

// SyncHandler handles sync status and triggers.
type SyncHandler struct {
	scheduler SyncController
	store     PendingCounter
	logger    *logging.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(s SyncController, store PendingCounter, logger *logging.Logger) *SyncHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SyncHandler{scheduler: s, store: store, logger: logger.With("sync_handler")}
}

// =====================================================
// Sync Status and Trigger Endpoints
// =====================================================

// GetStatus handles GET /sync/status.
// Returns the scheduler state and the pending backlog.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	counts, err := h.store.PendingCounts(r.Context())
	if err != nil {
		h.logger.Error("pending counts failed", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": h.scheduler.GetStatus(),
		"pending":   counts,
	})
}

// TriggerSync handles POST /sync/now.
// With ?wait=false the pass is queued and 202 returned; otherwise the pass
// runs on the request and its result is returned.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.URL.Query().Get("wait") == "false" {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": h.scheduler.TriggerNow()})
		return
	}

	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SetOnline handles POST /sync/online.
// Windows report connectivity changes they observe; going online triggers a pass.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var request struct {
		Online *bool `json:"online"`
	}
	if !decode(w, r, &request) {
		return
	}
	if request.Online == nil {
		writeMessage(w, http.StatusBadRequest, "online is required")
		return
	}

	h.scheduler.SetOnlineStatus(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": h.scheduler.IsOnline()})
}
