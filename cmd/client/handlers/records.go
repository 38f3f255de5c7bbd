package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/kimhsiao/ridelink/backend/internal/db"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// RecordsHandler saves trips, messages and preferences in the local store.
// Writes never wait for the network; a pass is requested when the backend
// was last seen online.
type RecordsHandler struct {
	store     db.LocalStore
	scheduler SyncController
	userID    string
	logger    *logging.Logger
}

// NewRecordsHandler creates a new RecordsHandler for the signed-in user.
func NewRecordsHandler(store db.LocalStore, s SyncController, userID string, logger *logging.Logger) *RecordsHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RecordsHandler{store: store, scheduler: s, userID: userID, logger: logger.With("records_handler")}
}

func (h *RecordsHandler) requestSync() {
	if h.scheduler != nil && h.scheduler.IsOnline() {
		h.scheduler.TriggerNow()
	}
}

// =====================================================
// Trips and Messages
// =====================================================

// SaveTrip handles POST /trips.
func (h *RecordsHandler) SaveTrip(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var request struct {
		ID      string          `json:"id"`
		Kind    models.TripKind `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if !decode(w, r, &request) {
		return
	}

	trip, err := h.store.SaveTripOffline(r.Context(), models.PendingTrip{
		ID:      request.ID,
		UserID:  h.userID,
		Kind:    request.Kind,
		Payload: request.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.requestSync()
	writeJSON(w, http.StatusCreated, trip)
}

// SaveMessage handles POST /messages.
func (h *RecordsHandler) SaveMessage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var request struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}
	if !decode(w, r, &request) {
		return
	}
	if request.ConversationID == "" {
		writeMessage(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if request.Content == "" {
		writeMessage(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := h.store.SaveMessageOffline(r.Context(), models.PendingMessage{
		ID:             request.ID,
		ConversationID: request.ConversationID,
		SenderID:       h.userID,
		Content:        request.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.requestSync()
	writeJSON(w, http.StatusCreated, msg)
}

// GetPending handles GET /pending.
func (h *RecordsHandler) GetPending(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	trips, err := h.store.GetPendingTrips(r.Context(), h.userID)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := h.store.GetPendingMessages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trips":    trips,
		"messages": messages,
	})
}

// =====================================================
// Preferences
// =====================================================

// GetPreference handles GET /preferences/:key.
func (h *RecordsHandler) GetPreference(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	value, ok, err := h.store.GetUserPreference(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeMessage(w, http.StatusNotFound, "preference not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

// PutPreference handles PUT /preferences/:key. The body is the JSON value.
func (h *RecordsHandler) PutPreference(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var value json.RawMessage
	if !decode(w, r, &value) {
		return
	}
	if err := h.store.SaveUserPreference(r.Context(), ps.ByName("key"), value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
