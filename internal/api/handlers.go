package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/push"
)

// =====================================================
// Request Schemas
// =====================================================

// PaymentIntentRequest creates a payment intent for a ride.
type PaymentIntentRequest struct {
	Amount   int64  `json:"amount" binding:"required,gt=0"` // smallest currency unit
	Currency string `json:"currency" binding:"required,len=3"`
	RideID   string `json:"rideId" binding:"required"`
}

// SMSRequest sends one text message.
type SMSRequest struct {
	To   string `json:"to" binding:"required,e164"`
	Body string `json:"body" binding:"required,max=1600"`
}

// TripRequest upserts a trip record.
type TripRequest struct {
	ID        string          `json:"id" binding:"required"`
	UserID    string          `json:"userId" binding:"required"`
	Kind      string          `json:"kind" binding:"required,oneof=booking history"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
	CreatedAt int64           `json:"createdAt" binding:"required,gt=0"`
}

// MessageRequest upserts a chat message.
type MessageRequest struct {
	ID             string `json:"id" binding:"required"`
	ConversationID string `json:"conversationId" binding:"required"`
	SenderID       string `json:"senderId" binding:"required"`
	Content        string `json:"content" binding:"required"`
	CreatedAt      int64  `json:"createdAt" binding:"required,gt=0"`
}

// NotifyRequest publishes a push payload. An empty UserID reaches every user.
type NotifyRequest struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// FraudAlertsQuery is the query of the admin alert view.
type FraudAlertsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// relay writes a successful upstream answer. An empty body becomes fallback.
func relay(c *gin.Context, status int, body []byte, fallback interface{}) {
	if len(bytes.TrimSpace(body)) == 0 {
		if status == http.StatusNoContent {
			status = http.StatusOK
		}
		c.JSON(status, fallback)
		return
	}
	c.Data(status, "application/json", body)
}

func unconfigured(c *gin.Context, what string) {
	abortError(c, http.StatusServiceUnavailable, what+" is not configured")
}

// =====================================================
// Payments and SMS
// =====================================================

func (s *Server) handlePaymentIntent(c *gin.Context) {
	var req PaymentIntentRequest
	if !bind(c, &req) {
		return
	}
	cfg := s.config.Payment
	if cfg.BaseURL == "" || cfg.Secret == "" {
		unconfigured(c, "payment processor")
		return
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[rideId]", req.RideID)
	form.Set("automatic_payment_methods[enabled]", "true")

	ctx, cancel := s.ctxFor(c)
	defer cancel()
	httpReq, err := formRequest(ctx, strings.TrimRight(cfg.BaseURL, "/")+"/v1/payment_intents", form)
	if err != nil {
		respondError(c, err)
		return
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.Secret)

	status, body, err := s.do(httpReq)
	if err != nil {
		respondError(c, err)
		return
	}
	relay(c, status, body, gin.H{"rideId": req.RideID})
}

func (s *Server) handleSMS(c *gin.Context) {
	var req SMSRequest
	if !bind(c, &req) {
		return
	}
	cfg := s.config.SMS
	if cfg.BaseURL == "" || cfg.AccountSID == "" || cfg.Token == "" {
		unconfigured(c, "sms gateway")
		return
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", cfg.From)
	form.Set("Body", req.Body)

	endpoint := strings.TrimRight(cfg.BaseURL, "/") +
		"/2010-04-01/Accounts/" + url.PathEscape(cfg.AccountSID) + "/Messages.json"

	ctx, cancel := s.ctxFor(c)
	defer cancel()
	httpReq, err := formRequest(ctx, endpoint, form)
	if err != nil {
		respondError(c, err)
		return
	}
	httpReq.SetBasicAuth(cfg.AccountSID, cfg.Token)

	status, body, err := s.do(httpReq)
	if err != nil {
		respondError(c, err)
		return
	}
	relay(c, status, body, gin.H{"status": "sent"})
}

func formRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// =====================================================
// Managed Database Records
// =====================================================

func (s *Server) handleTrip(c *gin.Context) {
	var req TripRequest
	if !bind(c, &req) {
		return
	}
	if !actingFor(c, req.UserID) {
		abortError(c, http.StatusForbidden, "cannot write trips for another user")
		return
	}
	s.upsert(c, "trips", req.ID, map[string]interface{}{
		"id":         req.ID,
		"user_id":    req.UserID,
		"kind":       req.Kind,
		"payload":    req.Payload,
		"created_at": req.CreatedAt,
	})
}

func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if !bind(c, &req) {
		return
	}
	if !actingFor(c, req.SenderID) {
		abortError(c, http.StatusForbidden, "cannot send messages for another user")
		return
	}
	s.upsert(c, "messages", req.ID, map[string]interface{}{
		"id":              req.ID,
		"conversation_id": req.ConversationID,
		"sender_id":       req.SenderID,
		"content":         req.Content,
		"created_at":      req.CreatedAt,
	})
}

// upsert posts row to the managed database REST layer. Rows are merged on
// their primary key, so a resubmitted record does not fail.
func (s *Server) upsert(c *gin.Context, table, id string, row map[string]interface{}) {
	cfg := s.config.Database
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		unconfigured(c, "database")
		return
	}

	data, err := json.Marshal(row)
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrInvalid, "encode "+table, err))
		return
	}

	ctx, cancel := s.ctxFor(c)
	defer cancel()
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1/" + table
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrInternal, "build upstream request", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", cfg.APIKey)
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	httpReq.Header.Set("Prefer", "resolution=merge-duplicates")

	status, body, err := s.do(httpReq)
	if err != nil {
		respondError(c, err)
		return
	}
	relay(c, status, body, gin.H{"id": id})
}

// =====================================================
// Push
// =====================================================

func (s *Server) handleNotify(c *gin.Context) {
	var req NotifyRequest
	if !bind(c, &req) {
		return
	}
	if s.publisher == nil {
		unconfigured(c, "push transport")
		return
	}

	body, err := json.Marshal(push.Delivery{UserID: req.UserID, Payload: req.Payload})
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrInvalid, "encode delivery", err))
		return
	}
	if err := s.publisher.Publish(s.topic, body); err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrNetwork, "publish push delivery", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// =====================================================
// Health and Admin
// =====================================================

// HealthResponse reports each collaborator as "ok", "unconfigured" or an error text.
type HealthResponse struct {
	Status     string            `json:"status"`
	Time       int64             `json:"time"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(c *gin.Context) {
	configured := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "unconfigured"
	}

	components := map[string]string{
		"payment":  configured(s.config.Payment.BaseURL != "" && s.config.Payment.Secret != ""),
		"sms":      configured(s.config.SMS.BaseURL != "" && s.config.SMS.Token != ""),
		"database": configured(s.config.Database.BaseURL != "" && s.config.Database.APIKey != ""),
		"push":     "unconfigured",
		"admin":    "unconfigured",
	}
	if s.publisher != nil {
		components["push"] = "ok"
		if err := s.publisher.Ping(); err != nil {
			components["push"] = "error: " + err.Error()
		}
	}
	if s.alerts != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		components["admin"] = "ok"
		if err := s.alerts.Ping(ctx); err != nil {
			components["admin"] = "error: " + err.Error()
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Time:       time.Now().UnixMilli(),
		Components: components,
	})
}

func (s *Server) handleFraudAlerts(c *gin.Context) {
	var query FraudAlertsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if s.alerts == nil {
		unconfigured(c, "admin store")
		return
	}
	if query.Limit == 0 {
		query.Limit = s.config.Admin.DefaultLimit
	}

	alerts, err := s.alerts.ListAlerts(c.Request.Context(), query.Limit)
	if err != nil {
		s.logger.Error("list fraud alerts failed", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}
