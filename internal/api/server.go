// Package api implements the thin HTTP handlers. Each handler validates its
// request, calls exactly one upstream and returns the upstream payload or {error}.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kimhsiao/ridelink/backend/internal/admin"
	"github.com/kimhsiao/ridelink/backend/internal/config"
	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

// Publisher publishes push deliveries. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
	Ping() error
}

// Deps are the collaborators of the API server.
type Deps struct {
	Config     config.API
	PushTopic  string
	HTTPClient *http.Client
	Publisher  Publisher
	Alerts     admin.AlertLister
	Logger     *logging.Logger
}

// Server holds the handler dependencies.
type Server struct {
	config    config.API
	topic     string
	http      *http.Client
	publisher Publisher
	alerts    admin.AlertLister
	limiter   *RateLimiter
	logger    *logging.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: deps.Config.RequestTimeout}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.PushTopic == "" {
		deps.PushTopic = config.DefaultPushTopic
	}
	if deps.Config.Admin.DefaultLimit <= 0 {
		deps.Config.Admin.DefaultLimit = config.DefaultAdminLimit
	}
	return &Server{
		config:    deps.Config,
		topic:     deps.PushTopic,
		http:      deps.HTTPClient,
		publisher: deps.Publisher,
		alerts:    deps.Alerts,
		limiter:   NewRateLimiter(deps.Config.RateLimit, deps.Config.RateBurst),
		logger:    deps.Logger.With("api"),
	}
}

// Limiter returns the rate limiter so the caller can sweep it.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))

	router.GET("/api/health", s.handleHealth)

	api := router.Group("/api")
	api.Use(s.limiter.Middleware(), Authenticate([]byte(s.config.JWTSecret)))
	{
		api.POST("/payments/intent", s.handlePaymentIntent)
		api.POST("/sms", s.handleSMS)
		api.POST("/trips", s.handleTrip)
		api.POST("/messages", s.handleMessage)
		api.POST("/notify", s.handleNotify)

		adminGroup := api.Group("/admin", RequireRole(RoleAdmin))
		adminGroup.GET("/fraud-alerts", s.handleFraudAlerts)
	}

	return router
}

// =====================================================
// Responses
// =====================================================

type errorResponse struct {
	Error string `json:"error"`
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}

// respondError writes {error} with the upstream status, or a status derived from the error code.
func respondError(c *gin.Context, err error) {
	status := apperrors.StatusOf(err)
	message := err.Error()

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	if status == 0 {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrInvalid, apperrors.ErrValidation:
			status = http.StatusBadRequest
		case apperrors.ErrNotFound:
			status = http.StatusNotFound
		case apperrors.ErrNetwork:
			status = http.StatusBadGateway
		case apperrors.ErrNotImplemented:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}

// ctxFor bounds an upstream call by the request timeout.
func (s *Server) ctxFor(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
}
