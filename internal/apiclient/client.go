// Package apiclient submits pending records to the RideLink API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// DefaultTimeout bounds one submission.
const DefaultTimeout = 30 * time.Second

// Client posts trips and messages to the thin API handlers.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Its transport is normally the cache manager.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken sets the bearer token source.
func WithToken(token func() string) Option {
	return func(cl *Client) { cl.token = token }
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TripRequest is the body of POST /api/trips.
type TripRequest struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Kind      models.TripKind `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"`
}

// SubmitTrip implements sync.Submitter.
func (c *Client) SubmitTrip(ctx context.Context, trip models.PendingTrip) error {
	return c.post(ctx, "/api/trips", TripRequest{
		ID:        trip.ID,
		UserID:    trip.UserID,
		Kind:      trip.Kind,
		Payload:   trip.Payload,
		CreatedAt: trip.CreatedAt,
	})
}

// SubmitMessage implements sync.Submitter.
func (c *Client) SubmitMessage(ctx context.Context, msg models.PendingMessage) error {
	return c.post(ctx, "/api/messages", MessageRequest{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "build request "+path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "post "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return upstreamError(resp)
}

// upstreamError turns a non-2xx response into ErrUpstream with the {error} message.
func upstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error string `json:"error"`
	}
	message := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = body.Error
	}
	return apperrors.Upstream(resp.StatusCode, message)
}
