package push

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

// ActionDismiss closes a notification without navigating.
const ActionDismiss = "dismiss"

// Permission is the notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Notification is what the bridge asks the Notifier to display.
// Data["url"] holds the deep link opened on click.
type Notification struct {
	ID                 string                 `json:"id"`
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon,omitempty"`
	Badge              string                 `json:"badge,omitempty"`
	Tag                string                 `json:"tag,omitempty"`
	Data               map[string]interface{} `json:"data"`
	Actions            []Action               `json:"actions,omitempty"`
	RequireInteraction bool                   `json:"requireInteraction,omitempty"`
}

// URL returns the notification's deep link. Without data.url the link is
// derived from data.type, defaulting to "/".
func (n Notification) URL() string {
	if link, ok := n.Data["url"].(string); ok && link != "" {
		return link
	}
	return DeepLink(n.Data)
}

// Notifier displays notifications.
type Notifier interface {
	Permission() Permission
	Show(ctx context.Context, n Notification) error
}

// Windows is the registry of open application windows.
type Windows interface {
	// Clients returns the open window ids, oldest first.
	Clients() []string

	// Navigate posts a NAVIGATE message to a window and focuses it.
	Navigate(ctx context.Context, clientID, url string) error

	// OpenWindow opens a new window at url.
	OpenWindow(ctx context.Context, url string) error
}

// Bridge connects push deliveries to notifications and clicks to windows.
type Bridge struct {
	notifier Notifier
	windows  Windows
	logger   *logging.Logger
}

// NewBridge creates a Bridge.
func NewBridge(notifier Notifier, windows Windows, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bridge{notifier: notifier, windows: windows, logger: logger.With("push")}
}

// Render builds the notification for a raw push payload.
func Render(raw []byte) Notification {
	p := ParsePayload(raw)

	data := make(map[string]interface{}, len(p.Data)+1)
	for k, v := range p.Data {
		data[k] = v
	}
	data["url"] = DeepLink(p.Data)

	tag := p.Tag
	id := uuid.New().String()
	if tag == "" {
		tag = id
	}

	return Notification{
		ID:                 id,
		Title:              p.Title,
		Body:               p.Body,
		Icon:               p.Icon,
		Badge:              p.Badge,
		Tag:                tag,
		Data:               data,
		Actions:            p.Actions,
		RequireInteraction: p.RequireInteraction,
	}
}

// HandlePush renders raw and shows it. Without notification permission it
// does nothing and returns a nil notification.
func (b *Bridge) HandlePush(ctx context.Context, raw []byte) (*Notification, error) {
	if b.notifier.Permission() != PermissionGranted {
		b.logger.Debug("notification permission not granted, push ignored")
		return nil, nil
	}

	n := Render(raw)
	if err := b.notifier.Show(ctx, n); err != nil {
		return nil, err
	}

	b.logger.Info("notification shown", map[string]interface{}{"id": n.ID, "url": n.URL()})
	return &n, nil
}

// HandleClick navigates to the notification's deep link. A dismiss action only
// closes the notification. An open window is reused and focused; otherwise a
// new one is opened.
func (b *Bridge) HandleClick(ctx context.Context, n Notification, action string) error {
	if action == ActionDismiss {
		return nil
	}

	link := n.URL()
	if clients := b.windows.Clients(); len(clients) > 0 {
		b.logger.Debug("navigating open window", map[string]interface{}{"client": clients[0], "url": link})
		return b.windows.Navigate(ctx, clients[0], link)
	}

	b.logger.Debug("opening new window", map[string]interface{}{"url": link})
	return b.windows.OpenWindow(ctx, link)
}

// ClickMessage is sent by a window when the user clicks a notification or one of its actions.
type ClickMessage struct {
	Notification Notification `json:"notification"`
	Action       string       `json:"action,omitempty"`
}

// ClickHandler decodes a ClickMessage from a window and handles the click.
// Its signature matches the hub's MessageHandler.
func (b *Bridge) ClickHandler(ctx context.Context, _ string, data json.RawMessage) (interface{}, error) {
	var msg ClickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode notification click", err)
	}
	if err := b.HandleClick(ctx, msg.Notification, msg.Action); err != nil {
		return nil, err
	}
	return map[string]interface{}{"url": msg.Notification.URL()}, nil
}
