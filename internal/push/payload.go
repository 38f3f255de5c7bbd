// Package push turns push deliveries into notifications and notification
// clicks into navigation of an open application window.
package push

import (
	"bytes"
	"encoding/json"
)

// DefaultTitle is used when a payload carries no title.
const DefaultTitle = "RideLink"

// Default notification artwork.
const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
)

// Action is a notification action button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Payload is the push payload contract.
type Payload struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon,omitempty"`
	Badge              string                 `json:"badge,omitempty"`
	Tag                string                 `json:"tag,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
	Actions            []Action               `json:"actions,omitempty"`
	RequireInteraction bool                   `json:"requireInteraction,omitempty"`
}

// ParsePayload decodes raw as a JSON payload. Anything that is not a JSON
// object becomes the body of a notification with the default title.
func ParsePayload(raw []byte) Payload {
	trimmed := bytes.TrimSpace(raw)

	var p Payload
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &p) == nil {
		if p.Title == "" {
			p.Title = DefaultTitle
		}
		if p.Icon == "" {
			p.Icon = DefaultIcon
		}
		if p.Badge == "" {
			p.Badge = DefaultBadge
		}
		if p.Data == nil {
			p.Data = map[string]interface{}{}
		}
		return p
	}

	body := string(raw)
	var text string
	if json.Unmarshal(trimmed, &text) == nil {
		body = text
	}
	return Payload{
		Title: DefaultTitle,
		Body:  body,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Data:  map[string]interface{}{},
	}
}
