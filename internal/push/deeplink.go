package push

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Push data type discriminators.
const (
	TypeTripUpdate = "trip_update"
	TypeMessage    = "message"
	TypePayment    = "payment"
)

// DeepLink returns the in-app path a notification opens.
// A typed payload missing its identifier falls back to data.url, then "/".
func DeepLink(data map[string]interface{}) string {
	kind, _ := data["type"].(string)

	switch kind {
	case TypeTripUpdate:
		if id := stringField(data, "tripId"); id != "" {
			return fmt.Sprintf("/?page=live-trip&tripId=%s", url.QueryEscape(id))
		}
	case TypeMessage:
		if id := stringField(data, "conversationId"); id != "" {
			return fmt.Sprintf("/?page=messages&conversationId=%s", url.QueryEscape(id))
		}
	case TypePayment:
		if id := stringField(data, "paymentId"); id != "" {
			return fmt.Sprintf("/?page=payments&paymentId=%s", url.QueryEscape(id))
		}
	}

	if link := stringField(data, "url"); link != "" {
		return link
	}
	return "/"
}

// stringField reads a string or numeric identifier from data.
func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return string(v)
	default:
		return ""
	}
}
