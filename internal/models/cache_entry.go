package models

import "net/http"

// CacheEntry is a stored GET response inside a named cache group.
type CacheEntry struct {
	Group    string      `json:"group"`
	Key      string      `json:"key"` // "GET " + absolute URL
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt int64       `json:"storedAt"` // epoch milliseconds
}
