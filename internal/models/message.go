package models

import "time"

// PendingMessage represents a chat message authored while offline.
type PendingMessage struct {
	ID             string `db:"id" json:"id"`
	ConversationID string `db:"conversation_id" json:"conversationId"`
	SenderID       string `db:"sender_id" json:"senderId"`
	Content        string `db:"content" json:"content"`
	CreatedAt      int64  `db:"created_at" json:"createdAt"` // epoch milliseconds
	Synced         bool   `db:"synced" json:"synced"`
}

// TableName returns the table name for PendingMessage.
func (PendingMessage) TableName() string {
	return "messages"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (m *PendingMessage) CreatedAtTime() time.Time {
	return time.UnixMilli(m.CreatedAt)
}
