package models

import "encoding/json"

// UserPreference is an opaque key/value entry. Last writer wins.
type UserPreference struct {
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	UpdatedAt int64           `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for UserPreference.
func (UserPreference) TableName() string {
	return "user_preferences"
}
