package model

import (
	"encoding/json"
	"time"
)

// Function is a user-registered remote function. Schema is the JSON schema
// advertised to the completion API; NetworkAccess is forwarded to the
// execution server with each dispatch.
type Function struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	AccountID     string          `db:"account_id" json:"accountId"`
	Schema        json.RawMessage `db:"schema" json:"schema"`
	IsPublic      bool            `db:"is_public" json:"isPublic"`
	NetworkAccess bool            `db:"network_access" json:"networkAccess"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}
