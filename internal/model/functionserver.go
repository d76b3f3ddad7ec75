package model

import "time"

// FunctionServer is a registered remote execution endpoint. Dispatch is only
// allowed to servers that are public or owned by the session's user.
type FunctionServer struct {
	ID        string    `db:"id" json:"id"`
	AccountID *string   `db:"account_id" json:"accountId,omitempty"`
	Name      string    `db:"name" json:"name"`
	Hostname  string    `db:"hostname" json:"hostname"`
	IPAddress *string   `db:"ip_address" json:"ipAddress,omitempty"`
	IsPublic  bool      `db:"is_public" json:"isPublic"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
