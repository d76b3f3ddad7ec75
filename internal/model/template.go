package model

import "time"

// Template is the immutable recipe a session is created from: target model,
// sampling temperature, system prompt and the set of callable functions.
// The pipeline only ever reads it.
type Template struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Model        string    `db:"model" json:"model"`
	Temperature  float64   `db:"temperature" json:"temperature"`
	SystemPrompt string    `db:"system_prompt" json:"systemPrompt"`
	AccountID    string    `db:"account_id" json:"accountId"`
	IsPublic     bool      `db:"is_public" json:"isPublic"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
