package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is one persisted chat turn. Messages are append-only: the pipeline
// inserts them and reads them back in creation order, never edits them.
type Message struct {
	ID         string          `db:"id" json:"id"`
	SessionID  string          `db:"session_id" json:"sessionId"`
	Role       Role            `db:"role" json:"role"`
	Content    string          `db:"content" json:"content"`
	InputCost  decimal.Decimal `db:"input_cost" json:"inputCost"`
	OutputCost decimal.Decimal `db:"output_cost" json:"outputCost"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

type CreateMessageParams struct {
	SessionID  string
	Role       Role
	Content    string
	InputCost  decimal.Decimal
	OutputCost decimal.Decimal
}

// ChatTurn is the role/content pair shape shared by the token estimator and
// the completion client: persisted history plus any not-yet-persisted turn.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (m *Message) Turn() ChatTurn {
	return ChatTurn{Role: m.Role, Content: m.Content}
}
