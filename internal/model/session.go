package model

import "time"

type Session struct {
	ID                       string    `db:"id" json:"id"`
	AccountID                string    `db:"account_id" json:"accountId"`
	TemplateID               string    `db:"template_id" json:"templateId"`
	Title                    string    `db:"title" json:"title"`
	Flagged                  bool      `db:"flagged" json:"flagged"`
	FunctionApprovalRequired bool      `db:"function_approval_required" json:"functionApprovalRequired"`
	FunctionServerID         *string   `db:"function_server_id" json:"functionServerId,omitempty"`
	CreatedAt                time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt                time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateSessionParams struct {
	AccountID                string
	TemplateID               string
	Title                    string
	FunctionApprovalRequired bool
	FunctionServerID         *string
}
