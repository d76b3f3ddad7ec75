package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/apiforllm/chat-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	SetFlagged(ctx context.Context, id string, flagged bool) error
	CountFlaggedByAccount(ctx context.Context, accountID string) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM chat_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO chat_sessions
			(account_id, template_id, title, function_approval_required, function_server_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.AccountID, params.TemplateID, params.Title,
		params.FunctionApprovalRequired, params.FunctionServerID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) SetFlagged(ctx context.Context, id string, flagged bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET
			flagged = $2,
			updated_at = $3
		WHERE id = $1
	`, id, flagged, time.Now())
	return err
}

func (r *sessionRepo) CountFlaggedByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_sessions
		WHERE account_id = $1 AND flagged = TRUE
	`, accountID)
	return count, err
}
