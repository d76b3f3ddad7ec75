package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/apiforllm/chat-server-go/internal/model"
)

type FunctionServerRepository interface {
	FindByID(ctx context.Context, id string) (*model.FunctionServer, error)
	// FindFirstPublic returns the oldest public server, the default bound to
	// new sessions.
	FindFirstPublic(ctx context.Context) (*model.FunctionServer, error)
}

type functionServerRepo struct {
	db *sqlx.DB
}

func NewFunctionServerRepository(db *sqlx.DB) FunctionServerRepository {
	return &functionServerRepo{db: db}
}

func (r *functionServerRepo) FindByID(ctx context.Context, id string) (*model.FunctionServer, error) {
	var server model.FunctionServer
	err := r.db.GetContext(ctx, &server, `SELECT * FROM function_servers WHERE id = $1`, id)
	return HandleNotFound(&server, err)
}

func (r *functionServerRepo) FindFirstPublic(ctx context.Context) (*model.FunctionServer, error) {
	var server model.FunctionServer
	err := r.db.GetContext(ctx, &server, `
		SELECT * FROM function_servers
		WHERE is_public = TRUE
		ORDER BY created_at ASC
		LIMIT 1
	`)
	return HandleNotFound(&server, err)
}
