package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/apiforllm/chat-server-go/internal/model"
)

type FunctionRepository interface {
	ListSecrets(ctx context.Context, functionID string) ([]model.Secret, error)
}

type functionRepo struct {
	db *sqlx.DB
}

func NewFunctionRepository(db *sqlx.DB) FunctionRepository {
	return &functionRepo{db: db}
}

func (r *functionRepo) ListSecrets(ctx context.Context, functionID string) ([]model.Secret, error) {
	var secrets []model.Secret
	err := r.db.SelectContext(ctx, &secrets, `
		SELECT s.* FROM secrets s
		JOIN function_secrets fs ON fs.secret_id = s.id
		WHERE fs.function_id = $1
		ORDER BY s.name ASC
	`, functionID)
	return secrets, err
}
