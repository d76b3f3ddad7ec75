package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/apiforllm/chat-server-go/internal/model"
)

type TemplateRepository interface {
	FindByID(ctx context.Context, id string) (*model.Template, error)
	// ListFunctions returns the functions attached to a template, the set
	// advertised to the completion API for sessions using it.
	ListFunctions(ctx context.Context, templateID string) ([]model.Function, error)
	FindFunctionByName(ctx context.Context, templateID, name string) (*model.Function, error)
}

type templateRepo struct {
	db *sqlx.DB
}

func NewTemplateRepository(db *sqlx.DB) TemplateRepository {
	return &templateRepo{db: db}
}

func (r *templateRepo) FindByID(ctx context.Context, id string) (*model.Template, error) {
	var tmpl model.Template
	err := r.db.GetContext(ctx, &tmpl, `SELECT * FROM chat_templates WHERE id = $1`, id)
	return HandleNotFound(&tmpl, err)
}

func (r *templateRepo) ListFunctions(ctx context.Context, templateID string) ([]model.Function, error) {
	var funcs []model.Function
	err := r.db.SelectContext(ctx, &funcs, `
		SELECT f.* FROM functions f
		JOIN template_functions tf ON tf.function_id = f.id
		WHERE tf.template_id = $1
		ORDER BY f.name ASC
	`, templateID)
	return funcs, err
}

func (r *templateRepo) FindFunctionByName(ctx context.Context, templateID, name string) (*model.Function, error) {
	var fn model.Function
	err := r.db.GetContext(ctx, &fn, `
		SELECT f.* FROM functions f
		JOIN template_functions tf ON tf.function_id = f.id
		WHERE tf.template_id = $1 AND f.name = $2
	`, templateID, name)
	return HandleNotFound(&fn, err)
}
