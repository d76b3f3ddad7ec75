package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/apiforllm/chat-server-go/internal/database"
	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/repository"
)

// txRunner is satisfied by *database.DB.
type txRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type CreateSessionParams struct {
	TemplateID               string
	Title                    string
	FunctionApprovalRequired bool
}

type SessionService struct {
	db        txRunner
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	templates repository.TemplateRepository
	servers   repository.FunctionServerRepository
}

func NewSessionService(
	db txRunner,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	templates repository.TemplateRepository,
	servers repository.FunctionServerRepository,
) *SessionService {
	return &SessionService{
		db:        db,
		sessions:  sessions,
		messages:  messages,
		templates: templates,
		servers:   servers,
	}
}

// Create makes a new chat session and synthesizes its initial system message
// from the template, both in one transaction: no caller ever observes a
// session without its system prompt.
func (s *SessionService) Create(ctx context.Context, accountID string, params CreateSessionParams) (*model.Session, error) {
	if params.TemplateID == "" {
		return nil, apperrors.MissingRequired("templateId")
	}
	if params.Title == "" {
		return nil, apperrors.MissingRequired("title")
	}

	tmpl, err := s.templates.FindByID(ctx, params.TemplateID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tmpl == nil {
		return nil, apperrors.NotFound("Template")
	}
	if !tmpl.IsPublic && tmpl.AccountID != accountID {
		return nil, apperrors.Forbidden("You can only use public templates or your own")
	}

	server, err := s.servers.FindFirstPublic(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if server == nil {
		return nil, apperrors.Conflict("No public function servers available")
	}

	var session *model.Session
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := s.sessions.WithTx(tx).Create(ctx, model.CreateSessionParams{
			AccountID:                accountID,
			TemplateID:               tmpl.ID,
			Title:                    params.Title,
			FunctionApprovalRequired: params.FunctionApprovalRequired,
			FunctionServerID:         &server.ID,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		_, err = s.messages.WithTx(tx).Create(ctx, model.CreateMessageParams{
			SessionID:  created.ID,
			Role:       model.RoleSystem,
			Content:    tmpl.SystemPrompt,
			InputCost:  decimal.Zero,
			OutputCost: decimal.Zero,
		})
		if err != nil {
			return fmt.Errorf("create initial message: %w", err)
		}

		session = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("accountId", accountID).
		Str("templateId", tmpl.ID).
		Msg("chat session created")

	return session, nil
}

// ListMessages returns a session's messages in creation order, owner only.
func (s *SessionService) ListMessages(ctx context.Context, accountID, sessionID string) ([]model.Message, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Chat session")
	}
	if session.AccountID != accountID {
		return nil, apperrors.Forbidden("You can only access your chat sessions")
	}

	msgs, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return msgs, nil
}
