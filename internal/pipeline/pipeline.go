// Package pipeline runs one chat turn end to end: validate the inbound
// event, estimate its token cost, check and later debit the account
// balance, call the completion API, moderate the exchange, persist the
// reply and fan it out to connected clients.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/config"
	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/llm"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/service"
	"github.com/apiforllm/chat-server-go/internal/util"
)

// Client-facing notice strings. These are part of the realtime protocol;
// clients match on them verbatim.
const (
	NoticeInvalidRequest      = "Invalid request."
	NoticeTokenLimit          = "Token limit exceeded. Please start a new chat session."
	NoticeInsufficientBalance = "Insufficient balance in your account. Please topup your account to continue."
	NoticeNetworkError        = "A network error occurred."
	NoticeSessionFlagged      = "This chat session has been flagged by the moderation endpoint."
	NoticeGenericError        = "An error occurred."
	NoticeFunctionCallError   = "A function call error occurred."
	NoticeInvokingAI          = "Invoking AI."
	NoticeInvokingFunction    = "Invoking function."
)

// CompletionProvider is the upstream AI surface the pipeline talks to.
type CompletionProvider interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// Estimator predicts the prompt token count of a chat history.
type Estimator interface {
	Estimate(turns []model.ChatTurn, modelName string) int
}

// Dispatcher forwards an approved function call to its function server.
type Dispatcher interface {
	Dispatch(ctx context.Context, session *model.Session, name, arguments string) error
}

type Pipeline struct {
	accounts    repository.AccountRepository
	sessions    repository.SessionRepository
	messages    repository.MessageRepository
	templates   repository.TemplateRepository
	ledger      *service.Ledger
	completions CompletionProvider
	estimator   Estimator
	dispatcher  Dispatcher
	broadcaster Broadcaster
}

func New(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	templates repository.TemplateRepository,
	ledger *service.Ledger,
	completions CompletionProvider,
	estimator Estimator,
	dispatcher Dispatcher,
	broadcaster Broadcaster,
) *Pipeline {
	return &Pipeline{
		accounts:    accounts,
		sessions:    sessions,
		messages:    messages,
		templates:   templates,
		ledger:      ledger,
		completions: completions,
		estimator:   estimator,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
	}
}

// Process runs one turn. Expected failures become system notices on the
// session channel and are swallowed; anything unrecognized propagates to
// the caller.
func (p *Pipeline) Process(ctx context.Context, sessionID, accountID string, ev Event) error {
	err := p.run(ctx, sessionID, accountID, ev)
	if err == nil {
		return nil
	}

	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return err
	}

	log.Warn().
		Str("sessionId", sessionID).
		Str("code", string(appErr.Code)).
		Err(err).
		Msg("turn rejected")

	return p.broadcaster.Publish(ctx, sessionID, SystemNotice(noticeFor(appErr.Code)))
}

func noticeFor(code apperrors.ErrorCode) string {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired, apperrors.ErrCodeUnknownFunction:
		return NoticeInvalidRequest
	case apperrors.ErrCodeTokenLimit:
		return NoticeTokenLimit
	case apperrors.ErrCodeInsufficientBalance:
		return NoticeInsufficientBalance
	case apperrors.ErrCodeUpstream:
		return NoticeNetworkError
	case apperrors.ErrCodeFlagged:
		return NoticeSessionFlagged
	case apperrors.ErrCodeDispatch:
		return NoticeFunctionCallError
	}
	return NoticeGenericError
}

func (p *Pipeline) run(ctx context.Context, sessionID, accountID string, ev Event) error {
	session, err := p.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.ValidationError("unknown chat session")
	}
	if session.Flagged {
		return apperrors.Flagged()
	}

	tmpl, err := p.templates.FindByID(ctx, session.TemplateID)
	if err != nil {
		return apperrors.Database(err)
	}
	if tmpl == nil {
		return apperrors.Internal("session has no template")
	}

	history, err := p.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	turns := make([]model.ChatTurn, 0, len(history)+1)
	for i := range history {
		turns = append(turns, history[i].Turn())
	}

	var userText string
	switch {
	case ev.Content != nil:
		// Empty content is a valid turn: function servers may legitimately
		// report an empty output through the callback channel.
		userText = *ev.Content
		if _, err := p.messages.Create(ctx, model.CreateMessageParams{
			SessionID: sessionID,
			Role:      model.RoleUser,
			Content:   userText,
		}); err != nil {
			return apperrors.Database(err)
		}
		if err := p.broadcaster.Publish(ctx, sessionID, MessageFrame(model.RoleUser, userText)); err != nil {
			return err
		}
		turns = append(turns, model.ChatTurn{Role: model.RoleUser, Content: userText})

	case ev.InvokeAI:
		// Resume the assistant without adding to the history. The empty
		// turn is counted toward the estimate but never persisted.
		if err := p.broadcaster.Publish(ctx, sessionID, SystemNotice(NoticeInvokingAI)); err != nil {
			return err
		}
		turns = append(turns, model.ChatTurn{Role: model.RoleUser, Content: ""})

	case ev.InvokeFunction:
		return p.invokeFunction(ctx, session)

	default:
		return apperrors.ValidationError("chat event carries no action")
	}

	tokens := p.estimator.Estimate(turns, tmpl.Model)
	if tokens >= config.TokenCeiling {
		return apperrors.TokenLimitExceeded(tokens)
	}

	estimatedCost := llm.CostForTokens(tokens, config.AssumedReplyTokens)
	sufficient, err := p.ledger.HasSufficientFunds(ctx, accountID, estimatedCost)
	if err != nil {
		return err
	}
	if !sufficient {
		return apperrors.InsufficientBalance()
	}

	account, err := p.accounts.FindByID(ctx, accountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		return apperrors.Internal("turn for unknown account")
	}

	functions, err := p.templates.ListFunctions(ctx, session.TemplateID)
	if err != nil {
		return apperrors.Database(err)
	}
	schemas := make([]json.RawMessage, 0, len(functions))
	for _, fn := range functions {
		schemas = append(schemas, fn.Schema)
	}

	result, err := p.completions.Complete(ctx, llm.CompletionRequest{
		Model:       tmpl.Model,
		Temperature: tmpl.Temperature,
		User:        util.HashUsername(account.Username),
		Turns:       turns,
		Functions:   schemas,
	})
	if err != nil {
		return err
	}

	// The completion succeeded, so its real cost is owed regardless of what
	// moderation decides below.
	if err := p.ledger.Debit(ctx, accountID, result.InputCost.Add(result.OutputCost)); err != nil {
		return err
	}

	for _, text := range []string{userText, result.Content} {
		flagged, err := p.completions.Moderate(ctx, text)
		if err != nil {
			return err
		}
		if flagged {
			if err := p.sessions.SetFlagged(ctx, sessionID, true); err != nil {
				return apperrors.Database(err)
			}
			return apperrors.Flagged()
		}
	}

	content := result.Content
	if result.FunctionCall != nil {
		content = FormatFunctionCall(result.FunctionCall.Name, result.FunctionCall.Arguments)
	}
	role, err := model.ParseRole(result.Role.String())
	if err != nil {
		role = model.RoleAssistant
	}

	if _, err := p.messages.Create(ctx, model.CreateMessageParams{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		InputCost:  result.InputCost,
		OutputCost: result.OutputCost,
	}); err != nil {
		return apperrors.Database(err)
	}

	if err := p.broadcaster.Publish(ctx, sessionID, MessageFrame(role, content)); err != nil {
		return err
	}
	if result.FunctionCall != nil {
		// The message frame and the flags are separate wire frames; clients
		// key the approval prompt off the second one.
		return p.broadcaster.Publish(ctx, sessionID, FunctionCallFrame(session.FunctionApprovalRequired))
	}
	return nil
}

// invokeFunction re-reads the assistant's last turn, which must encode a
// function call, and forwards it to the session's function server. The
// function's output re-enters the pipeline via the callback channel.
func (p *Pipeline) invokeFunction(ctx context.Context, session *model.Session) error {
	if err := p.broadcaster.Publish(ctx, session.ID, SystemNotice(NoticeInvokingFunction)); err != nil {
		return err
	}

	last, err := p.messages.LastBySession(ctx, session.ID)
	if err != nil {
		return apperrors.Database(err)
	}
	if last == nil {
		return apperrors.Dispatch(apperrors.ValidationError("session has no messages"))
	}

	name, arguments, err := ParseFunctionCall(last.Content)
	if err != nil {
		return apperrors.Dispatch(err)
	}
	return p.dispatcher.Dispatch(ctx, session, name, arguments)
}
