package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforllm/chat-server-go/internal/database"
	"github.com/apiforllm/chat-server-go/internal/middleware"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/service"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type memSessions struct {
	sessions map[string]*model.Session
}

func (r *memSessions) WithTx(*sqlx.Tx) repository.SessionRepository { return r }

func (r *memSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	return r.sessions[id], nil
}

func (r *memSessions) Create(_ context.Context, params model.CreateSessionParams) (*model.Session, error) {
	s := &model.Session{
		ID:               "s-new",
		AccountID:        params.AccountID,
		TemplateID:       params.TemplateID,
		Title:            params.Title,
		FunctionServerID: params.FunctionServerID,
	}
	r.sessions[s.ID] = s
	return s, nil
}

func (r *memSessions) SetFlagged(context.Context, string, bool) error { return nil }

func (r *memSessions) CountFlaggedByAccount(context.Context, string) (int, error) { return 0, nil }

type memMessages struct {
	messages []model.Message
}

func (r *memMessages) WithTx(*sqlx.Tx) repository.MessageRepository { return r }

func (r *memMessages) Create(_ context.Context, params model.CreateMessageParams) (*model.Message, error) {
	m := model.Message{
		ID:        "m-new",
		SessionID: params.SessionID,
		Role:      params.Role,
		Content:   params.Content,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	r.messages = append(r.messages, m)
	return &m, nil
}

func (r *memMessages) ListBySession(_ context.Context, sessionID string) ([]model.Message, error) {
	var out []model.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessages) LastBySession(context.Context, string) (*model.Message, error) {
	return nil, nil
}

type memTemplates struct{}

func (memTemplates) FindByID(_ context.Context, id string) (*model.Template, error) {
	if id != "tmpl-1" {
		return nil, nil
	}
	return &model.Template{ID: "tmpl-1", IsPublic: true, SystemPrompt: "Be helpful."}, nil
}

func (memTemplates) ListFunctions(context.Context, string) ([]model.Function, error) {
	return nil, nil
}

func (memTemplates) FindFunctionByName(context.Context, string, string) (*model.Function, error) {
	return nil, nil
}

type memServers struct{}

func (memServers) FindByID(context.Context, string) (*model.FunctionServer, error) {
	return nil, nil
}

func (memServers) FindFirstPublic(context.Context) (*model.FunctionServer, error) {
	return &model.FunctionServer{ID: "srv-1", IsPublic: true}, nil
}

func newHandlerFixture() (*memSessions, *memMessages, http.Handler) {
	sessions := &memSessions{sessions: map[string]*model.Session{}}
	messages := &memMessages{}
	svc := service.NewSessionService(passthroughTx{}, sessions, messages, memTemplates{}, memServers{})

	router := NewSessionHandler(svc).Routes()
	return sessions, messages, router
}

func asAccount(r *http.Request, accountID string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.AccountContextKey,
		&model.Account{ID: accountID, Username: "alice"})
	return r.WithContext(ctx)
}

func TestSessionHandlerCreate(t *testing.T) {
	t.Run("creates a session", func(t *testing.T) {
		_, messages, router := newHandlerFixture()

		body := `{"templateId": "tmpl-1", "title": "My chat"}`
		req := asAccount(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "acct")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var created model.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, "acct", created.AccountID)
		assert.Equal(t, "My chat", created.Title)
		require.Len(t, messages.messages, 1)
		assert.Equal(t, "Be helpful.", messages.messages[0].Content)
	})

	t.Run("unknown template is 404", func(t *testing.T) {
		_, _, router := newHandlerFixture()

		body := `{"templateId": "missing", "title": "t"}`
		req := asAccount(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "acct")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing title is 400", func(t *testing.T) {
		_, _, router := newHandlerFixture()

		body := `{"templateId": "tmpl-1"}`
		req := asAccount(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "acct")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no account in context is 401", func(t *testing.T) {
		_, _, router := newHandlerFixture()

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSessionHandlerListMessages(t *testing.T) {
	t.Run("returns history for the owner", func(t *testing.T) {
		sessions, messages, router := newHandlerFixture()
		sessions.sessions["s1"] = &model.Session{ID: "s1", AccountID: "acct"}
		messages.messages = append(messages.messages, model.Message{
			SessionID: "s1", Role: model.RoleUser, Content: "hi",
		})

		req := asAccount(httptest.NewRequest(http.MethodGet, "/s1/messages", nil), "acct")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "user", resp.Messages[0].Role)
		assert.Equal(t, "hi", resp.Messages[0].Content)
	})

	t.Run("another user's session is 403", func(t *testing.T) {
		sessions, _, router := newHandlerFixture()
		sessions.sessions["s1"] = &model.Session{ID: "s1", AccountID: "someone-else"}

		req := asAccount(httptest.NewRequest(http.MethodGet, "/s1/messages", nil), "acct")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
