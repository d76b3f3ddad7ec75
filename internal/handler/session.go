package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/middleware"
	"github.com/apiforllm/chat-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{sessionID}/messages", h.ListMessages)

	return r
}

// POST /v1/sessions
// Creates a chat session from a template. The session comes back with its
// bound function server and already holds the template's system prompt.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		TemplateID               string `json:"templateId"`
		Title                    string `json:"title"`
		FunctionApprovalRequired bool   `json:"functionApprovalRequired"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	session, err := h.sessionService.Create(r.Context(), account.ID, service.CreateSessionParams{
		TemplateID:               req.TemplateID,
		Title:                    req.Title,
		FunctionApprovalRequired: req.FunctionApprovalRequired,
	})
	if err != nil {
		log.Warn().Err(err).Str("accountId", account.ID).Msg("session create failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions/{sessionID}/messages
// Returns the session's chat history in creation order, owner only.
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	messages, err := h.sessionService.ListMessages(r.Context(), account.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	type messageView struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			Role:      m.Role.String(),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}
