package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/pipeline"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/signing"
)

// Callback channel close codes.
const (
	CloseTokenExpired    = 4001
	CloseBadSignature    = 4002
	CloseSessionMismatch = 4003
)

// callbackPayload is what a function server reports back: either the
// function's output or an error description.
type callbackPayload struct {
	Output *string `json:"output"`
	Error  *string `json:"error"`
}

// CallbackHandler receives function results on a websocket authenticated by
// the signed token issued at dispatch time, not by user identity.
type CallbackHandler struct {
	upgrader websocket.Upgrader
	signer   *signing.Signer
	maxAge   time.Duration
	sessions repository.SessionRepository
	group    pipeline.Broadcaster
	runner   turnQueue
}

func NewCallbackHandler(
	signer *signing.Signer,
	maxAge time.Duration,
	sessions repository.SessionRepository,
	group pipeline.Broadcaster,
	runner turnQueue,
) *CallbackHandler {
	return &CallbackHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		signer:   signer,
		maxAge:   maxAge,
		sessions: sessions,
		group:    group,
		runner:   runner,
	}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	token := connectionToken(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("callback upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().Str("sessionId", sessionID).Logger()

	if code := h.verifyToken(token, sessionID); code != 0 {
		logger.Warn().Int("closeCode", code).Msg("callback connection refused")
		closeWith(conn, code)
		return
	}

	session, err := h.sessions.FindByID(r.Context(), sessionID)
	if err != nil || session == nil {
		logger.Warn().Err(err).Msg("callback for unknown session")
		closeWith(conn, CloseSessionMismatch)
		return
	}

	logger.Info().Msg("callback connection open")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("callback connection closed")
			return
		}
		h.handlePayload(session.ID, session.AccountID, data, logger)
	}
}

// verifyToken checks the dispatch token: unforged, unexpired and bound to
// exactly the session id in the URL.
func (h *CallbackHandler) verifyToken(token, sessionID string) int {
	value, err := h.signer.Unsign(token, h.maxAge)
	switch {
	case errors.Is(err, signing.ErrExpired):
		return CloseTokenExpired
	case err != nil:
		return CloseBadSignature
	case value != sessionID:
		return CloseSessionMismatch
	}
	return 0
}

// handlePayload routes one callback frame: output re-enters the pipeline as
// a content turn so the assistant can react to it; an error goes straight
// to the chat group without touching the pipeline or the ledger.
func (h *CallbackHandler) handlePayload(sessionID, accountID string, data []byte, logger zerolog.Logger) {
	var payload callbackPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn().Err(err).Msg("malformed callback payload")
		return
	}

	switch {
	case payload.Output != nil:
		h.runner.Enqueue(sessionID, accountID, pipeline.Event{Content: payload.Output})

	case payload.Error != nil:
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := h.group.Publish(ctx, sessionID, pipeline.SystemNotice(*payload.Error)); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast function error")
		}

	default:
		logger.Warn().Msg("callback payload carries neither output nor error")
	}
}
