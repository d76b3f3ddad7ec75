package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/config"
	"github.com/apiforllm/chat-server-go/internal/model"
	"github.com/apiforllm/chat-server-go/internal/pipeline"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/util"
)

// Chat channel close codes. 4405 covers both a flagged session and an
// account that has hit the flagged-session limit.
const (
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
	CloseNotFound        = 4404
	CloseFlagged         = 4405
)

// turnQueue is satisfied by *pipeline.Runner.
type turnQueue interface {
	Enqueue(sessionID, accountID string, ev pipeline.Event)
}

// viewerGroup is satisfied by *Hub.
type viewerGroup interface {
	Subscribe(sessionID string) *Client
	Unsubscribe(client *Client)
}

type ChatHandler struct {
	upgrader websocket.Upgrader
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	hub      viewerGroup
	runner   turnQueue
}

func NewChatHandler(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hub viewerGroup,
	runner turnQueue,
) *ChatHandler {
	return &ChatHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		accounts: accounts,
		sessions: sessions,
		hub:      hub,
		runner:   runner,
	}
}

// ServeHTTP upgrades the connection, authorizes it and then relays frames
// both ways until either side closes. Authorization failures are reported
// over the established socket with a protocol close code, since HTTP status
// codes are gone after the upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	token := connectionToken(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := log.With().Str("connId", connID).Str("sessionId", sessionID).Logger()

	account, closeCode := h.authenticate(r.Context(), token)
	if closeCode == 0 {
		closeCode = h.authorize(r.Context(), account, sessionID)
	}
	if closeCode != 0 {
		logger.Warn().Int("closeCode", closeCode).Msg("chat connection refused")
		closeWith(conn, closeCode)
		return
	}

	logger.Info().Str("accountId", account.ID).Msg("chat connection open")

	client := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(client)

	go writePump(conn, client)
	h.readLoop(conn, client, account, sessionID, logger)
}

func (h *ChatHandler) readLoop(conn *websocket.Conn, client *Client, account *model.Account, sessionID string, logger zerolog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("chat connection closed")
			return
		}

		// A stale connection must not outlive a newly applied flag, so
		// every inbound frame is re-authorized.
		if code := h.authorize(context.Background(), account, sessionID); code != 0 {
			logger.Warn().Int("closeCode", code).Msg("chat connection revoked")
			closeWith(conn, code)
			return
		}

		ev, err := pipeline.ParseEvent(data)
		if err != nil {
			// Connection-local protocol error, not worth the group's
			// attention.
			select {
			case client.Frames <- pipeline.SystemNotice(pipeline.NoticeInvalidRequest):
			default:
			}
			continue
		}

		h.runner.Enqueue(sessionID, account.ID, ev)
	}
}

func (h *ChatHandler) authenticate(ctx context.Context, token string) (*model.Account, int) {
	if token == "" {
		return nil, CloseUnauthenticated
	}
	account, err := h.accounts.FindByTokenHash(ctx, util.HashToken(token))
	if err != nil || account == nil {
		return nil, CloseUnauthenticated
	}
	return account, 0
}

func (h *ChatHandler) authorize(ctx context.Context, account *model.Account, sessionID string) int {
	session, err := h.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return CloseNotFound
	}
	if session == nil {
		return CloseNotFound
	}
	if session.AccountID != account.ID {
		return CloseForbidden
	}
	if session.Flagged {
		return CloseFlagged
	}
	flagged, err := h.sessions.CountFlaggedByAccount(ctx, account.ID)
	if err != nil || flagged >= config.FlaggedSessionLimit {
		return CloseFlagged
	}
	return 0
}

// connectionToken pulls the bearer token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func connectionToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("token")
}

// writePump is the connection's only writer: hub frames and pings both go
// through here, so gorilla's single-writer rule holds.
func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Frames:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done:
			return
		}
	}
}

// closeWith sends a close frame with the given code. WriteControl is safe
// to call concurrently with the write pump.
func closeWith(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
