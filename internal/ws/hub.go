// Package ws is the realtime gateway: a redis-backed hub fanning chat
// frames out to websocket viewers, the chat channel feeding turns into the
// pipeline and the callback channel ingesting function server results.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/pipeline"
	redisclient "github.com/apiforllm/chat-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
)

// Client is one websocket viewer of a session. Frames arrive on its channel
// until Done closes; only the owning connection's write loop reads them.
type Client struct {
	SessionID string
	Frames    chan pipeline.Frame
	Done      chan struct{}
}

// Hub routes frames between the pipeline and websocket clients through
// redis pub/sub, so every server instance sees every session's frames.
type Hub struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // sessionID -> set of clients
	subs    map[string]*redis.PubSub    // sessionID -> its pub/sub feed
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(redisClient *redisclient.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]*redis.PubSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *Hub) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Frames:    make(chan pipeline.Frame, 100),
		Done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*Client]bool)
		pubsub := h.redis.Subscribe(h.ctx, redisclient.SessionChannel(sessionID))
		h.subs[sessionID] = pubsub
		go h.subscribeToRedis(sessionID, pubsub)
	}
	h.clients[sessionID][client] = true
	clientCount := len(h.clients[sessionID])
	h.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("ws client subscribed")

	return client
}

// Unsubscribe detaches one viewer. The last viewer out also tears down the
// session's redis subscription, so its fan-in goroutine exits instead of
// piling up next to the one a later Subscribe would spawn.
func (h *Hub) Unsubscribe(client *Client) {
	var pubsub *redis.PubSub

	h.mu.Lock()
	if clients, ok := h.clients[client.SessionID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(h.clients, client.SessionID)
			pubsub = h.subs[client.SessionID]
			delete(h.subs, client.SessionID)
		}

		log.Info().
			Str("sessionId", client.SessionID).
			Int("clientCount", len(clients)).
			Msg("ws client unsubscribed")
	}
	h.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			log.Warn().Err(err).
				Str("sessionId", client.SessionID).
				Msg("failed to close redis pubsub")
		}
	}
}

// Publish pushes a frame onto the session's redis channel. Local clients
// receive it through the same pub/sub path as clients on other instances.
func (h *Hub) Publish(ctx context.Context, sessionID string, frame pipeline.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(sessionID)
	return h.redis.Publish(ctx, channel, data).Err()
}

// subscribeToRedis fans one session's redis feed into its local client
// set. It runs until the pubsub closes (last viewer left) or the hub shuts
// down.
func (h *Hub) subscribeToRedis(sessionID string, pubsub *redis.PubSub) {
	log.Debug().
		Str("sessionId", sessionID).
		Str("channel", redisclient.SessionChannel(sessionID)).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var frame pipeline.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal frame")
				continue
			}

			h.broadcast(sessionID, frame)
		}
	}
}

func (h *Hub) broadcast(sessionID string, frame pipeline.Frame) {
	h.mu.RLock()
	clients := h.clients[sessionID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Frames <- frame:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Msg("client frame buffer full, dropping frame")
		}
	}
}

func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, pubsub := range h.subs {
		_ = pubsub.Close()
	}
	h.subs = make(map[string]*redis.PubSub)

	for _, clients := range h.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	h.clients = make(map[string]map[*Client]bool)
}

func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}
