// Package ws hosts the subscriber-facing WebSocket hub. The hub is the
// broadcast side of the pipeline: the emission scheduler asks it who is
// connected, filters each snapshot per subscriber, and hands the hub the
// final payload to deliver.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marketpulse/engine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client is a single connected subscriber.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	symbols map[string]struct{} // empty set means no filter, receive everything
}

// filterMsg is the JSON message a client sends to manage its symbol filter.
// {"action":"subscribe","symbols":["AAPL","TSLA"]} narrows the filter;
// {"action":"unsubscribe","symbols":["TSLA"]} widens it again;
// {"action":"clear"} removes the filter entirely.
type filterMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Hub tracks connected subscribers and their symbol filters. It implements
// the directory, filter, and transport ports the emission scheduler uses.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	cache     domain.UniverseCache // optional, persists filters across reconnects
	logger    *slog.Logger
	startedAt time.Time
}

var (
	_ domain.SubscriberDirectory = (*Hub)(nil)
	_ domain.FilterService       = (*Hub)(nil)
	_ domain.BroadcastTransport  = (*Hub)(nil)
)

// NewHub creates a Hub. cache may be nil, in which case filters live only
// for the life of the connection.
func NewHub(cache domain.UniverseCache, logger *slog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*client),
		cache:     cache,
		logger:    logger.With(slog.String("component", "ws_hub")),
		startedAt: time.Now().UTC(),
	}
}

// Subscribers returns the IDs of all currently connected clients.
func (h *Hub) Subscribers(ctx context.Context) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Matches reports whether the record passes the subscriber's symbol filter.
// A subscriber with no filter receives everything; an unknown subscriber
// receives nothing.
func (h *Hub) Matches(ctx context.Context, subscriberID string, rec domain.WireRecord) bool {
	h.mu.RLock()
	c, ok := h.clients[subscriberID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	_, match := c.symbols[rec.Ticker()]
	return match
}

// Emit queues a payload for one subscriber. A full send buffer drops the
// payload rather than blocking the emission cycle.
func (h *Hub) Emit(ctx context.Context, subscriberID string, payload []byte) error {
	// Hold the read lock across the send: unregister and Shutdown close
	// c.send under the write lock, so a concurrent disconnect cannot close
	// the channel between the lookup and the send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[subscriberID]
	if !ok {
		return fmt.Errorf("ws: subscriber %s: %w", subscriberID, domain.ErrNotFound)
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("ws: subscriber %s: send buffer full", subscriberID)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the subscriber.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:      uuid.New().String(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		symbols: make(map[string]struct{}),
	}

	// Clients may reclaim a previous identity to keep their stored filter.
	if prev := strings.TrimSpace(r.URL.Query().Get("subscriber_id")); prev != "" {
		if _, err := uuid.Parse(prev); err == nil {
			c.id = prev
			c.restoreFilter(r.Context())
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("subscriber connected",
		slog.String("subscriber", c.id),
		slog.Int("total_clients", total),
	)

	c.sendWelcome()
	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	// A reconnect may have reclaimed this ID already; only remove the
	// entry when it still belongs to this connection.
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("subscriber disconnected",
		slog.String("subscriber", c.id),
		slog.Int("total_clients", total),
	)
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

// restoreFilter loads a previously persisted symbol filter, if any.
func (c *client) restoreFilter(ctx context.Context) {
	if c.hub.cache == nil {
		return
	}
	symbols, err := c.hub.cache.SubscriberFilter(ctx, c.id)
	if err != nil {
		c.hub.logger.Warn("filter restore failed",
			slog.String("subscriber", c.id),
			slog.String("error", err.Error()),
		)
		return
	}
	c.mu.Lock()
	for _, s := range symbols {
		c.symbols[s] = struct{}{}
	}
	c.mu.Unlock()
}

// readPump reads filter management messages from the subscriber.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("subscriber", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.Action == "" {
			continue
		}
		c.handleFilter(msg)
	}
}

// handleFilter applies a filter change and persists the result.
func (c *client) handleFilter(msg filterMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Symbols {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				c.symbols[s] = struct{}{}
			}
		}
	case "unsubscribe":
		for _, s := range msg.Symbols {
			delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
		}
	case "clear":
		c.symbols = make(map[string]struct{})
	default:
		c.mu.Unlock()
		return
	}
	snapshot := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		snapshot = append(snapshot, s)
	}
	c.mu.Unlock()

	if c.hub.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.cache.SetSubscriberFilter(ctx, c.id, snapshot); err != nil {
			c.hub.logger.Warn("filter persist failed",
				slog.String("subscriber", c.id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sendWelcome pushes a small envelope so clients learn their subscriber ID
// and can mark the connection healthy before the first snapshot arrives.
func (c *client) sendWelcome() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "welcome",
		"payload": map[string]any{
			"subscriber_id":  c.id,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps queued payloads to the subscriber and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
