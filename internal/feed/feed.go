// Package feed ingests the upstream market tick stream over WebSocket and
// hands each tick to the detection pipeline.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketpulse/engine/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every valid tick received from the feed.
type TickHandler func(ctx context.Context, t domain.Tick)

// tickFrame is the upstream wire format for one tick message.
type tickFrame struct {
	Type      string  `json:"type"`
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	VWAP      float64 `json:"vwap"`
	Timestamp string  `json:"timestamp"`
}

// subscribeCommand asks the upstream feed for a set of symbols. An empty
// symbol list subscribes to the full firehose.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// TickFeed connects to the upstream tick WebSocket, subscribes to the
// configured symbols, and invokes the handler for every tick frame. It
// reconnects with exponential backoff on disconnect and resubscribes after
// each reconnect.
type TickFeed struct {
	wsURL   string
	symbols []string
	handler TickHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	received uint64
	dropped  uint64
}

// NewTickFeed creates a feed for the given endpoint. symbols may be empty
// for the full firehose.
func NewTickFeed(wsURL string, symbols []string, handler TickHandler, logger *slog.Logger) *TickFeed {
	return &TickFeed{
		wsURL:   wsURL,
		symbols: symbols,
		handler: handler,
		logger:  logger.With(slog.String("component", "tick_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and reads until ctx is cancelled or Close is called.
// Disconnects trigger reconnection with exponential backoff; the backoff
// resets after a healthy connection.
func (f *TickFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		start := time.Now()
		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		// A connection that survived past the ping period counts as healthy.
		if time.Since(start) > pingPeriod {
			delay = reconnectDelay
		}
		f.logger.Warn("tick feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed permanently.
func (f *TickFeed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
}

// Stats returns the received and dropped tick counts.
func (f *TickFeed) Stats() (received, dropped uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received, f.dropped
}

func (f *TickFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("tick feed subscribed",
		slog.String("url", f.wsURL),
		slog.Int("symbols", len(f.symbols)),
	)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	// Unblock the read loop when the context is cancelled.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		f.handleMessage(ctx, message)
	}
}

func (f *TickFeed) subscribe(conn *websocket.Conn) error {
	cmd := subscribeCommand{Type: "subscribe", Symbols: f.symbols}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (f *TickFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one frame and forwards valid ticks. Malformed frames
// are counted and dropped without tearing down the connection.
func (f *TickFeed) handleMessage(ctx context.Context, message []byte) {
	var frame tickFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		f.drop("unmarshal", err.Error())
		return
	}
	if frame.Type != "" && frame.Type != "tick" {
		return
	}

	t := domain.Tick{
		Symbol:    frame.Ticker,
		Price:     frame.Price,
		Volume:    frame.Volume,
		VWAP:      frame.VWAP,
		Timestamp: time.Now().UTC(),
	}
	if frame.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, frame.Timestamp); err == nil {
			t.Timestamp = ts
		}
	}
	if !t.Valid() {
		f.drop("invalid tick", frame.Ticker)
		return
	}

	f.mu.Lock()
	f.received++
	f.mu.Unlock()
	f.handler(ctx, t)
}

func (f *TickFeed) drop(reason, detail string) {
	f.mu.Lock()
	f.dropped++
	f.mu.Unlock()
	f.logger.Debug("tick dropped", slog.String("reason", reason), slog.String("detail", detail))
}
