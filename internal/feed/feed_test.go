package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tickCollector struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (c *tickCollector) handle(_ context.Context, t domain.Tick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
}

func (c *tickCollector) all() []domain.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Tick(nil), c.ticks...)
}

func TestHandleMessage(t *testing.T) {
	col := &tickCollector{}
	f := NewTickFeed("ws://unused", nil, col.handle, testLogger())
	ctx := context.Background()

	f.handleMessage(ctx, []byte(`{"type":"tick","ticker":"AMZN","price":113.5,"volume":500,"vwap":110,"timestamp":"2025-06-02T14:30:00.5Z"}`))

	ticks := col.all()
	require.Len(t, ticks, 1)
	assert.Equal(t, "AMZN", ticks[0].Symbol)
	assert.Equal(t, 113.5, ticks[0].Price)
	assert.Equal(t, int64(500), ticks[0].Volume)
	assert.Equal(t, 110.0, ticks[0].VWAP)
	assert.Equal(t, time.Date(2025, 6, 2, 14, 30, 0, 500_000_000, time.UTC), ticks[0].Timestamp.UTC())

	received, dropped := f.Stats()
	assert.Equal(t, uint64(1), received)
	assert.Equal(t, uint64(0), dropped)
}

func TestHandleMessageUntypedFrame(t *testing.T) {
	col := &tickCollector{}
	f := NewTickFeed("ws://unused", nil, col.handle, testLogger())

	// Frames without a type field are treated as ticks.
	f.handleMessage(context.Background(), []byte(`{"ticker":"NVDA","price":900,"volume":10}`))

	ticks := col.all()
	require.Len(t, ticks, 1)
	assert.Equal(t, "NVDA", ticks[0].Symbol)
	assert.False(t, ticks[0].Timestamp.IsZero(), "missing timestamp falls back to receive time")
}

func TestHandleMessageIgnoresOtherTypes(t *testing.T) {
	col := &tickCollector{}
	f := NewTickFeed("ws://unused", nil, col.handle, testLogger())

	f.handleMessage(context.Background(), []byte(`{"type":"heartbeat"}`))

	assert.Empty(t, col.all())
	received, dropped := f.Stats()
	assert.Equal(t, uint64(0), received)
	assert.Equal(t, uint64(0), dropped)
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	col := &tickCollector{}
	f := NewTickFeed("ws://unused", nil, col.handle, testLogger())
	ctx := context.Background()

	f.handleMessage(ctx, []byte(`{not json`))
	f.handleMessage(ctx, []byte(`{"type":"tick","ticker":"","price":10,"volume":1}`))
	f.handleMessage(ctx, []byte(`{"type":"tick","ticker":"AMZN","price":-1,"volume":1}`))

	assert.Empty(t, col.all())
	received, dropped := f.Stats()
	assert.Equal(t, uint64(0), received)
	assert.Equal(t, uint64(3), dropped)
}

func TestHandleMessageBadTimestampFallsBack(t *testing.T) {
	col := &tickCollector{}
	f := NewTickFeed("ws://unused", nil, col.handle, testLogger())

	before := time.Now().UTC()
	f.handleMessage(context.Background(), []byte(`{"ticker":"AMZN","price":10,"volume":1,"timestamp":"yesterday"}`))

	ticks := col.all()
	require.Len(t, ticks, 1)
	assert.False(t, ticks[0].Timestamp.Before(before))
}

// tickServer is a websocket endpoint that records the subscribe command and
// then streams the given frames.
func tickServer(t *testing.T, frames []string, gotSubscribe chan<- subscribeCommand) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd subscribeCommand
		if json.Unmarshal(raw, &cmd) == nil {
			select {
			case gotSubscribe <- cmd:
			default:
			}
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestRunSubscribesAndStreams(t *testing.T) {
	frames := []string{
		`{"type":"tick","ticker":"AMZN","price":113,"volume":500}`,
		`{"type":"tick","ticker":"NVDA","price":900,"volume":200}`,
	}
	gotSubscribe := make(chan subscribeCommand, 1)
	srv := tickServer(t, frames, gotSubscribe)
	defer srv.Close()

	col := &tickCollector{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewTickFeed(url, []string{"AMZN", "NVDA"}, col.handle, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-gotSubscribe:
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, []string{"AMZN", "NVDA"}, cmd.Symbols)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe command received")
	}

	require.Eventually(t, func() bool {
		return len(col.all()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on Close")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	gotSubscribe := make(chan subscribeCommand, 1)
	srv := tickServer(t, nil, gotSubscribe)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewTickFeed(url, nil, func(context.Context, domain.Tick) {}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	<-gotSubscribe
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on cancel")
	}
}
