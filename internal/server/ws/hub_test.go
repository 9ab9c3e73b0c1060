package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/cache/memory"
	"github.com/marketpulse/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	return mux
}

// addClient registers a synthetic client without a live connection.
func addClient(h *Hub, id string, bufSize int, symbols ...string) *client {
	c := &client{
		id:      id,
		hub:     h,
		send:    make(chan []byte, bufSize),
		symbols: make(map[string]struct{}),
	}
	for _, s := range symbols {
		c.symbols[s] = struct{}{}
	}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func TestMatches(t *testing.T) {
	h := NewHub(nil, testLogger())
	ctx := context.Background()

	addClient(h, "open", 1)
	addClient(h, "narrow", 1, "AMZN")

	rec := domain.WireRecord{"ticker": "AMZN"}
	other := domain.WireRecord{"ticker": "NVDA"}

	assert.True(t, h.Matches(ctx, "open", rec), "no filter receives everything")
	assert.True(t, h.Matches(ctx, "open", other))
	assert.True(t, h.Matches(ctx, "narrow", rec))
	assert.False(t, h.Matches(ctx, "narrow", other))
	assert.False(t, h.Matches(ctx, "ghost", rec), "unknown subscriber receives nothing")
}

func TestEmit(t *testing.T) {
	h := NewHub(nil, testLogger())
	ctx := context.Background()
	c := addClient(h, "sub-1", 1)

	require.NoError(t, h.Emit(ctx, "sub-1", []byte("one")))

	// The buffer holds one payload; the next emit drops instead of
	// blocking the emission cycle.
	err := h.Emit(ctx, "sub-1", []byte("two"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send buffer full")

	assert.Equal(t, []byte("one"), <-c.send)

	err = h.Emit(ctx, "ghost", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscribersAndShutdown(t *testing.T) {
	h := NewHub(nil, testLogger())
	addClient(h, "a", 1)
	addClient(h, "b", 1)

	subs := h.Subscribers(context.Background())
	assert.ElementsMatch(t, []string{"a", "b"}, subs)
	assert.Equal(t, 2, h.ClientCount())

	h.Shutdown()
	assert.Empty(t, h.Subscribers(context.Background()))
	assert.Equal(t, 0, h.ClientCount())
}

// dial connects a real websocket client to the hub and returns the
// connection plus the subscriber ID from the welcome envelope.
func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var welcome struct {
		Type    string `json:"type"`
		Payload struct {
			SubscriberID string `json:"subscriber_id"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.NotEmpty(t, welcome.Payload.SubscriberID)
	return conn, welcome.Payload.SubscriberID
}

func TestHandleWSLifecycle(t *testing.T) {
	h := NewHub(nil, testLogger())
	mux := httptest.NewServer(httpHandler(h))
	defer mux.Close()

	conn, id := dial(t, mux, "")
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Deliver a snapshot through the transport port.
	require.NoError(t, h.Emit(context.Background(), id, []byte(`{"highs":[]}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"highs":[]}`, string(payload))

	conn.Close()
	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEmitSurvivesConcurrentDisconnects(t *testing.T) {
	h := NewHub(nil, testLogger())
	mux := httptest.NewServer(httpHandler(h))
	defer mux.Close()
	defer h.Shutdown()

	url := "ws" + strings.TrimPrefix(mux.URL, "http") + "/ws"

	// Churn connections while the emission side keeps delivering: a
	// disconnect racing an Emit must surface as ErrNotFound or a full
	// buffer, never as a send on a closed channel.
	done := make(chan struct{})
	churned := make(chan struct{})
	go func() {
		defer close(churned)
		for {
			select {
			case <-done:
				return
			default:
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if resp != nil {
				resp.Body.Close()
			}
			if err != nil {
				continue
			}
			conn.Close()
		}
	}()

	ctx := context.Background()
	payload := []byte(`{"highs":[]}`)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, id := range h.Subscribers(ctx) {
			assert.NotPanics(t, func() { _ = h.Emit(ctx, id, payload) })
		}
	}

	close(done)
	<-churned
}

func TestFilterMessagesAndPersistence(t *testing.T) {
	cache := memory.NewUniverseCache()
	h := NewHub(cache, testLogger())
	mux := httptest.NewServer(httpHandler(h))
	defer mux.Close()

	conn, id := dial(t, mux, "")
	defer conn.Close()

	// Symbols are normalized to upper case.
	require.NoError(t, conn.WriteJSON(filterMsg{Action: "subscribe", Symbols: []string{" amzn ", "nvda"}}))

	ctx := context.Background()
	amzn := domain.WireRecord{"ticker": "AMZN"}
	tsla := domain.WireRecord{"ticker": "TSLA"}
	require.Eventually(t, func() bool {
		return h.Matches(ctx, id, amzn) && !h.Matches(ctx, id, tsla)
	}, time.Second, 10*time.Millisecond)

	// The filter was persisted for reconnects.
	require.Eventually(t, func() bool {
		stored, err := cache.SubscriberFilter(ctx, id)
		return err == nil && len(stored) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(filterMsg{Action: "unsubscribe", Symbols: []string{"NVDA"}}))
	require.Eventually(t, func() bool {
		stored, err := cache.SubscriberFilter(ctx, id)
		return err == nil && len(stored) == 1 && stored[0] == "AMZN"
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)

	// Reconnecting with the previous ID restores the stored filter.
	conn2, id2 := dial(t, mux, "?subscriber_id="+id)
	defer conn2.Close()
	require.Equal(t, id, id2)
	require.Eventually(t, func() bool {
		return h.Matches(ctx, id, amzn) && !h.Matches(ctx, id, tsla)
	}, time.Second, 10*time.Millisecond)
}

func TestClearFilter(t *testing.T) {
	h := NewHub(nil, testLogger())
	mux := httptest.NewServer(httpHandler(h))
	defer mux.Close()

	conn, id := dial(t, mux, "")
	defer conn.Close()

	ctx := context.Background()
	tsla := domain.WireRecord{"ticker": "TSLA"}

	require.NoError(t, conn.WriteJSON(filterMsg{Action: "subscribe", Symbols: []string{"AMZN"}}))
	require.Eventually(t, func() bool {
		return !h.Matches(ctx, id, tsla)
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(filterMsg{Action: "clear"}))
	require.Eventually(t, func() bool {
		return h.Matches(ctx, id, tsla)
	}, time.Second, 10*time.Millisecond)
}
