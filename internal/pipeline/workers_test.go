package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/queue"
)

func queuedHighLow(id string, isHigh bool) domain.HighLowEvent {
	return domain.HighLowEvent{
		EventMeta: domain.EventMeta{
			ID:         id,
			Symbol:     "AMZN",
			Kind:       domain.KindHighLow,
			Price:      113,
			Direction:  domain.DirectionUp,
			Volume:     500,
			DetectedAt: time.Now().UTC(),
		},
		IsHigh: isHigh,
		Count:  1,
	}
}

func TestPoolDrainsQueueIntoBuffer(t *testing.T) {
	q := queue.New(100, queue.Scorer{}, testLogger())
	buf := NewBuffer(100)
	pool := NewPool(PoolConfig{Workers: 3, CollectMax: 10, CollectTimeout: 10 * time.Millisecond}, q, buf, testLogger())

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Add(queuedHighLow(string(rune('a'+i)), i%2 == 0)))
	}
	q.Shutdown()

	// With the queue already closed the pool drains what remains and
	// returns on its own.
	require.NoError(t, pool.Run(context.Background()))

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 10, buf.Len(domain.CategoryHighs))
	assert.Equal(t, 10, buf.Len(domain.CategoryLows))
}

func TestPoolDropsUnconvertibleEvents(t *testing.T) {
	q := queue.New(100, queue.Scorer{}, testLogger())
	buf := NewBuffer(100)
	pool := NewPool(PoolConfig{Workers: 1, CollectMax: 10, CollectTimeout: 10 * time.Millisecond}, q, buf, testLogger())

	require.NoError(t, q.Add(queuedHighLow("good", true)))
	// Missing trigger type fails conversion; the batch continues past it.
	require.NoError(t, q.Add(domain.SurgeEvent{
		EventMeta: domain.EventMeta{
			ID: "bad", Symbol: "GME", Kind: domain.KindSurge, Price: 10,
			DetectedAt: time.Now().UTC(),
		},
	}))
	q.Shutdown()

	require.NoError(t, pool.Run(context.Background()))

	assert.Equal(t, 1, buf.Len(domain.CategoryHighs))
	assert.Equal(t, 0, buf.Len(domain.CategorySurging))
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	q := queue.New(100, queue.Scorer{}, testLogger())
	buf := NewBuffer(100)
	pool := NewPool(PoolConfig{Workers: 2, CollectMax: 10, CollectTimeout: time.Hour}, q, buf, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop on cancel")
	}
}
