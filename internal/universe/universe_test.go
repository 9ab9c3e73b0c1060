package universe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marketpulse/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetMembership(t *testing.T) {
	s := NewSet([]string{"AMZN", "NVDA"})

	assert.True(t, s.Contains("AMZN"))
	assert.False(t, s.Contains("TSLA"))
	assert.Equal(t, 2, s.Len())

	s.Replace([]string{"TSLA"})
	assert.False(t, s.Contains("AMZN"))
	assert.True(t, s.Contains("TSLA"))
	assert.Equal(t, 1, s.Len())
}

func TestSetConcurrentAccess(t *testing.T) {
	s := NewSet([]string{"AMZN"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Contains("AMZN")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Replace([]string{"AMZN", "NVDA"})
			}
		}()
	}
	wg.Wait()
	assert.True(t, s.Contains("AMZN"))
}

// failOnceCache returns an error on the first CoreSymbols call and symbols
// afterwards.
type failOnceCache struct {
	domain.UniverseCache
	mu     sync.Mutex
	calls  int
	result []string
}

func (c *failOnceCache) CoreSymbols(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return nil, errors.New("redis unavailable")
	}
	return c.result, nil
}

func TestRefresherKeepsMembershipOnFailure(t *testing.T) {
	s := NewSet([]string{"AMZN"})
	cache := &failOnceCache{result: []string{"NVDA"}}
	r := NewRefresher(s, cache, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	// The failed initial reload left the seed membership alone; a later
	// tick replaced it.
	assert.True(t, s.Contains("NVDA"))
	assert.False(t, s.Contains("AMZN"))
}
