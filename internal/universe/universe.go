// Package universe holds the in-memory core watch set used for priority
// boosting, refreshed periodically from the universe cache.
package universe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/engine/internal/domain"
)

// Set is a concurrency-safe symbol set.
type Set struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

// NewSet creates a Set seeded with the given symbols.
func NewSet(symbols []string) *Set {
	s := &Set{symbols: make(map[string]struct{}, len(symbols))}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	return s
}

// Contains reports membership. Safe for concurrent use on the queue's
// scoring path.
func (s *Set) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[symbol]
	return ok
}

// Replace swaps the entire membership.
func (s *Set) Replace(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		next[sym] = struct{}{}
	}
	s.mu.Lock()
	s.symbols = next
	s.mu.Unlock()
}

// Len returns the current membership size.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Refresher keeps a Set synchronized with the universe cache.
type Refresher struct {
	set      *Set
	cache    domain.UniverseCache
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher that reloads set from cache every
// interval.
func NewRefresher(set *Set, cache domain.UniverseCache, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		set:      set,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "universe_refresher")),
	}
}

// Run reloads immediately and then on every tick until ctx is cancelled. A
// failed reload keeps the previous membership.
func (r *Refresher) Run(ctx context.Context) error {
	r.reload(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reload(ctx)
		}
	}
}

func (r *Refresher) reload(ctx context.Context) {
	symbols, err := r.cache.CoreSymbols(ctx)
	if err != nil {
		r.logger.Warn("core universe reload failed", slog.String("error", err.Error()))
		return
	}
	r.set.Replace(symbols)
	r.logger.Debug("core universe reloaded", slog.Int("symbols", len(symbols)))
}
