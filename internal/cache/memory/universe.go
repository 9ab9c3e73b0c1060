// Package memory provides in-process implementations of the cache ports for
// the standalone pipeline mode and for tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marketpulse/engine/internal/domain"
)

// UniverseCache implements domain.UniverseCache with plain maps.
type UniverseCache struct {
	mu      sync.RWMutex
	core    map[string]struct{}
	filters map[string][]string
}

// NewUniverseCache creates an empty UniverseCache, optionally seeded with
// core symbols.
func NewUniverseCache(core ...string) *UniverseCache {
	uc := &UniverseCache{
		core:    make(map[string]struct{}, len(core)),
		filters: make(map[string][]string),
	}
	for _, s := range core {
		uc.core[s] = struct{}{}
	}
	return uc
}

func (uc *UniverseCache) CoreSymbols(ctx context.Context) ([]string, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make([]string, 0, len(uc.core))
	for s := range uc.core {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (uc *UniverseCache) AddCoreSymbols(ctx context.Context, symbols ...string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for _, s := range symbols {
		uc.core[s] = struct{}{}
	}
	return nil
}

func (uc *UniverseCache) SetSubscriberFilter(ctx context.Context, subscriberID string, symbols []string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if len(symbols) == 0 {
		delete(uc.filters, subscriberID)
		return nil
	}
	uc.filters[subscriberID] = append([]string(nil), symbols...)
	return nil
}

func (uc *UniverseCache) SubscriberFilter(ctx context.Context, subscriberID string) ([]string, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := append([]string(nil), uc.filters[subscriberID]...)
	sort.Strings(out)
	return out, nil
}

var _ domain.UniverseCache = (*UniverseCache)(nil)
