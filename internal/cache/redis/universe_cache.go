package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketpulse/engine/internal/domain"
)

// filterTTL bounds how long an orphaned subscriber filter survives after its
// owner stops reconnecting.
const filterTTL = 24 * time.Hour

// UniverseCache implements domain.UniverseCache with Redis sets.
//
// Key schema:
//
//	universe:core            - set of core symbols
//	universe:filter:{subID}  - set of symbols one subscriber wants
type UniverseCache struct {
	rdb *redis.Client
}

// NewUniverseCache creates a UniverseCache backed by the given Client.
func NewUniverseCache(c *Client) *UniverseCache {
	return &UniverseCache{rdb: c.Underlying()}
}

const coreKey = "universe:core"

func filterKey(subscriberID string) string { return "universe:filter:" + subscriberID }

// CoreSymbols returns the core watch set, sorted for stable output.
func (uc *UniverseCache) CoreSymbols(ctx context.Context) ([]string, error) {
	symbols, err := uc.rdb.SMembers(ctx, coreKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: core symbols: %w", err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// AddCoreSymbols adds symbols to the core watch set.
func (uc *UniverseCache) AddCoreSymbols(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	members := make([]any, len(symbols))
	for i, s := range symbols {
		members[i] = s
	}
	if err := uc.rdb.SAdd(ctx, coreKey, members...).Err(); err != nil {
		return fmt.Errorf("redis: add core symbols: %w", err)
	}
	return nil
}

// SetSubscriberFilter replaces one subscriber's filter set. An empty symbol
// list deletes the filter.
func (uc *UniverseCache) SetSubscriberFilter(ctx context.Context, subscriberID string, symbols []string) error {
	key := filterKey(subscriberID)

	pipe := uc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(symbols) > 0 {
		members := make([]any, len(symbols))
		for i, s := range symbols {
			members[i] = s
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, filterTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set filter for %s: %w", subscriberID, err)
	}
	return nil
}

// SubscriberFilter returns one subscriber's filter set. A missing filter is
// an empty slice, not an error.
func (uc *UniverseCache) SubscriberFilter(ctx context.Context, subscriberID string) ([]string, error) {
	symbols, err := uc.rdb.SMembers(ctx, filterKey(subscriberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: filter for %s: %w", subscriberID, err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

var _ domain.UniverseCache = (*UniverseCache)(nil)
