package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"farmdispatch/internal/domain"
)

// RouteCacheTTL bounds staleness when a route is persisted by another replica.
const RouteCacheTTL = 60 * time.Second

const routeCachePrefix = "cache:route:"

// CacheStore caches trip route summaries in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetRoute retrieves a route summary from cache. A miss returns nil, nil.
func (s *CacheStore) GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error) {
	data, err := s.client.Get(ctx, routeCachePrefix+tripID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var summary domain.RouteSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SetRoute stores a route summary in cache.
func (s *CacheStore) SetRoute(ctx context.Context, summary *domain.RouteSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, routeCachePrefix+summary.TripID, data, RouteCacheTTL).Err()
}
