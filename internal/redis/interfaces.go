package redis

import (
	"context"
	"time"

	"farmdispatch/internal/domain"
)

// LocationStoreInterface defines the interface for trip position operations.
type LocationStoreInterface interface {
	SetTripPosition(ctx context.Context, tripID string, p domain.Point) error
	GetTripPosition(ctx context.Context, tripID string) (domain.Point, bool, error)
}

// LockStoreInterface defines the interface for distributed job locking.
type LockStoreInterface interface {
	AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseSweepLock(ctx context.Context, name, token string) error
}

// RouteCacheInterface defines the interface for route summary caching.
type RouteCacheInterface interface {
	GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error)
	SetRoute(ctx context.Context, summary *domain.RouteSummary) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ RouteCacheInterface    = (*CacheStore)(nil)
)
