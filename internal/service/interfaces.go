package service

import (
	"context"
	"time"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/geo"
)

// EligibilityClient finds rider trips able to absorb an order.
type EligibilityClient interface {
	FindEligibleRiders(ctx context.Context, q geo.Query) ([]domain.EligibleRider, error)
}

// RoutingClient computes a path through waypoints in order.
type RoutingClient interface {
	Route(ctx context.Context, waypoints []domain.Point) (*domain.Route, error)
}

// PositionStore holds the latest known rider position per trip.
type PositionStore interface {
	SetTripPosition(ctx context.Context, tripID string, p domain.Point) error
	// GetTripPosition reports ok=false when no position is known.
	GetTripPosition(ctx context.Context, tripID string) (p domain.Point, ok bool, err error)
}

// RouteCache caches the last persisted route summary of a trip.
type RouteCache interface {
	GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error)
	SetRoute(ctx context.Context, summary *domain.RouteSummary) error
}

// EventPublisher hands post-commit tasks to the notification worker.
type EventPublisher interface {
	PublishRiderMatched(ctx context.Context, evt domain.RiderMatchedEvent) error
}

// OfferPusher delivers an offer to a connected rider session.
type OfferPusher interface {
	Push(riderID string, v any) error
}

// SweepLock elects a single sweeper across replicas. Release only succeeds for the token
// returned by the matching acquire.
type SweepLock interface {
	AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseSweepLock(ctx context.Context, name, token string) error
}
