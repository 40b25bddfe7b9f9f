package repository

import (
	"context"

	"farmdispatch/internal/domain"
)

// StopRepository defines the persistence operations for trip stops.
type StopRepository interface {
	// ListByTrip retrieves the stops of a trip ordered by sequence.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.TripStop, error)

	// MaxSequence returns the highest sequence index used on the trip, or 0 when it has no stops.
	MaxSequence(ctx context.Context, tripID string) (int, error)

	// CreateBatch inserts stops in one statement.
	CreateBatch(ctx context.Context, stops []*domain.TripStop) error
}
