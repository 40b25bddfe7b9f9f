package repository

import (
	"context"

	"farmdispatch/internal/domain"
)

// TripRepository defines the persistence operations for rider trips.
type TripRepository interface {
	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.RiderTrip, error)

	// GetByIDForUpdate retrieves a trip and locks its row for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.RiderTrip, error)

	// DeductCapacity subtracts weightKg from the remaining capacity, floored at zero,
	// in a single conditional statement.
	DeductCapacity(ctx context.Context, tripID string, weightKg float64) (*domain.CapacityChange, error)

	// UpdateRoute persists a recalculated route.
	UpdateRoute(ctx context.Context, summary *domain.RouteSummary) error
}
