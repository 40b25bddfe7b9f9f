package repository

import (
	"context"
	"time"

	"farmdispatch/internal/domain"
)

// OrderRepository defines the persistence operations for orders.
type OrderRepository interface {
	// GetByID retrieves an order by ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// ListItems retrieves the line items of an order, oldest first.
	ListItems(ctx context.Context, orderID string) ([]*domain.OrderItem, error)

	// MatchIfPending assigns the rider and trip to the order only if it is still pending.
	// Returns false when the order had already left the pending state.
	MatchIfPending(ctx context.Context, orderID, riderID, tripID string, matchedAt time.Time) (bool, error)
}
