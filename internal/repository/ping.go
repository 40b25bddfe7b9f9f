package repository

import (
	"context"
	"time"

	"farmdispatch/internal/domain"
)

// PingRepository defines the persistence operations for order pings.
// Pings are never deleted, only transitioned.
type PingRepository interface {
	// CreateBatch inserts pings in one statement.
	CreateBatch(ctx context.Context, pings []*domain.OrderPing) error

	// GetByID retrieves a ping by ID.
	GetByID(ctx context.Context, id string) (*domain.OrderPing, error)

	// Transition moves a ping from one status to another, stamping responded_at.
	// Returns false when the ping was no longer in the from status.
	Transition(ctx context.Context, id string, from, to domain.PingStatus, at time.Time) (bool, error)

	// ExpireSiblings expires every other pending ping of the order.
	ExpireSiblings(ctx context.Context, orderID, exceptPingID string, at time.Time) (int64, error)

	// ExpireOverdue expires every pending ping whose deadline has passed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// ExpireOverdueForRider expires the rider's pending pings whose deadline has passed.
	ExpireOverdueForRider(ctx context.Context, riderID string, now time.Time) (int64, error)

	// ListPendingByRider retrieves the rider's pending pings, soonest deadline first.
	ListPendingByRider(ctx context.Context, riderID string) ([]*domain.OrderPing, error)

	// ListByOrder retrieves every ping created for an order.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.OrderPing, error)
}
