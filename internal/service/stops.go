package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// StopSequencer appends an order's stops to a trip itinerary.
type StopSequencer struct {
	tx  repository.Transactor
	now func() time.Time
}

// NewStopSequencer creates a new StopSequencer.
func NewStopSequencer(tx repository.Transactor) *StopSequencer {
	return &StopSequencer{tx: tx, now: time.Now}
}

// AppendStopsRequest contains the stops of one matched order.
type AppendStopsRequest struct {
	TripID   string
	OrderID  string
	Pickups  []domain.PickupLocation
	Delivery domain.DeliveryLocation
}

// Append adds one pickup per distinct producer then one delivery, continuing the trip's
// sequence. The trip row is locked while the next index is read so concurrent matches on
// the same trip never reuse an index.
func (q *StopSequencer) Append(ctx context.Context, req AppendStopsRequest) ([]*domain.TripStop, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}
	if !req.Delivery.Valid() {
		return nil, ErrInvalidLocation
	}
	for _, p := range req.Pickups {
		if !p.Valid() {
			return nil, ErrInvalidLocation
		}
	}

	pickups := distinctPickups(req.Pickups)

	var stops []*domain.TripStop
	err := q.tx.WithinTx(ctx, func(ctx context.Context, repos repository.TxRepositories) error {
		trip, err := repos.Trips.GetByIDForUpdate(ctx, req.TripID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTripNotFound
			}
			return err
		}
		if !trip.Status.Accepting() {
			return ErrTripNotAccepting
		}

		last, err := repos.Stops.MaxSequence(ctx, req.TripID)
		if err != nil {
			return err
		}

		now := q.now()
		stops = make([]*domain.TripStop, 0, len(pickups)+1)
		for _, p := range pickups {
			last++
			stops = append(stops, &domain.TripStop{
				ID:        uuid.New().String(),
				TripID:    req.TripID,
				OrderID:   req.OrderID,
				Type:      domain.StopTypePickup,
				Location:  p.Point,
				Address:   p.Label,
				Sequence:  last,
				CreatedAt: now,
			})
		}
		last++
		stops = append(stops, &domain.TripStop{
			ID:        uuid.New().String(),
			TripID:    req.TripID,
			OrderID:   req.OrderID,
			Type:      domain.StopTypeDelivery,
			Location:  req.Delivery.Point,
			Address:   req.Delivery.Address,
			Sequence:  last,
			CreatedAt: now,
		})

		return repos.Stops.CreateBatch(ctx, stops)
	})
	if err != nil {
		return nil, err
	}

	return stops, nil
}

func distinctPickups(pickups []domain.PickupLocation) []domain.PickupLocation {
	seen := make(map[string]bool, len(pickups))
	out := make([]domain.PickupLocation, 0, len(pickups))
	for _, p := range pickups {
		key := p.ProducerID
		if key == "" {
			key = p.Point.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
