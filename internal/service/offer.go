package service

import (
	"context"
	"errors"
	"time"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// Offer is a ping as seen by a rider client.
type Offer struct {
	PingID            string                  `json:"ping_id"`
	OrderID           string                  `json:"order_id"`
	TripID            string                  `json:"trip_id"`
	PickupLocations   []domain.PickupLocation `json:"pickup_locations"`
	DeliveryLocation  domain.DeliveryLocation `json:"delivery_location"`
	TotalWeightKg     float64                 `json:"total_weight_kg"`
	EstimatedEarnings float64                 `json:"estimated_earnings"`
	DetourDistanceM   float64                 `json:"detour_distance_m"`
	Status            domain.PingStatus       `json:"status"`
	ExpiresAt         time.Time               `json:"expires_at"`
}

// NewOffer builds the client view of a ping.
func NewOffer(p *domain.OrderPing) Offer {
	return Offer{
		PingID:            p.ID,
		OrderID:           p.OrderID,
		TripID:            p.TripID,
		PickupLocations:   p.Pickups,
		DeliveryLocation:  p.Delivery,
		TotalWeightKg:     p.TotalWeightKg,
		EstimatedEarnings: p.EstimatedEarnings,
		DetourDistanceM:   p.DetourDistanceM,
		Status:            p.Status,
		ExpiresAt:         p.ExpiresAt,
	}
}

// OfferService answers read queries about offers. Overdue offers are expired as they are read.
type OfferService struct {
	pings  repository.PingRepository
	orders repository.OrderRepository
	now    func() time.Time
}

// NewOfferService creates a new OfferService.
func NewOfferService(pings repository.PingRepository, orders repository.OrderRepository) *OfferService {
	return &OfferService{pings: pings, orders: orders, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *OfferService) WithClock(now func() time.Time) *OfferService {
	s.now = now
	return s
}

// Get returns one of the rider's offers.
func (s *OfferService) Get(ctx context.Context, pingID, riderID string) (*domain.OrderPing, error) {
	if pingID == "" {
		return nil, ErrInvalidPingID
	}
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}

	ping, err := s.pings.GetByID(ctx, pingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPingNotFound
		}
		return nil, err
	}

	if ping.RiderID != riderID {
		return nil, ErrNotPingOwner
	}

	now := s.now()
	if !ping.Status.IsTerminal() && ping.IsExpired(now) {
		ok, err := s.pings.Transition(ctx, ping.ID, domain.PingStatusPending, domain.PingStatusExpired, now)
		if err != nil {
			return nil, err
		}
		if ok {
			ping.Status = domain.PingStatusExpired
			ping.RespondedAt = now
		}
	}

	return ping, nil
}

// ListForRider returns the rider's live offers.
func (s *OfferService) ListForRider(ctx context.Context, riderID string) ([]*domain.OrderPing, error) {
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}

	if _, err := s.pings.ExpireOverdueForRider(ctx, riderID, s.now()); err != nil {
		return nil, err
	}

	return s.pings.ListPendingByRider(ctx, riderID)
}

// ListForOrder returns every offer created for an order. Only the order's buyer may list them.
func (s *OfferService) ListForOrder(ctx context.Context, orderID, actorID string) ([]*domain.OrderPing, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if actorID == "" || order.BuyerID != actorID {
		return nil, ErrNotOrderBuyer
	}

	return s.pings.ListByOrder(ctx, orderID)
}
