package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// TripService exposes a rider's trip itinerary, position and route.
type TripService struct {
	trips     repository.TripRepository
	stops     repository.StopRepository
	positions PositionStore
	cache     RouteCache
	routes    *RouteRecalculator
	log       logrus.FieldLogger
}

// NewTripService creates a new TripService. cache may be nil.
func NewTripService(
	trips repository.TripRepository,
	stops repository.StopRepository,
	positions PositionStore,
	cache RouteCache,
	routes *RouteRecalculator,
	log logrus.FieldLogger,
) *TripService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TripService{
		trips:     trips,
		stops:     stops,
		positions: positions,
		cache:     cache,
		routes:    routes,
		log:       log,
	}
}

// UpdatePositionRequest contains the parameters for a position report.
type UpdatePositionRequest struct {
	TripID   string
	RiderID  string
	Position domain.Point
}

// UpdatePosition records the rider's latest position on their trip.
func (s *TripService) UpdatePosition(ctx context.Context, req UpdatePositionRequest) error {
	if !req.Position.Valid() || req.Position.IsZero() {
		return ErrInvalidLocation
	}

	if _, err := s.ownedTrip(ctx, req.TripID, req.RiderID); err != nil {
		return err
	}

	return s.positions.SetTripPosition(ctx, req.TripID, req.Position)
}

// GetStops returns the trip's itinerary in sequence order.
func (s *TripService) GetStops(ctx context.Context, tripID string) ([]*domain.TripStop, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if _, err := s.trip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.stops.ListByTrip(ctx, tripID)
}

// GetRoute returns the trip's current route summary, from cache when possible.
func (s *TripService) GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	if s.cache != nil {
		cached, err := s.cache.GetRoute(ctx, tripID)
		if err != nil {
			s.log.WithError(err).WithField("trip_id", tripID).Warn("route cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	trip, err := s.trip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	summary := &domain.RouteSummary{
		TripID:    trip.ID,
		Path:      trip.Route,
		DistanceM: trip.TotalDistanceM,
		DurationS: trip.TotalDurationS,
		StopCount: trip.StopCount,
		UpdatedAt: trip.RouteUpdatedAt,
	}

	if s.cache != nil && !trip.RouteUpdatedAt.IsZero() {
		if err := s.cache.SetRoute(ctx, summary); err != nil {
			s.log.WithError(err).WithField("trip_id", tripID).Warn("route cache write failed")
		}
	}

	return summary, nil
}

// RecalculateRoute re-runs route recalculation for the trip's owner, e.g. after a failed
// routing call left the route stale.
func (s *TripService) RecalculateRoute(ctx context.Context, tripID, riderID string) (*RecalculateResult, error) {
	if _, err := s.ownedTrip(ctx, tripID, riderID); err != nil {
		return nil, err
	}
	return s.routes.Recalculate(ctx, RecalculateRequest{TripID: tripID})
}

func (s *TripService) ownedTrip(ctx context.Context, tripID, riderID string) (*domain.RiderTrip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}

	trip, err := s.trip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != riderID {
		return nil, ErrNotTripOwner
	}
	return trip, nil
}

func (s *TripService) trip(ctx context.Context, tripID string) (*domain.RiderTrip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return trip, nil
}
