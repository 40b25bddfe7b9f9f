package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/observability"
	"farmdispatch/internal/repository"
)

// Skip reasons reported when a recalculation leaves the stored route untouched.
const (
	RouteSkipNoStart       = "no_start_point"
	RouteSkipTooFewPoints  = "too_few_waypoints"
	RouteSkipRoutingFailed = "routing_failed"
)

// RouteRecalculator rebuilds a trip's path from its current position through its open stops
// to its destination.
type RouteRecalculator struct {
	trips          repository.TripRepository
	stops          repository.StopRepository
	positions      PositionStore
	router         RoutingClient
	cache          RouteCache
	maxDetourRatio float64
	log            logrus.FieldLogger
	now            func() time.Time
}

// NewRouteRecalculator creates a new RouteRecalculator. positions and cache may be nil.
func NewRouteRecalculator(
	trips repository.TripRepository,
	stops repository.StopRepository,
	positions PositionStore,
	router RoutingClient,
	cache RouteCache,
	maxDetourRatio float64,
	log logrus.FieldLogger,
) *RouteRecalculator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RouteRecalculator{
		trips:          trips,
		stops:          stops,
		positions:      positions,
		router:         router,
		cache:          cache,
		maxDetourRatio: maxDetourRatio,
		log:            log,
		now:            time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (c *RouteRecalculator) WithClock(now func() time.Time) *RouteRecalculator {
	c.now = now
	return c
}

// RecalculateRequest names the trip and the stops just added to it.
// Pickups and Delivery are only used when the trip's stops cannot be read.
type RecalculateRequest struct {
	TripID   string
	Pickups  []domain.PickupLocation
	Delivery *domain.DeliveryLocation
}

// RecalculateResult describes the outcome of a recalculation.
type RecalculateResult struct {
	TripID            string
	Updated           bool
	SkipReason        string
	DistanceM         float64
	DurationS         float64
	PreviousDistanceM float64
	DetourRatio       float64
	DetourExceeded    bool
	StopCount         int
}

// Recalculate derives the route from current state and persists it. Re-running it without a
// state change produces the same route. A missing start point or a routing failure leaves
// the stored route as it was and is not an error.
func (c *RouteRecalculator) Recalculate(ctx context.Context, req RecalculateRequest) (*RecalculateResult, error) {
	if req.TripID == "" {
		return nil, ErrInvalidTripID
	}

	log := c.log.WithField("trip_id", req.TripID)
	result := &RecalculateResult{TripID: req.TripID}

	trip, err := c.trips.GetByID(ctx, req.TripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	result.PreviousDistanceM = trip.TotalDistanceM
	result.StopCount = trip.StopCount

	via := c.openStops(ctx, log, req, result)

	start, ok := c.startPoint(ctx, log, req.TripID, via)
	if !ok {
		return c.skip(log, result, RouteSkipNoStart), nil
	}

	waypoints := make([]domain.Point, 0, len(via)+2)
	waypoints = append(waypoints, start)
	for _, p := range via {
		if p != waypoints[len(waypoints)-1] {
			waypoints = append(waypoints, p)
		}
	}
	if !trip.Destination.IsZero() && trip.Destination != waypoints[len(waypoints)-1] {
		waypoints = append(waypoints, trip.Destination)
	}
	if len(waypoints) < 2 {
		return c.skip(log, result, RouteSkipTooFewPoints), nil
	}

	route, err := c.router.Route(ctx, waypoints)
	if err != nil {
		log.WithError(err).Warn("routing failed, keeping previous route")
		return c.skip(log, result, RouteSkipRoutingFailed), nil
	}

	result.DistanceM = route.DistanceM
	result.DurationS = route.DurationS

	if trip.TotalDistanceM > 0 {
		result.DetourRatio = (route.DistanceM - trip.TotalDistanceM) / trip.TotalDistanceM
		if result.DetourRatio > c.maxDetourRatio {
			result.DetourExceeded = true
			observability.DetourThresholdBreaches.Inc()
			log.WithFields(logrus.Fields{
				"previous_distance_m": trip.TotalDistanceM,
				"new_distance_m":      route.DistanceM,
				"detour_ratio":        result.DetourRatio,
				"max_detour_ratio":    c.maxDetourRatio,
			}).Warn("route detour exceeds configured maximum, committing anyway")
		}
	}

	summary := &domain.RouteSummary{
		TripID:    req.TripID,
		Path:      route.Path,
		DistanceM: route.DistanceM,
		DurationS: route.DurationS,
		StopCount: result.StopCount,
		UpdatedAt: c.now(),
	}
	if err := c.trips.UpdateRoute(ctx, summary); err != nil {
		observability.RouteRecalculations.WithLabelValues("persist_failed").Inc()
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetRoute(ctx, summary); err != nil {
			log.WithError(err).Warn("failed to cache route summary")
		}
	}

	observability.RouteRecalculations.WithLabelValues("updated").Inc()
	result.Updated = true
	return result, nil
}

// openStops returns the locations of the trip's incomplete stops in sequence order and records
// the trip's stop count. When stops cannot be read it falls back to the request's pickups
// followed by its delivery.
func (c *RouteRecalculator) openStops(ctx context.Context, log logrus.FieldLogger, req RecalculateRequest, result *RecalculateResult) []domain.Point {
	stops, err := c.stops.ListByTrip(ctx, req.TripID)
	if err == nil && len(stops) > 0 {
		result.StopCount = len(stops)
		via := make([]domain.Point, 0, len(stops))
		for _, s := range stops {
			if !s.Completed {
				via = append(via, s.Location)
			}
		}
		return via
	}
	if err != nil {
		log.WithError(err).Warn("failed to list trip stops, routing through new stops only")
	}

	via := make([]domain.Point, 0, len(req.Pickups)+1)
	for _, p := range req.Pickups {
		via = append(via, p.Point)
	}
	if req.Delivery != nil {
		via = append(via, req.Delivery.Point)
	}
	return via
}

// startPoint is the rider's latest known position, else the first open stop.
func (c *RouteRecalculator) startPoint(ctx context.Context, log logrus.FieldLogger, tripID string, via []domain.Point) (domain.Point, bool) {
	if c.positions != nil {
		p, ok, err := c.positions.GetTripPosition(ctx, tripID)
		if err != nil {
			log.WithError(err).Warn("failed to read trip position")
		} else if ok {
			return p, true
		}
	}
	if len(via) > 0 {
		return via[0], true
	}
	return domain.Point{}, false
}

func (c *RouteRecalculator) skip(log logrus.FieldLogger, result *RecalculateResult, reason string) *RecalculateResult {
	observability.RouteRecalculations.WithLabelValues(reason).Inc()
	log.WithField("reason", reason).Info("route recalculation skipped")
	result.SkipReason = reason
	return result
}
