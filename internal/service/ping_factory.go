package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/config"
	"farmdispatch/internal/domain"
	"farmdispatch/internal/geo"
	"farmdispatch/internal/observability"
	"farmdispatch/internal/repository"
)

// PingFactory turns a placed order into time-boxed offers for eligible riders.
// It never mutates the order, so placing the order stands regardless of the outcome here.
type PingFactory struct {
	eligibility   EligibilityClient
	orders        repository.OrderRepository
	pings         repository.PingRepository
	notifications *NotificationService
	cfg           config.DispatchConfig
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewPingFactory creates a new PingFactory. notifications may be nil.
func NewPingFactory(
	eligibility EligibilityClient,
	orders repository.OrderRepository,
	pings repository.PingRepository,
	notifications *NotificationService,
	cfg config.DispatchConfig,
	log logrus.FieldLogger,
) *PingFactory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PingFactory{
		eligibility:   eligibility,
		orders:        orders,
		pings:         pings,
		notifications: notifications,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (f *PingFactory) WithClock(now func() time.Time) *PingFactory {
	f.now = now
	return f
}

// CreatePingsRequest contains the parameters for dispatching an order.
// Zero values fall back to configuration.
type CreatePingsRequest struct {
	OrderID    string
	MaxDetourM float64
	MaxRiders  int
}

// CreatePingsResponse contains the offers created for the order.
type CreatePingsResponse struct {
	OrderID string
	Pings   []*domain.OrderPing
}

// CreatePings finds eligible riders and persists one pending offer per candidate in a single batch.
// Finding nobody is a successful dispatch with zero offers.
// Calling it twice creates a second batch; callers trigger it once per order.
func (f *PingFactory) CreatePings(ctx context.Context, req CreatePingsRequest) (*CreatePingsResponse, error) {
	if req.OrderID == "" {
		return nil, ErrInvalidOrderID
	}
	if req.MaxDetourM <= 0 {
		req.MaxDetourM = f.cfg.MaxDetourM
	}
	if req.MaxRiders <= 0 {
		req.MaxRiders = f.cfg.MaxRiders
	}

	log := f.log.WithField("order_id", req.OrderID)

	order, err := f.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, ErrOrderAlreadyMatched
	}

	candidates, err := f.eligibility.FindEligibleRiders(ctx, geo.Query{
		OrderID:    req.OrderID,
		MaxDetourM: req.MaxDetourM,
		MaxResults: req.MaxRiders,
	})
	if err != nil {
		log.WithError(err).Error("eligibility lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrEligibilityUnavailable, err)
	}

	response := &CreatePingsResponse{OrderID: req.OrderID, Pings: []*domain.OrderPing{}}
	if len(candidates) == 0 {
		observability.DispatchesWithoutCandidates.Inc()
		log.Info("no eligible riders for order")
		return response, nil
	}

	items, err := f.orders.ListItems(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	pickups := domain.PickupsByProducer(items)
	delivery := domain.DeliveryLocation{Point: order.DeliveryPoint, Address: order.DeliveryAddress}
	totalWeight := domain.TotalWeightKg(items)

	now := f.now()
	expiresAt := now.Add(f.cfg.OfferWindow)

	pings := make([]*domain.OrderPing, 0, len(candidates))
	for _, c := range candidates {
		pings = append(pings, &domain.OrderPing{
			ID:      uuid.New().String(),
			OrderID: order.ID,
			RiderID: c.RiderID,
			TripID:  c.TripID,
			// Each ping owns its copy of the snapshot.
			Pickups:           append([]domain.PickupLocation(nil), pickups...),
			Delivery:          delivery,
			TotalWeightKg:     totalWeight,
			EstimatedEarnings: order.DeliveryFee,
			DetourDistanceM:   c.DetourDistanceM,
			Status:            domain.PingStatusPending,
			ExpiresAt:         expiresAt,
			CreatedAt:         now,
		})
	}

	if err := f.pings.CreateBatch(ctx, pings); err != nil {
		return nil, err
	}

	observability.PingsCreated.Add(float64(len(pings)))
	log.WithField("pings", len(pings)).Info("offers created")

	if f.notifications != nil {
		for _, p := range pings {
			// Rider may be offline; the offer is still listed on poll.
			if err := f.notifications.NotifyOfferCreated(ctx, p); err != nil {
				log.WithError(err).WithField("rider_id", p.RiderID).Debug("offer push skipped")
			}
		}
	}

	response.Pings = pings
	return response, nil
}
