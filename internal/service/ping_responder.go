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

// errOrderTaken aborts the match transaction when the order has already left pending.
var errOrderTaken = errors.New("order no longer pending")

// PingResponderDeps contains the collaborators of a PingResponder.
type PingResponderDeps struct {
	Tx        repository.Transactor
	Pings     repository.PingRepository
	Capacity  *CapacityLedger
	Stops     *StopSequencer
	Routes    *RouteRecalculator
	Publisher EventPublisher
	Logger    logrus.FieldLogger
}

// PingResponder handles a rider's answer to an offer.
type PingResponder struct {
	tx        repository.Transactor
	pings     repository.PingRepository
	capacity  *CapacityLedger
	stops     *StopSequencer
	routes    *RouteRecalculator
	publisher EventPublisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewPingResponder creates a new PingResponder.
func NewPingResponder(deps PingResponderDeps) *PingResponder {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PingResponder{
		tx:        deps.Tx,
		pings:     deps.Pings,
		capacity:  deps.Capacity,
		stops:     deps.Stops,
		routes:    deps.Routes,
		publisher: deps.Publisher,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (r *PingResponder) WithClock(now func() time.Time) *PingResponder {
	r.now = now
	return r
}

// AcceptRequest contains the parameters for accepting an offer.
type AcceptRequest struct {
	PingID  string
	RiderID string
}

// AcceptResponse contains the result of a winning accept.
type AcceptResponse struct {
	OrderID      string
	TripID       string
	RouteUpdated bool
}

// Accept tries to win the order for the rider.
//
// The order is claimed with a conditional update that only succeeds while it is still pending,
// in the same transaction that marks the ping accepted. Everything after the commit is
// best-effort and never undoes the match.
func (r *PingResponder) Accept(ctx context.Context, req AcceptRequest) (*AcceptResponse, error) {
	started := time.Now()

	ping, err := r.loadPending(ctx, req.PingID, req.RiderID)
	if err != nil {
		// A sibling win expires this ping before its deadline.
		if errors.Is(err, ErrPingAlreadyResponded) && ping.Status == domain.PingStatusExpired && !ping.IsExpired(r.now()) {
			return nil, ErrOrderAlreadyMatched
		}
		return nil, err
	}

	log := r.log.WithFields(logrus.Fields{
		"ping_id":  ping.ID,
		"order_id": ping.OrderID,
		"trip_id":  ping.TripID,
		"rider_id": ping.RiderID,
	})

	now := r.now()
	if ping.IsExpired(now) {
		r.expire(ctx, log, ping, now)
		return nil, ErrPingExpired
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context, repos repository.TxRepositories) error {
		trip, err := repos.Trips.GetByID(ctx, ping.TripID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTripNotFound
			}
			return err
		}
		if !trip.Status.Accepting() {
			return ErrTripNotAccepting
		}

		matched, err := repos.Orders.MatchIfPending(ctx, ping.OrderID, ping.RiderID, ping.TripID, now)
		if err != nil {
			return err
		}
		if !matched {
			return errOrderTaken
		}

		accepted, err := repos.Pings.Transition(ctx, ping.ID, domain.PingStatusPending, domain.PingStatusAccepted, now)
		if err != nil {
			return err
		}
		if !accepted {
			return ErrPingAlreadyResponded
		}
		return nil
	})
	switch {
	case errors.Is(err, errOrderTaken):
		if _, derr := r.pings.Transition(ctx, ping.ID, domain.PingStatusPending, domain.PingStatusDeclined, now); derr != nil {
			log.WithError(derr).Warn("failed to decline ping that lost the race")
		}
		observability.PingResponses.WithLabelValues("lost_race").Inc()
		return nil, ErrOrderAlreadyMatched
	case err != nil:
		return nil, err
	}

	observability.PingResponses.WithLabelValues("accepted").Inc()
	log.Info("order matched")

	response := &AcceptResponse{OrderID: ping.OrderID, TripID: ping.TripID}

	if n, err := r.pings.ExpireSiblings(ctx, ping.OrderID, ping.ID, now); err != nil {
		log.WithError(err).Warn("failed to expire sibling pings")
	} else if n > 0 {
		log.WithField("expired", n).Debug("sibling pings expired")
	}

	if _, err := r.capacity.Deduct(ctx, ping.TripID, ping.TotalWeightKg); err != nil {
		log.WithError(err).Warn("failed to deduct trip capacity")
	}

	if _, err := r.stops.Append(ctx, AppendStopsRequest{
		TripID:   ping.TripID,
		OrderID:  ping.OrderID,
		Pickups:  ping.Pickups,
		Delivery: ping.Delivery,
	}); err != nil {
		log.WithError(err).Warn("failed to append trip stops")
	}

	delivery := ping.Delivery
	route, err := r.routes.Recalculate(ctx, RecalculateRequest{
		TripID:   ping.TripID,
		Pickups:  ping.Pickups,
		Delivery: &delivery,
	})
	if err != nil {
		log.WithError(err).Warn("route recalculation failed")
	} else {
		response.RouteUpdated = route.Updated
	}

	if r.publisher != nil {
		if err := r.publisher.PublishRiderMatched(ctx, domain.RiderMatchedEvent{
			Type:      domain.EventRiderMatched,
			OrderID:   ping.OrderID,
			RiderID:   ping.RiderID,
			TripID:    ping.TripID,
			MatchedAt: now,
		}); err != nil {
			log.WithError(err).Warn("failed to publish rider matched task")
		}
	}

	observability.MatchLatency.Observe(time.Since(started).Seconds())
	return response, nil
}

// DeclineRequest contains the parameters for declining an offer.
type DeclineRequest struct {
	PingID  string
	RiderID string
}

// Decline marks the rider's offer declined. It has no effect on the order or trip.
func (r *PingResponder) Decline(ctx context.Context, req DeclineRequest) (*domain.OrderPing, error) {
	ping, err := r.loadPending(ctx, req.PingID, req.RiderID)
	if err != nil {
		return nil, err
	}

	log := r.log.WithFields(logrus.Fields{"ping_id": ping.ID, "order_id": ping.OrderID})

	now := r.now()
	if ping.IsExpired(now) {
		r.expire(ctx, log, ping, now)
		return nil, ErrPingExpired
	}

	ok, err := r.pings.Transition(ctx, ping.ID, domain.PingStatusPending, domain.PingStatusDeclined, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPingAlreadyResponded
	}

	observability.PingResponses.WithLabelValues("declined").Inc()

	ping.Status = domain.PingStatusDeclined
	ping.RespondedAt = now
	return ping, nil
}

// loadPending loads a ping and checks that the rider owns it and it is still pending.
// On ErrPingAlreadyResponded the ping is returned too.
func (r *PingResponder) loadPending(ctx context.Context, pingID, riderID string) (*domain.OrderPing, error) {
	if pingID == "" {
		return nil, ErrInvalidPingID
	}
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}

	ping, err := r.pings.GetByID(ctx, pingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPingNotFound
		}
		return nil, err
	}

	if ping.RiderID != riderID {
		observability.PingResponses.WithLabelValues("unauthorized").Inc()
		return nil, ErrNotPingOwner
	}

	if ping.Status.IsTerminal() {
		observability.PingResponses.WithLabelValues("already_responded").Inc()
		return ping, ErrPingAlreadyResponded
	}

	return ping, nil
}

// expire flips an overdue ping to expired. Losing this update to a concurrent writer is fine.
func (r *PingResponder) expire(ctx context.Context, log logrus.FieldLogger, ping *domain.OrderPing, now time.Time) {
	observability.PingResponses.WithLabelValues("expired").Inc()
	if _, err := r.pings.Transition(ctx, ping.ID, domain.PingStatusPending, domain.PingStatusExpired, now); err != nil {
		log.WithError(err).Warn("failed to mark ping expired")
	}
}
