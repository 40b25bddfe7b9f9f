package service

import (
	"context"
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/observability"
	"farmdispatch/internal/repository"
)

// CapacityLedger keeps a trip's remaining carrying capacity between zero and its declared capacity.
type CapacityLedger struct {
	trips repository.TripRepository
	log   logrus.FieldLogger
}

// NewCapacityLedger creates a new CapacityLedger.
func NewCapacityLedger(trips repository.TripRepository, log logrus.FieldLogger) *CapacityLedger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CapacityLedger{trips: trips, log: log}
}

// Deduct removes weightKg from the trip's remaining capacity. An over-commitment is clamped
// to zero and reported as a warning rather than rejected.
func (l *CapacityLedger) Deduct(ctx context.Context, tripID string, weightKg float64) (*domain.CapacityChange, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if weightKg < 0 || math.IsNaN(weightKg) || math.IsInf(weightKg, 0) {
		return nil, ErrInvalidWeight
	}

	change, err := l.trips.DeductCapacity(ctx, tripID, weightKg)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}

	if change.Clamped() {
		observability.CapacityClamped.Inc()
		l.log.WithFields(logrus.Fields{
			"trip_id":      tripID,
			"previous_kg":  change.PreviousKg,
			"requested_kg": weightKg,
		}).Warn("trip capacity over-committed, remaining capacity clamped to zero")
	}

	return change, nil
}
