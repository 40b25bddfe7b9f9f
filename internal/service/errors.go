package service

import (
	"errors"

	"farmdispatch/internal/repository"
)

var (
	// ErrInvalidPingID is returned when ping ID is empty.
	ErrInvalidPingID = errors.New("invalid ping id")

	// ErrInvalidRiderID is returned when the acting rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidOrderID is returned when order ID is empty.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidLocation is returned when coordinates are out of range.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidWeight is returned when a capacity deduction is negative.
	ErrInvalidWeight = errors.New("invalid weight")

	// ErrPingNotFound is returned when the referenced ping does not exist.
	ErrPingNotFound = errors.New("ping not found")

	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrTripNotFound is returned when the referenced trip does not exist.
	ErrTripNotFound = errors.New("trip not found")

	// ErrNotPingOwner is returned when a rider responds to someone else's ping.
	ErrNotPingOwner = errors.New("ping belongs to another rider")

	// ErrNotTripOwner is returned when a rider acts on someone else's trip.
	ErrNotTripOwner = errors.New("trip belongs to another rider")

	// ErrNotOrderBuyer is returned when someone other than the buyer reads an order's offers.
	ErrNotOrderBuyer = errors.New("order belongs to another buyer")

	// ErrPingAlreadyResponded is returned when the ping is no longer pending.
	ErrPingAlreadyResponded = errors.New("ping already responded")

	// ErrOrderAlreadyMatched is returned when the order was matched to another rider first.
	ErrOrderAlreadyMatched = errors.New("this order has already been matched to another rider")

	// ErrTripNotAccepting is returned when the trip was completed or cancelled.
	ErrTripNotAccepting = errors.New("trip no longer takes orders")

	// ErrPingExpired is returned when the offer deadline has passed.
	ErrPingExpired = errors.New("offer expired")

	// ErrEligibilityUnavailable is returned when the geo eligibility lookup fails.
	ErrEligibilityUnavailable = errors.New("eligibility lookup unavailable")
)

// Reason is a stable, client-facing rejection code.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonNotFound         Reason = "not_found"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonAlreadyResponded Reason = "already_responded"
	ReasonAlreadyMatched   Reason = "already_matched"
	ReasonExpired          Reason = "offer_expired"
	ReasonTripUnavailable  Reason = "trip_unavailable"
	ReasonUpstream         Reason = "upstream_unavailable"
	ReasonInternal         Reason = "internal"
)

// ReasonFor maps an error to its rejection code.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidPingID),
		errors.Is(err, ErrInvalidRiderID),
		errors.Is(err, ErrInvalidOrderID),
		errors.Is(err, ErrInvalidTripID),
		errors.Is(err, ErrInvalidLocation),
		errors.Is(err, ErrInvalidWeight):
		return ReasonInvalidRequest
	case errors.Is(err, ErrPingNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrTripNotFound),
		errors.Is(err, repository.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrNotPingOwner),
		errors.Is(err, ErrNotTripOwner),
		errors.Is(err, ErrNotOrderBuyer):
		return ReasonUnauthorized
	case errors.Is(err, ErrPingAlreadyResponded):
		return ReasonAlreadyResponded
	case errors.Is(err, ErrOrderAlreadyMatched):
		return ReasonAlreadyMatched
	case errors.Is(err, ErrPingExpired):
		return ReasonExpired
	case errors.Is(err, ErrTripNotAccepting):
		return ReasonTripUnavailable
	case errors.Is(err, ErrEligibilityUnavailable):
		return ReasonUpstream
	default:
		return ReasonInternal
	}
}
