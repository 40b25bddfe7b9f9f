package domain

import "time"

// PingStatus represents the status of an offer sent to a rider.
type PingStatus string

const (
	PingStatusPending  PingStatus = "pending"
	PingStatusAccepted PingStatus = "accepted"
	PingStatusDeclined PingStatus = "declined"
	PingStatusExpired  PingStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s PingStatus) IsTerminal() bool {
	return s != PingStatusPending
}

// CanTransitionPing reports whether a ping may move from one status to another.
// Only pending pings move, and never back to pending.
func CanTransitionPing(from, to PingStatus) bool {
	if from != PingStatusPending {
		return false
	}
	switch to {
	case PingStatusAccepted, PingStatusDeclined, PingStatusExpired:
		return true
	default:
		return false
	}
}

// OrderPing is a time-boxed offer of one order to one rider for one trip.
// Pickups, Delivery and TotalWeightKg are copied from the order when the ping is created.
type OrderPing struct {
	ID                string
	OrderID           string
	RiderID           string
	TripID            string
	Pickups           []PickupLocation
	Delivery          DeliveryLocation
	TotalWeightKg     float64
	EstimatedEarnings float64
	DetourDistanceM   float64
	Status            PingStatus
	ExpiresAt         time.Time
	RespondedAt       time.Time
	CreatedAt         time.Time
}

// IsExpired reports whether the offer deadline has passed at now.
func (p *OrderPing) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// EligibleRider is a candidate returned by the eligibility lookup.
type EligibleRider struct {
	RiderID         string
	TripID          string
	DetourDistanceM float64
}
