package domain

import "time"

// TripStatus represents the current status of a rider trip.
type TripStatus string

const (
	TripStatusScheduled TripStatus = "scheduled"
	TripStatusInTransit TripStatus = "in_transit"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// Accepting reports whether a trip in this status can still take orders.
func (s TripStatus) Accepting() bool {
	return s == TripStatusScheduled || s == TripStatusInTransit
}

// RiderTrip is a courier's announced journey with spare carrying capacity.
type RiderTrip struct {
	ID                  string
	RiderID             string
	Origin              Point
	Destination         Point
	DepartureAt         time.Time
	AvailableCapacityKg float64
	RemainingCapacityKg float64 // 0 <= remaining <= available
	Route               []Point
	TotalDistanceM      float64
	TotalDurationS      float64
	StopCount           int
	Status              TripStatus
	RouteUpdatedAt      time.Time
}

// CapacityChange is the outcome of a capacity deduction.
type CapacityChange struct {
	TripID      string
	PreviousKg  float64
	RemainingKg float64
	RequestedKg float64
}

// Clamped reports whether the deduction hit the zero floor.
func (c CapacityChange) Clamped() bool {
	return c.PreviousKg < c.RequestedKg
}

// StopType distinguishes pickups from deliveries.
type StopType string

const (
	StopTypePickup   StopType = "pickup"
	StopTypeDelivery StopType = "delivery"
)

// TripStop is one ordered stop on a trip's itinerary.
type TripStop struct {
	ID          string
	TripID      string
	OrderID     string
	Type        StopType
	Location    Point
	Address     string
	Sequence    int
	Completed   bool
	CompletedAt time.Time
	CreatedAt   time.Time
}

// RouteSummary is the persisted result of a route recalculation.
type RouteSummary struct {
	TripID    string    `json:"trip_id"`
	Path      []Point   `json:"path"`
	DistanceM float64   `json:"distance_m"`
	DurationS float64   `json:"duration_s"`
	StopCount int       `json:"stop_count"`
	UpdatedAt time.Time `json:"updated_at"`
}
