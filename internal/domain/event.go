package domain

import "time"

// EventType names an asynchronous task published after a commit.
type EventType string

const (
	EventRiderMatched EventType = "rider.matched"
)

// RiderMatchedEvent is published once an order has been matched to a rider.
// The notification worker joins the rider to the order conversation.
type RiderMatchedEvent struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"order_id"`
	RiderID   string    `json:"rider_id"`
	TripID    string    `json:"trip_id"`
	MatchedAt time.Time `json:"matched_at"`
}
