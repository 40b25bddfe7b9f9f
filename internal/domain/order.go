package domain

import "time"

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusPickedUp  OrderStatus = "picked_up"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusDisputed  OrderStatus = "disputed"
)

// Order is a buyer's request for goods from one or more producers.
// RiderID and TripID are empty while the order is pending.
type Order struct {
	ID              string
	BuyerID         string
	Status          OrderStatus
	RiderID         string
	TripID          string
	DeliveryPoint   Point
	DeliveryAddress string
	DeliveryFee     float64
	CreatedAt       time.Time
	MatchedAt       time.Time
}

// OrderItem is a single order line, picked up at its producer's location.
type OrderItem struct {
	ID           string
	OrderID      string
	ProducerID   string
	ProducerName string
	Pickup       Point
	WeightKg     float64 // line total, quantity already applied
}

// TotalWeightKg sums the line item weights.
func TotalWeightKg(items []*OrderItem) float64 {
	var total float64
	for _, item := range items {
		total += item.WeightKg
	}
	return total
}

// PickupsByProducer returns one pickup per distinct producer, in first-seen order.
func PickupsByProducer(items []*OrderItem) []PickupLocation {
	seen := make(map[string]bool, len(items))
	pickups := make([]PickupLocation, 0, len(items))
	for _, item := range items {
		key := item.ProducerID
		if key == "" {
			key = item.Pickup.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		pickups = append(pickups, PickupLocation{
			Point:      item.Pickup,
			Label:      item.ProducerName,
			ProducerID: item.ProducerID,
		})
	}
	return pickups
}
