package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationOfferCreated NotificationType = "OFFER_CREATED"
	NotificationRiderMatched NotificationType = "RIDER_MATCHED"
	NotificationRiderJoined  NotificationType = "RIDER_JOINED_CONVERSATION"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// NotificationService handles notification delivery.
// Offers go to the rider's live session when one is connected; everything is logged.
type NotificationService struct {
	pusher OfferPusher
	log    logrus.FieldLogger
}

// NewNotificationService creates a new NotificationService. pusher may be nil.
func NewNotificationService(pusher OfferPusher, log logrus.FieldLogger) *NotificationService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NotificationService{pusher: pusher, log: log}
}

// NotifyOfferCreated tells a rider about a new offer.
func (s *NotificationService) NotifyOfferCreated(ctx context.Context, ping *domain.OrderPing) error {
	notification := Notification{
		Type:        NotificationOfferCreated,
		RecipientID: ping.RiderID,
		Title:       "New delivery offer",
		Message: fmt.Sprintf("%.1f kg along your trip, %d pickup(s), earn %.2f. Expires at %s",
			ping.TotalWeightKg, len(ping.Pickups), ping.EstimatedEarnings, ping.ExpiresAt.Format(time.Kitchen)),
		Data: map[string]any{
			"ping_id":  ping.ID,
			"order_id": ping.OrderID,
			"trip_id":  ping.TripID,
		},
		CreatedAt: time.Now(),
	}
	if err := s.send(ctx, notification); err != nil {
		return err
	}

	if s.pusher == nil {
		return nil
	}
	return s.pusher.Push(ping.RiderID, NewOffer(ping))
}

// NotifyRiderMatched tells the buyer that a rider took the order.
func (s *NotificationService) NotifyRiderMatched(ctx context.Context, order *domain.Order, riderID string) error {
	notification := Notification{
		Type:        NotificationRiderMatched,
		RecipientID: order.BuyerID,
		Title:       "Rider found",
		Message:     "A rider travelling your way will deliver your order.",
		Data: map[string]any{
			"order_id": order.ID,
			"rider_id": riderID,
			"trip_id":  order.TripID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// NotifyRiderJoinedConversation tells the rider they can now chat about the order.
func (s *NotificationService) NotifyRiderJoinedConversation(ctx context.Context, orderID, riderID string) error {
	notification := Notification{
		Type:        NotificationRiderJoined,
		RecipientID: riderID,
		Title:       "Order chat",
		Message:     "You were added to the conversation with the buyer and producers.",
		Data: map[string]any{
			"order_id": orderID,
		},
		CreatedAt: time.Now(),
	}
	return s.send(ctx, notification)
}

// send delivers a notification. Only logging is wired; push providers plug in here.
func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	s.log.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
		"recipient":       n.RecipientID,
		"title":           n.Title,
	}).Info(n.Message)
	return nil
}
