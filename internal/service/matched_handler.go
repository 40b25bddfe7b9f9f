package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/observability"
	"farmdispatch/internal/repository"
)

// ParticipantRoleRider is the conversation role given to a matched rider.
const ParticipantRoleRider = "rider"

// RiderMatchedHandler is the notification worker's handler for rider-matched tasks.
type RiderMatchedHandler struct {
	conversations repository.ConversationRepository
	orders        repository.OrderRepository
	notifications *NotificationService
	log           logrus.FieldLogger
}

// NewRiderMatchedHandler creates a new RiderMatchedHandler.
func NewRiderMatchedHandler(
	conversations repository.ConversationRepository,
	orders repository.OrderRepository,
	notifications *NotificationService,
	log logrus.FieldLogger,
) *RiderMatchedHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RiderMatchedHandler{
		conversations: conversations,
		orders:        orders,
		notifications: notifications,
		log:           log,
	}
}

// Handle adds the rider to the order conversation and tells the buyer.
// Only the conversation join is reported as an error; it is safe to retry.
func (h *RiderMatchedHandler) Handle(ctx context.Context, evt domain.RiderMatchedEvent) error {
	log := h.log.WithFields(logrus.Fields{"order_id": evt.OrderID, "rider_id": evt.RiderID})

	if err := h.conversations.AddParticipant(ctx, evt.OrderID, evt.RiderID, ParticipantRoleRider); err != nil {
		observability.NotificationTasks.WithLabelValues("failed").Inc()
		return err
	}

	if h.notifications != nil {
		_ = h.notifications.NotifyRiderJoinedConversation(ctx, evt.OrderID, evt.RiderID)

		order, err := h.orders.GetByID(ctx, evt.OrderID)
		if err != nil {
			log.WithError(err).Warn("failed to load order for buyer notification")
		} else {
			_ = h.notifications.NotifyRiderMatched(ctx, order, evt.RiderID)
		}
	}

	observability.NotificationTasks.WithLabelValues("handled").Inc()
	return nil
}
