package repository

import "context"

// ConversationRepository manages participants of an order's buyer/producer conversation.
type ConversationRepository interface {
	// AddParticipant adds the user to the order conversation. Adding twice is a no-op.
	AddParticipant(ctx context.Context, orderID, userID, role string) error
}
