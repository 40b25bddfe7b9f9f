package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"farmdispatch/internal/repository"
)

// ConversationRepository is a PostgreSQL implementation of repository.ConversationRepository.
type ConversationRepository struct {
	q Querier
}

// NewConversationRepository creates a new PostgreSQL conversation repository.
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{q: db}
}

// AddParticipant adds the user to the order conversation. Adding twice is a no-op.
func (r *ConversationRepository) AddParticipant(ctx context.Context, orderID, userID, role string) error {
	query := `
		INSERT INTO order_conversation_participants (order_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (order_id, user_id) DO NOTHING
	`

	if _, err := r.q.ExecContext(ctx, query, orderID, userID, role); err != nil {
		return errors.Wrapf(err, "add %s to conversation of order %s", userID, orderID)
	}

	return nil
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)
