package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// PingRepository is a PostgreSQL implementation of repository.PingRepository.
type PingRepository struct {
	q Querier
}

// NewPingRepository creates a new PostgreSQL ping repository.
func NewPingRepository(db *sqlx.DB) *PingRepository {
	return &PingRepository{q: db}
}

// NewPingRepositoryWithTx creates a ping repository using a transaction.
func NewPingRepositoryWithTx(tx *sqlx.Tx) *PingRepository {
	return &PingRepository{q: tx}
}

const pingColumns = `
	id, order_id, rider_id, trip_id, pickup_locations, delivery_location, total_weight_kg,
	estimated_earnings, detour_distance_m, status, expires_at, responded_at, created_at
`

// pingRow carries the snapshot columns as JSON text so lib/pq sends them as jsonb, not bytea.
type pingRow struct {
	ID                string       `db:"id"`
	OrderID           string       `db:"order_id"`
	RiderID           string       `db:"rider_id"`
	TripID            string       `db:"trip_id"`
	PickupLocations   string       `db:"pickup_locations"`
	DeliveryLocation  string       `db:"delivery_location"`
	TotalWeightKg     float64      `db:"total_weight_kg"`
	EstimatedEarnings float64      `db:"estimated_earnings"`
	DetourDistanceM   float64      `db:"detour_distance_m"`
	Status            string       `db:"status"`
	ExpiresAt         time.Time    `db:"expires_at"`
	RespondedAt       sql.NullTime `db:"responded_at"`
	CreatedAt         time.Time    `db:"created_at"`
}

func newPingRow(p *domain.OrderPing) (pingRow, error) {
	pickups, err := json.Marshal(p.Pickups)
	if err != nil {
		return pingRow{}, errors.Wrap(err, "encode pickup locations")
	}
	delivery, err := json.Marshal(p.Delivery)
	if err != nil {
		return pingRow{}, errors.Wrap(err, "encode delivery location")
	}

	row := pingRow{
		ID:                p.ID,
		OrderID:           p.OrderID,
		RiderID:           p.RiderID,
		TripID:            p.TripID,
		PickupLocations:   string(pickups),
		DeliveryLocation:  string(delivery),
		TotalWeightKg:     p.TotalWeightKg,
		EstimatedEarnings: p.EstimatedEarnings,
		DetourDistanceM:   p.DetourDistanceM,
		Status:            string(p.Status),
		ExpiresAt:         p.ExpiresAt,
		CreatedAt:         p.CreatedAt,
	}
	if !p.RespondedAt.IsZero() {
		row.RespondedAt = sql.NullTime{Time: p.RespondedAt, Valid: true}
	}
	return row, nil
}

func (r pingRow) toDomain() (*domain.OrderPing, error) {
	ping := &domain.OrderPing{
		ID:                r.ID,
		OrderID:           r.OrderID,
		RiderID:           r.RiderID,
		TripID:            r.TripID,
		TotalWeightKg:     r.TotalWeightKg,
		EstimatedEarnings: r.EstimatedEarnings,
		DetourDistanceM:   r.DetourDistanceM,
		Status:            domain.PingStatus(r.Status),
		ExpiresAt:         r.ExpiresAt,
		CreatedAt:         r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.PickupLocations), &ping.Pickups); err != nil {
		return nil, errors.Wrapf(err, "decode pickups of ping %s", r.ID)
	}
	if err := json.Unmarshal([]byte(r.DeliveryLocation), &ping.Delivery); err != nil {
		return nil, errors.Wrapf(err, "decode delivery of ping %s", r.ID)
	}
	if r.RespondedAt.Valid {
		ping.RespondedAt = r.RespondedAt.Time
	}
	return ping, nil
}

func toDomainPings(rows []pingRow) ([]*domain.OrderPing, error) {
	pings := make([]*domain.OrderPing, 0, len(rows))
	for _, row := range rows {
		ping, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		pings = append(pings, ping)
	}
	return pings, nil
}

// CreateBatch inserts pings in one statement.
func (r *PingRepository) CreateBatch(ctx context.Context, pings []*domain.OrderPing) error {
	if len(pings) == 0 {
		return nil
	}

	query := `
		INSERT INTO order_pings (` + pingColumns + `)
		VALUES (:id, :order_id, :rider_id, :trip_id, :pickup_locations, :delivery_location, :total_weight_kg,
		        :estimated_earnings, :detour_distance_m, :status, :expires_at, :responded_at, :created_at)
	`

	rows := make([]pingRow, 0, len(pings))
	for _, p := range pings {
		row, err := newPingRow(p)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if _, err := sqlx.NamedExecContext(ctx, r.q, query, rows); err != nil {
		return errors.Wrapf(err, "insert %d pings", len(pings))
	}

	return nil
}

// GetByID retrieves a ping by ID.
func (r *PingRepository) GetByID(ctx context.Context, id string) (*domain.OrderPing, error) {
	query := `SELECT ` + pingColumns + ` FROM order_pings WHERE id = $1`

	var row pingRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get ping %s", id)
	}

	return row.toDomain()
}

// Transition moves a ping from one status to another, stamping responded_at.
func (r *PingRepository) Transition(ctx context.Context, id string, from, to domain.PingStatus, at time.Time) (bool, error) {
	if !domain.CanTransitionPing(from, to) {
		return false, nil
	}

	query := `
		UPDATE order_pings
		SET status = $1, responded_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.q.ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		return false, errors.Wrapf(err, "transition ping %s to %s", id, to)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// ExpireSiblings expires every other pending ping of the order.
func (r *PingRepository) ExpireSiblings(ctx context.Context, orderID, exceptPingID string, at time.Time) (int64, error) {
	query := `
		UPDATE order_pings
		SET status = $1, responded_at = $2
		WHERE order_id = $3 AND id <> $4 AND status = $5
	`

	return r.exec(ctx, query, domain.PingStatusExpired, at, orderID, exceptPingID, domain.PingStatusPending)
}

// ExpireOverdue expires every pending ping whose deadline has passed.
func (r *PingRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE order_pings
		SET status = $1, responded_at = $2
		WHERE status = $3 AND expires_at <= $2
	`

	return r.exec(ctx, query, domain.PingStatusExpired, now, domain.PingStatusPending)
}

// ExpireOverdueForRider expires the rider's pending pings whose deadline has passed.
func (r *PingRepository) ExpireOverdueForRider(ctx context.Context, riderID string, now time.Time) (int64, error) {
	query := `
		UPDATE order_pings
		SET status = $1, responded_at = $2
		WHERE rider_id = $3 AND status = $4 AND expires_at <= $2
	`

	return r.exec(ctx, query, domain.PingStatusExpired, now, riderID, domain.PingStatusPending)
}

func (r *PingRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "expire pings")
	}
	return result.RowsAffected()
}

// ListPendingByRider retrieves the rider's pending pings, soonest deadline first.
func (r *PingRepository) ListPendingByRider(ctx context.Context, riderID string) ([]*domain.OrderPing, error) {
	query := `SELECT ` + pingColumns + ` FROM order_pings WHERE rider_id = $1 AND status = $2 ORDER BY expires_at`

	var rows []pingRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, riderID, domain.PingStatusPending); err != nil {
		return nil, errors.Wrapf(err, "list pending pings of rider %s", riderID)
	}

	return toDomainPings(rows)
}

// ListByOrder retrieves every ping created for an order.
func (r *PingRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.OrderPing, error) {
	query := `SELECT ` + pingColumns + ` FROM order_pings WHERE order_id = $1 ORDER BY created_at, detour_distance_m`

	var rows []pingRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, orderID); err != nil {
		return nil, errors.Wrapf(err, "list pings of order %s", orderID)
	}

	return toDomainPings(rows)
}

var _ repository.PingRepository = (*PingRepository)(nil)
