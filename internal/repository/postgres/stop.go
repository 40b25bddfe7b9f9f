package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// StopRepository is a PostgreSQL implementation of repository.StopRepository.
type StopRepository struct {
	q Querier
}

// NewStopRepository creates a new PostgreSQL stop repository.
func NewStopRepository(db *sqlx.DB) *StopRepository {
	return &StopRepository{q: db}
}

// NewStopRepositoryWithTx creates a stop repository using a transaction.
func NewStopRepositoryWithTx(tx *sqlx.Tx) *StopRepository {
	return &StopRepository{q: tx}
}

type stopRow struct {
	ID          string         `db:"id"`
	TripID      string         `db:"trip_id"`
	OrderID     sql.NullString `db:"order_id"`
	Type        string         `db:"stop_type"`
	Lat         float64        `db:"lat"`
	Lng         float64        `db:"lng"`
	Address     string         `db:"address"`
	Sequence    int            `db:"sequence"`
	Completed   bool           `db:"completed"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

// ListByTrip retrieves the stops of a trip ordered by sequence.
func (r *StopRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.TripStop, error) {
	query := `
		SELECT id, trip_id, order_id, stop_type, lat, lng, address, sequence, completed, completed_at, created_at
		FROM trip_stops
		WHERE trip_id = $1
		ORDER BY sequence
	`

	var rows []stopRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, tripID); err != nil {
		return nil, errors.Wrapf(err, "list stops of trip %s", tripID)
	}

	stops := make([]*domain.TripStop, 0, len(rows))
	for _, row := range rows {
		stop := &domain.TripStop{
			ID:        row.ID,
			TripID:    row.TripID,
			OrderID:   row.OrderID.String,
			Type:      domain.StopType(row.Type),
			Location:  domain.Point{Lat: row.Lat, Lng: row.Lng},
			Address:   row.Address,
			Sequence:  row.Sequence,
			Completed: row.Completed,
			CreatedAt: row.CreatedAt,
		}
		if row.CompletedAt.Valid {
			stop.CompletedAt = row.CompletedAt.Time
		}
		stops = append(stops, stop)
	}

	return stops, nil
}

// MaxSequence returns the highest sequence index used on the trip, or 0 when it has no stops.
func (r *StopRepository) MaxSequence(ctx context.Context, tripID string) (int, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM trip_stops WHERE trip_id = $1`

	var last int
	if err := sqlx.GetContext(ctx, r.q, &last, query, tripID); err != nil {
		return 0, errors.Wrapf(err, "last stop sequence of trip %s", tripID)
	}

	return last, nil
}

// CreateBatch inserts stops in one statement.
func (r *StopRepository) CreateBatch(ctx context.Context, stops []*domain.TripStop) error {
	if len(stops) == 0 {
		return nil
	}

	query := `
		INSERT INTO trip_stops (id, trip_id, order_id, stop_type, lat, lng, address, sequence, completed, created_at)
		VALUES (:id, :trip_id, :order_id, :stop_type, :lat, :lng, :address, :sequence, :completed, :created_at)
	`

	rows := make([]stopRow, 0, len(stops))
	for _, stop := range stops {
		rows = append(rows, stopRow{
			ID:        stop.ID,
			TripID:    stop.TripID,
			OrderID:   sql.NullString{String: stop.OrderID, Valid: stop.OrderID != ""},
			Type:      string(stop.Type),
			Lat:       stop.Location.Lat,
			Lng:       stop.Location.Lng,
			Address:   stop.Address,
			Sequence:  stop.Sequence,
			Completed: stop.Completed,
			CreatedAt: stop.CreatedAt,
		})
	}

	if _, err := sqlx.NamedExecContext(ctx, r.q, query, rows); err != nil {
		return errors.Wrapf(err, "insert %d stops", len(stops))
	}

	return nil
}

var _ repository.StopRepository = (*StopRepository)(nil)
