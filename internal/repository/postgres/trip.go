package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sqlx.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

const tripColumns = `
	id, rider_id, origin_lat, origin_lng, destination_lat, destination_lng, departure_at,
	available_capacity_kg, remaining_capacity_kg, route_path, total_distance_m, total_duration_s,
	stop_count, status, route_updated_at
`

type tripRow struct {
	ID                  string       `db:"id"`
	RiderID             string       `db:"rider_id"`
	OriginLat           float64      `db:"origin_lat"`
	OriginLng           float64      `db:"origin_lng"`
	DestinationLat      float64      `db:"destination_lat"`
	DestinationLng      float64      `db:"destination_lng"`
	DepartureAt         time.Time    `db:"departure_at"`
	AvailableCapacityKg float64      `db:"available_capacity_kg"`
	RemainingCapacityKg float64      `db:"remaining_capacity_kg"`
	RoutePath           []byte       `db:"route_path"`
	TotalDistanceM      float64      `db:"total_distance_m"`
	TotalDurationS      float64      `db:"total_duration_s"`
	StopCount           int          `db:"stop_count"`
	Status              string       `db:"status"`
	RouteUpdatedAt      sql.NullTime `db:"route_updated_at"`
}

func (r tripRow) toDomain() (*domain.RiderTrip, error) {
	trip := &domain.RiderTrip{
		ID:                  r.ID,
		RiderID:             r.RiderID,
		Origin:              domain.Point{Lat: r.OriginLat, Lng: r.OriginLng},
		Destination:         domain.Point{Lat: r.DestinationLat, Lng: r.DestinationLng},
		DepartureAt:         r.DepartureAt,
		AvailableCapacityKg: r.AvailableCapacityKg,
		RemainingCapacityKg: r.RemainingCapacityKg,
		TotalDistanceM:      r.TotalDistanceM,
		TotalDurationS:      r.TotalDurationS,
		StopCount:           r.StopCount,
		Status:              domain.TripStatus(r.Status),
	}
	if len(r.RoutePath) > 0 {
		if err := json.Unmarshal(r.RoutePath, &trip.Route); err != nil {
			return nil, errors.Wrapf(err, "decode route of trip %s", r.ID)
		}
	}
	if r.RouteUpdatedAt.Valid {
		trip.RouteUpdatedAt = r.RouteUpdatedAt.Time
	}
	return trip, nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.RiderTrip, error) {
	return r.get(ctx, `SELECT `+tripColumns+` FROM rider_trips WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a trip and locks its row until the transaction ends.
func (r *TripRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.RiderTrip, error) {
	return r.get(ctx, `SELECT `+tripColumns+` FROM rider_trips WHERE id = $1 FOR UPDATE`, id)
}

func (r *TripRepository) get(ctx context.Context, query, id string) (*domain.RiderTrip, error) {
	var row tripRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get trip %s", id)
	}
	return row.toDomain()
}

// DeductCapacity subtracts weightKg from the remaining capacity, floored at zero.
// The previous balance is read under a row lock in the same statement.
func (r *TripRepository) DeductCapacity(ctx context.Context, tripID string, weightKg float64) (*domain.CapacityChange, error) {
	query := `
		WITH prev AS (
			SELECT id, remaining_capacity_kg FROM rider_trips WHERE id = $1 FOR UPDATE
		)
		UPDATE rider_trips t
		SET remaining_capacity_kg = GREATEST(prev.remaining_capacity_kg - $2, 0),
		    updated_at = NOW()
		FROM prev
		WHERE t.id = prev.id
		RETURNING prev.remaining_capacity_kg, t.remaining_capacity_kg
	`

	change := &domain.CapacityChange{TripID: tripID, RequestedKg: weightKg}
	err := r.q.QueryRowxContext(ctx, query, tripID, weightKg).Scan(&change.PreviousKg, &change.RemainingKg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrapf(err, "deduct capacity of trip %s", tripID)
	}

	return change, nil
}

// UpdateRoute persists a recalculated route, its geography and the stop count.
func (r *TripRepository) UpdateRoute(ctx context.Context, summary *domain.RouteSummary) error {
	query := `
		UPDATE rider_trips
		SET route_path = $1,
		    route_geom = ST_GeogFromText(NULLIF($2::text, '')),
		    total_distance_m = $3,
		    total_duration_s = $4,
		    stop_count = $5,
		    route_updated_at = $6,
		    updated_at = $6
		WHERE id = $7
	`

	path, err := json.Marshal(summary.Path)
	if err != nil {
		return errors.Wrap(err, "encode route path")
	}

	result, err := r.q.ExecContext(ctx, query,
		string(path),
		lineStringWKT(summary.Path),
		summary.DistanceM,
		summary.DurationS,
		summary.StopCount,
		summary.UpdatedAt,
		summary.TripID,
	)
	if err != nil {
		return errors.Wrapf(err, "update route of trip %s", summary.TripID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// lineStringWKT renders a path as WKT. Paths shorter than two points have no line geometry.
func lineStringWKT(path []domain.Point) string {
	if len(path) < 2 {
		return ""
	}

	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, p := range path {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(p.Lng, 'f', 6, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', 6, 64))
	}
	b.WriteByte(')')
	return b.String()
}

var _ repository.TripRepository = (*TripRepository)(nil)
