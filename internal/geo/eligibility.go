// Package geo answers which rider trips can absorb an order within a detour bound.
package geo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"farmdispatch/internal/domain"
)

// Query is the input to an eligibility lookup.
type Query struct {
	OrderID    string
	MaxDetourM float64
	MaxResults int
}

// EligibilityClient finds trips whose route passes near an order's pickups and delivery point.
// Detour is estimated as an out-and-back leg from the route to every distinct stop.
type EligibilityClient struct {
	db *sqlx.DB
}

// NewEligibilityClient creates a PostGIS-backed EligibilityClient.
func NewEligibilityClient(db *sqlx.DB) *EligibilityClient {
	return &EligibilityClient{db: db}
}

type candidateRow struct {
	RiderID string  `db:"rider_id"`
	TripID  string  `db:"trip_id"`
	DetourM float64 `db:"detour_m"`
}

// FindEligibleRiders returns candidates ranked by detour, shortest first.
func (c *EligibilityClient) FindEligibleRiders(ctx context.Context, q Query) ([]domain.EligibleRider, error) {
	query := `
		WITH o AS (
			SELECT ST_SetSRID(ST_MakePoint(delivery_lng, delivery_lat), 4326)::geography AS delivery
			FROM orders WHERE id = $1
		), pickups AS (
			SELECT DISTINCT ON (producer_id)
			       ST_SetSRID(ST_MakePoint(pickup_lng, pickup_lat), 4326)::geography AS geom
			FROM order_items WHERE order_id = $1
		), load AS (
			SELECT COALESCE(SUM(weight_kg), 0) AS total_kg FROM order_items WHERE order_id = $1
		), candidates AS (
			SELECT t.rider_id, t.id AS trip_id,
			       2 * (ST_Distance(t.route_geom, o.delivery)
			            + COALESCE((SELECT SUM(ST_Distance(t.route_geom, p.geom)) FROM pickups p), 0)) AS detour_m
			FROM rider_trips t, o, load
			WHERE t.status = ANY($2)
			  AND t.route_geom IS NOT NULL
			  AND t.remaining_capacity_kg >= load.total_kg
			  AND ST_DWithin(t.route_geom, o.delivery, $3)
		)
		SELECT rider_id, trip_id, detour_m
		FROM candidates
		WHERE detour_m <= $3
		ORDER BY detour_m
		LIMIT $4
	`

	statuses := pq.Array([]string{
		string(domain.TripStatusScheduled),
		string(domain.TripStatusInTransit),
	})

	var rows []candidateRow
	if err := c.db.SelectContext(ctx, &rows, query, q.OrderID, statuses, q.MaxDetourM, q.MaxResults); err != nil {
		return nil, errors.Wrapf(err, "eligibility lookup for order %s", q.OrderID)
	}

	riders := make([]domain.EligibleRider, 0, len(rows))
	for _, row := range rows {
		riders = append(riders, domain.EligibleRider{
			RiderID:         row.RiderID,
			TripID:          row.TripID,
			DetourDistanceM: row.DetourM,
		})
	}

	return riders, nil
}
