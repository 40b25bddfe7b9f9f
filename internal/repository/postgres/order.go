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

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	q Querier
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

// NewOrderRepositoryWithTx creates an order repository using a transaction.
func NewOrderRepositoryWithTx(tx *sqlx.Tx) *OrderRepository {
	return &OrderRepository{q: tx}
}

type orderRow struct {
	ID              string         `db:"id"`
	BuyerID         string         `db:"buyer_id"`
	Status          string         `db:"status"`
	RiderID         sql.NullString `db:"rider_id"`
	TripID          sql.NullString `db:"trip_id"`
	DeliveryLat     float64        `db:"delivery_lat"`
	DeliveryLng     float64        `db:"delivery_lng"`
	DeliveryAddress string         `db:"delivery_address"`
	DeliveryFee     float64        `db:"delivery_fee"`
	CreatedAt       time.Time      `db:"created_at"`
	MatchedAt       sql.NullTime   `db:"matched_at"`
}

func (r orderRow) toDomain() *domain.Order {
	order := &domain.Order{
		ID:              r.ID,
		BuyerID:         r.BuyerID,
		Status:          domain.OrderStatus(r.Status),
		RiderID:         r.RiderID.String,
		TripID:          r.TripID.String,
		DeliveryPoint:   domain.Point{Lat: r.DeliveryLat, Lng: r.DeliveryLng},
		DeliveryAddress: r.DeliveryAddress,
		DeliveryFee:     r.DeliveryFee,
		CreatedAt:       r.CreatedAt,
	}
	if r.MatchedAt.Valid {
		order.MatchedAt = r.MatchedAt.Time
	}
	return order
}

type orderItemRow struct {
	ID           string  `db:"id"`
	OrderID      string  `db:"order_id"`
	ProducerID   string  `db:"producer_id"`
	ProducerName string  `db:"producer_name"`
	PickupLat    float64 `db:"pickup_lat"`
	PickupLng    float64 `db:"pickup_lng"`
	WeightKg     float64 `db:"weight_kg"`
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, buyer_id, status, rider_id, trip_id, delivery_lat, delivery_lng,
		       delivery_address, delivery_fee, created_at, matched_at
		FROM orders WHERE id = $1
	`

	var row orderRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	return row.toDomain(), nil
}

// ListItems retrieves the line items of an order, oldest first.
func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]*domain.OrderItem, error) {
	query := `
		SELECT i.id, i.order_id, i.producer_id, i.producer_name, i.pickup_lat, i.pickup_lng, i.weight_kg
		FROM order_items i
		WHERE i.order_id = $1
		ORDER BY i.created_at, i.id
	`

	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, orderID); err != nil {
		return nil, errors.Wrapf(err, "list items of order %s", orderID)
	}

	items := make([]*domain.OrderItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, &domain.OrderItem{
			ID:           row.ID,
			OrderID:      row.OrderID,
			ProducerID:   row.ProducerID,
			ProducerName: row.ProducerName,
			Pickup:       domain.Point{Lat: row.PickupLat, Lng: row.PickupLng},
			WeightKg:     row.WeightKg,
		})
	}

	return items, nil
}

// MatchIfPending assigns the rider and trip to the order only if it is still pending.
func (r *OrderRepository) MatchIfPending(ctx context.Context, orderID, riderID, tripID string, matchedAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, rider_id = $2, trip_id = $3, matched_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		domain.OrderStatusMatched,
		riderID,
		tripID,
		matchedAt,
		orderID,
		domain.OrderStatusPending,
	)
	if err != nil {
		return false, errors.Wrapf(err, "match order %s", orderID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

var _ repository.OrderRepository = (*OrderRepository)(nil)
