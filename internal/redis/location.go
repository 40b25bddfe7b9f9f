package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"farmdispatch/internal/domain"
)

const tripPositionKey = "trips:positions"

// LocationStore keeps the latest rider position per trip in a Redis geo set.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// SetTripPosition stores the trip's current position using GEOADD.
func (s *LocationStore) SetTripPosition(ctx context.Context, tripID string, p domain.Point) error {
	return s.client.GeoAdd(ctx, tripPositionKey, &redis.GeoLocation{
		Name:      tripID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// GetTripPosition returns the trip's last stored position.
func (s *LocationStore) GetTripPosition(ctx context.Context, tripID string) (domain.Point, bool, error) {
	positions, err := s.client.GeoPos(ctx, tripPositionKey, tripID).Result()
	if err != nil {
		return domain.Point{}, false, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return domain.Point{}, false, nil
	}
	return domain.Point{Lat: positions[0].Latitude, Lng: positions[0].Longitude}, true, nil
}
