// Package routing turns an ordered list of waypoints into a drivable path.
package routing

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"googlemaps.github.io/maps"

	"farmdispatch/internal/config"
	"farmdispatch/internal/domain"
)

var (
	// ErrTooFewWaypoints is returned when fewer than two waypoints are given.
	ErrTooFewWaypoints = errors.New("routing needs at least two waypoints")

	// ErrNoRoute is returned when the provider answers without a usable route.
	ErrNoRoute = errors.New("no route found")
)

// Provider names accepted in configuration.
const (
	ProviderGoogle = "google"
	ProviderOSRM   = "osrm"
)

// New builds the routing client selected in configuration.
func New(cfg config.RoutingConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderGoogle:
		client, err := NewGoogleClient(cfg.GoogleAPIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOSRM:
		return NewOSRMClient(cfg.OSRMEndpoint, cfg.Timeout), nil
	default:
		return nil, errors.Errorf("unknown routing provider %q", cfg.Provider)
	}
}

// Client computes a route through waypoints in the given order.
type Client interface {
	Route(ctx context.Context, waypoints []domain.Point) (*domain.Route, error)
}

func decodePath(polyline string) ([]domain.Point, error) {
	latLngs, err := maps.DecodePolyline(polyline)
	if err != nil {
		return nil, err
	}
	path := make([]domain.Point, 0, len(latLngs))
	for _, ll := range latLngs {
		path = append(path, domain.Point{Lat: ll.Lat, Lng: ll.Lng})
	}
	return path, nil
}

const defaultTimeout = 5 * time.Second
