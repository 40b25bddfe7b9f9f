package routing

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"googlemaps.github.io/maps"

	"farmdispatch/internal/domain"
)

// GoogleClient routes through the Google Directions API.
type GoogleClient struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleClient creates a GoogleClient with the given API key.
func NewGoogleClient(apiKey string, timeout time.Duration, opts ...maps.ClientOption) (*GoogleClient, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create maps client")
	}
	return &GoogleClient{client: client, timeout: timeout}, nil
}

// Route requests driving directions from the first to the last waypoint through the others.
func (c *GoogleClient) Route(ctx context.Context, waypoints []domain.Point) (*domain.Route, error) {
	if len(waypoints) < 2 {
		return nil, ErrTooFewWaypoints
	}

	txn := newrelic.FromContext(ctx)
	defer txn.StartSegment("routing/google/directions").End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &maps.DirectionsRequest{
		Origin:      waypoints[0].String(),
		Destination: waypoints[len(waypoints)-1].String(),
		Mode:        maps.TravelModeDriving,
	}
	for _, wp := range waypoints[1 : len(waypoints)-1] {
		req.Waypoints = append(req.Waypoints, wp.String())
	}

	routes, _, err := c.client.Directions(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "maps directions")
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	best := routes[0]
	route := &domain.Route{}
	for _, leg := range best.Legs {
		route.DistanceM += float64(leg.Distance.Meters)
		route.DurationS += leg.Duration.Seconds()
	}

	route.Path, err = decodePath(best.OverviewPolyline.Points)
	if err != nil {
		return nil, errors.Wrap(err, "decode overview polyline")
	}

	return route, nil
}

var _ Client = (*GoogleClient)(nil)
