package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"

	"farmdispatch/internal/domain"
)

// OSRMClient routes through an OSRM HTTP server.
type OSRMClient struct {
	endpoint string
	client   *http.Client
}

// NewOSRMClient creates an OSRMClient for the given base URL.
func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OSRMClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry string  `json:"geometry"`
	} `json:"routes"`
}

// Route queries /route/v1/driving with every waypoint and a full polyline overview.
func (c *OSRMClient) Route(ctx context.Context, waypoints []domain.Point) (*domain.Route, error) {
	if len(waypoints) < 2 {
		return nil, ErrTooFewWaypoints
	}

	coords := make([]string, 0, len(waypoints))
	for _, wp := range waypoints {
		// OSRM takes lon,lat.
		coords = append(coords, fmt.Sprintf("%.6f,%.6f", wp.Lng, wp.Lat))
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=polyline", c.endpoint, strings.Join(coords, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build osrm request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "osrm request")
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decode osrm response (status %d)", resp.StatusCode)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, errors.Wrapf(ErrNoRoute, "osrm code %s: %s", out.Code, out.Message)
	}

	best := out.Routes[0]
	path, err := decodePath(best.Geometry)
	if err != nil {
		return nil, errors.Wrap(err, "decode osrm geometry")
	}

	return &domain.Route{
		Path:      path,
		DistanceM: best.Distance,
		DurationS: best.Duration,
	}, nil
}

var _ Client = (*OSRMClient)(nil)
