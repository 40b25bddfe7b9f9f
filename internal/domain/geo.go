package domain

import "strconv"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the point was never set.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Valid reports whether the coordinates are inside WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// PickupLocation is a pickup point in an offer snapshot, labelled with the producer name.
type PickupLocation struct {
	Point
	Label      string `json:"label"`
	ProducerID string `json:"producer_id,omitempty"`
}

// DeliveryLocation is the buyer's drop-off point.
type DeliveryLocation struct {
	Point
	Address string `json:"address"`
}

// Route is the result of a routing call.
type Route struct {
	Path      []Point
	DistanceM float64
	DurationS float64
}

// String formats the point as "lat,lng", the form routing APIs accept.
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
