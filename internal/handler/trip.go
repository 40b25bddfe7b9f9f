package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/middleware"
	"farmdispatch/internal/service"
)

// TripService is the trip surface used by TripHandler.
type TripService interface {
	UpdatePosition(ctx context.Context, req service.UpdatePositionRequest) error
	GetStops(ctx context.Context, tripID string) ([]*domain.TripStop, error)
	GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error)
	RecalculateRoute(ctx context.Context, tripID, riderID string) (*service.RecalculateResult, error)
}

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// UpdateLocationRequest is the HTTP request body for a position report.
type UpdateLocationRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// StopResponse is a single itinerary entry.
type StopResponse struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id,omitempty"`
	Type        string  `json:"type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Address     string  `json:"address,omitempty"`
	Sequence    int     `json:"sequence"`
	Completed   bool    `json:"completed"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// RecalculateResponse is the HTTP response for a manual route recalculation.
type RecalculateResponse struct {
	TripID         string  `json:"trip_id"`
	RouteUpdated   bool    `json:"route_updated"`
	SkipReason     string  `json:"skip_reason,omitempty"`
	DistanceM      float64 `json:"distance_m"`
	DurationS      float64 `json:"duration_s"`
	DetourRatio    float64 `json:"detour_ratio"`
	DetourExceeded bool    `json:"detour_exceeded"`
	StopCount      int     `json:"stop_count"`
}

// UpdateLocation handles POST /v1/trips/:id/location
func (h *TripHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	err := h.tripService.UpdatePosition(c.Request.Context(), service.UpdatePositionRequest{
		TripID:   c.Param("id"),
		RiderID:  middleware.ActorID(c),
		Position: domain.Point{Lat: *req.Lat, Lng: *req.Lng},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetStops handles GET /v1/trips/:id/stops
func (h *TripHandler) GetStops(c *gin.Context) {
	tripID := c.Param("id")

	stops, err := h.tripService.GetStops(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]StopResponse, 0, len(stops))
	for _, s := range stops {
		item := StopResponse{
			ID:        s.ID,
			OrderID:   s.OrderID,
			Type:      string(s.Type),
			Lat:       s.Location.Lat,
			Lng:       s.Location.Lng,
			Address:   s.Address,
			Sequence:  s.Sequence,
			Completed: s.Completed,
		}
		if !s.CompletedAt.IsZero() {
			item.CompletedAt = s.CompletedAt.Format(time.RFC3339)
		}
		response = append(response, item)
	}

	respondJSON(c, http.StatusOK, gin.H{"trip_id": tripID, "stops": response})
}

// GetRoute handles GET /v1/trips/:id/route
func (h *TripHandler) GetRoute(c *gin.Context) {
	summary, err := h.tripService.GetRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, summary)
}

// RecalculateRoute handles POST /v1/trips/:id/route/recalculate
func (h *TripHandler) RecalculateRoute(c *gin.Context) {
	result, err := h.tripService.RecalculateRoute(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, RecalculateResponse{
		TripID:         result.TripID,
		RouteUpdated:   result.Updated,
		SkipReason:     result.SkipReason,
		DistanceM:      result.DistanceM,
		DurationS:      result.DurationS,
		DetourRatio:    result.DetourRatio,
		DetourExceeded: result.DetourExceeded,
		StopCount:      result.StopCount,
	})
}
