package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"farmdispatch/internal/middleware"
	"farmdispatch/internal/service"
)

// Dispatcher creates offers for an order.
type Dispatcher interface {
	CreatePings(ctx context.Context, req service.CreatePingsRequest) (*service.CreatePingsResponse, error)
}

// OrderHandler handles HTTP requests for order dispatch.
type OrderHandler struct {
	dispatcher Dispatcher
	offers     OfferReader
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(dispatcher Dispatcher, offers OfferReader) *OrderHandler {
	return &OrderHandler{dispatcher: dispatcher, offers: offers}
}

// DispatchRequest is the optional HTTP request body for dispatching an order.
type DispatchRequest struct {
	MaxDetourM float64 `json:"max_detour_m"`
	MaxRiders  int     `json:"max_riders"`
}

// DispatchResponse is the HTTP response for dispatching an order.
type DispatchResponse struct {
	OrderID      string          `json:"order_id"`
	PingsCreated int             `json:"pings_created"`
	Offers       []service.Offer `json:"offers"`
}

// PingResponse is an offer as seen by the order side, including who it went to.
type PingResponse struct {
	service.Offer
	RiderID     string `json:"rider_id"`
	CreatedAt   string `json:"created_at"`
	RespondedAt string `json:"responded_at,omitempty"`
}

// Dispatch handles POST /v1/orders/:id/dispatch
func (h *OrderHandler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, "invalid request body")
		return
	}
	if req.MaxDetourM < 0 || req.MaxRiders < 0 {
		respondBadRequest(c, "max_detour_m and max_riders must not be negative")
		return
	}

	result, err := h.dispatcher.CreatePings(c.Request.Context(), service.CreatePingsRequest{
		OrderID:    c.Param("id"),
		MaxDetourM: req.MaxDetourM,
		MaxRiders:  req.MaxRiders,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, DispatchResponse{
		OrderID:      result.OrderID,
		PingsCreated: len(result.Pings),
		Offers:       toOffers(result.Pings),
	})
}

// ListPings handles GET /v1/orders/:id/pings. Only the order's buyer sees its offers.
func (h *OrderHandler) ListPings(c *gin.Context) {
	pings, err := h.offers.ListForOrder(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]PingResponse, 0, len(pings))
	for _, p := range pings {
		item := PingResponse{
			Offer:     service.NewOffer(p),
			RiderID:   p.RiderID,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		}
		if !p.RespondedAt.IsZero() {
			item.RespondedAt = p.RespondedAt.Format(time.RFC3339)
		}
		response = append(response, item)
	}

	respondJSON(c, http.StatusOK, gin.H{"order_id": c.Param("id"), "pings": response})
}
