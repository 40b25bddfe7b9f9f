package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/middleware"
	"farmdispatch/internal/service"
)

// PingResponder answers offers on behalf of a rider.
type PingResponder interface {
	Accept(ctx context.Context, req service.AcceptRequest) (*service.AcceptResponse, error)
	Decline(ctx context.Context, req service.DeclineRequest) (*domain.OrderPing, error)
}

// OfferReader reads offers.
type OfferReader interface {
	Get(ctx context.Context, pingID, riderID string) (*domain.OrderPing, error)
	ListForRider(ctx context.Context, riderID string) ([]*domain.OrderPing, error)
	ListForOrder(ctx context.Context, orderID, actorID string) ([]*domain.OrderPing, error)
}

// OfferStreams registers live offer streams.
type OfferStreams interface {
	Add(riderID string, conn *websocket.Conn)
	Remove(riderID string, conn *websocket.Conn)
}

// PingHandler handles HTTP requests for offers.
type PingHandler struct {
	responder PingResponder
	offers    OfferReader
	streams   OfferStreams
	upgrader  websocket.Upgrader
	log       logrus.FieldLogger
}

// NewPingHandler creates a new PingHandler. streams may be nil, which disables the stream endpoint.
func NewPingHandler(responder PingResponder, offers OfferReader, streams OfferStreams, log logrus.FieldLogger) *PingHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PingHandler{
		responder: responder,
		offers:    offers,
		streams:   streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rider apps are native clients; browsers are not a supported origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// AcceptResponse is the HTTP response for a winning accept.
type AcceptResponse struct {
	OrderID      string `json:"order_id"`
	TripID       string `json:"trip_id"`
	RouteUpdated bool   `json:"route_updated"`
}

// DeclineResponse is the HTTP response for a decline.
type DeclineResponse struct {
	PingID string `json:"ping_id"`
	Status string `json:"status"`
}

// OffersResponse lists offers.
type OffersResponse struct {
	Offers []service.Offer `json:"offers"`
}

// Accept handles POST /v1/pings/:id/accept
func (h *PingHandler) Accept(c *gin.Context) {
	result, err := h.responder.Accept(c.Request.Context(), service.AcceptRequest{
		PingID:  c.Param("id"),
		RiderID: middleware.ActorID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, AcceptResponse{
		OrderID:      result.OrderID,
		TripID:       result.TripID,
		RouteUpdated: result.RouteUpdated,
	})
}

// Decline handles POST /v1/pings/:id/decline
func (h *PingHandler) Decline(c *gin.Context) {
	ping, err := h.responder.Decline(c.Request.Context(), service.DeclineRequest{
		PingID:  c.Param("id"),
		RiderID: middleware.ActorID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, DeclineResponse{PingID: ping.ID, Status: string(ping.Status)})
}

// GetPing handles GET /v1/pings/:id
func (h *PingHandler) GetPing(c *gin.Context) {
	ping, err := h.offers.Get(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, service.NewOffer(ping))
}

// ListOffers handles GET /v1/riders/me/offers
func (h *PingHandler) ListOffers(c *gin.Context) {
	pings, err := h.offers.ListForRider(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, OffersResponse{Offers: toOffers(pings)})
}

// StreamOffers handles GET /v1/riders/me/offers/stream. The current pending offers are
// written first, then new offers as they are created.
func (h *PingHandler) StreamOffers(c *gin.Context) {
	if h.streams == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "offer stream disabled", Reason: service.ReasonNotFound})
		return
	}

	riderID := middleware.ActorID(c)
	pending, err := h.offers.ListForRider(c.Request.Context(), riderID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).WithField("rider_id", riderID).Debug("offer stream upgrade failed")
		return
	}

	for _, p := range pending {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(service.NewOffer(p)); err != nil {
			_ = conn.Close()
			return
		}
	}

	h.streams.Add(riderID, conn)
	defer h.streams.Remove(riderID, conn)

	// Drain client frames so close and ping control messages are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func toOffers(pings []*domain.OrderPing) []service.Offer {
	offers := make([]service.Offer, 0, len(pings))
	for _, p := range pings {
		offers = append(offers, service.NewOffer(p))
	}
	return offers
}
