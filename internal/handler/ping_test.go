package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/middleware"
	"farmdispatch/internal/service"
)

type fakeResponder struct {
	acceptErr  error
	declineErr error
	lastRider  string
}

func (f *fakeResponder) Accept(_ context.Context, req service.AcceptRequest) (*service.AcceptResponse, error) {
	f.lastRider = req.RiderID
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	return &service.AcceptResponse{OrderID: "order-o", TripID: "trip-1", RouteUpdated: true}, nil
}

func (f *fakeResponder) Decline(_ context.Context, req service.DeclineRequest) (*domain.OrderPing, error) {
	f.lastRider = req.RiderID
	if f.declineErr != nil {
		return nil, f.declineErr
	}
	return &domain.OrderPing{ID: req.PingID, Status: domain.PingStatusDeclined}, nil
}

type fakeOffers struct {
	pings []*domain.OrderPing
	buyer string
}

func (f *fakeOffers) Get(_ context.Context, pingID, riderID string) (*domain.OrderPing, error) {
	for _, p := range f.pings {
		if p.ID == pingID {
			if p.RiderID != riderID {
				return nil, service.ErrNotPingOwner
			}
			return p, nil
		}
	}
	return nil, service.ErrPingNotFound
}

func (f *fakeOffers) ListForRider(_ context.Context, riderID string) ([]*domain.OrderPing, error) {
	var out []*domain.OrderPing
	for _, p := range f.pings {
		if p.RiderID == riderID && p.Status == domain.PingStatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeOffers) ListForOrder(_ context.Context, orderID, actorID string) ([]*domain.OrderPing, error) {
	if actorID != f.buyer {
		return nil, service.ErrNotOrderBuyer
	}
	var out []*domain.OrderPing
	for _, p := range f.pings {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newPingRouter(t *testing.T, responder *fakeResponder, offers *fakeOffers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	h := NewPingHandler(responder, offers, nil, log)
	r := gin.New()
	v1 := r.Group("/v1", middleware.RequireActor())
	v1.GET("/pings/:id", h.GetPing)
	v1.POST("/pings/:id/accept", h.Accept)
	v1.POST("/pings/:id/decline", h.Decline)
	v1.GET("/riders/me/offers", h.ListOffers)
	v1.GET("/riders/me/offers/stream", h.StreamOffers)
	return r
}

func do(r http.Handler, method, path, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if actor != "" {
		req.Header.Set(middleware.ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPingHandler_Accept(t *testing.T) {
	responder := &fakeResponder{}
	r := newPingRouter(t, responder, &fakeOffers{})

	w := do(r, http.MethodPost, "/v1/pings/ping-1/accept", "rider-a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rider-a", responder.lastRider)

	var resp AcceptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, AcceptResponse{OrderID: "order-o", TripID: "trip-1", RouteUpdated: true}, resp)
}

func TestPingHandler_AcceptRejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		reason service.Reason
	}{
		{"already matched", service.ErrOrderAlreadyMatched, http.StatusConflict, service.ReasonAlreadyMatched},
		{"already responded", service.ErrPingAlreadyResponded, http.StatusConflict, service.ReasonAlreadyResponded},
		{"expired", service.ErrPingExpired, http.StatusGone, service.ReasonExpired},
		{"not owner", service.ErrNotPingOwner, http.StatusForbidden, service.ReasonUnauthorized},
		{"not found", service.ErrPingNotFound, http.StatusNotFound, service.ReasonNotFound},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, service.ReasonInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPingRouter(t, &fakeResponder{acceptErr: tt.err}, &fakeOffers{})

			w := do(r, http.MethodPost, "/v1/pings/ping-1/accept", "rider-a")
			require.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.reason, resp.Reason)
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			} else {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestPingHandler_RequiresActor(t *testing.T) {
	responder := &fakeResponder{}
	r := newPingRouter(t, responder, &fakeOffers{})

	w := do(r, http.MethodPost, "/v1/pings/ping-1/accept", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, responder.lastRider)
}

func TestPingHandler_Decline(t *testing.T) {
	r := newPingRouter(t, &fakeResponder{}, &fakeOffers{})

	w := do(r, http.MethodPost, "/v1/pings/ping-9/decline", "rider-b")
	require.Equal(t, http.StatusOK, w.Code)

	var resp DeclineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, DeclineResponse{PingID: "ping-9", Status: "declined"}, resp)
}

func TestPingHandler_Offers(t *testing.T) {
	expires := time.Date(2026, 5, 4, 9, 10, 0, 0, time.UTC)
	offers := &fakeOffers{pings: []*domain.OrderPing{
		{ID: "ping-1", OrderID: "order-o", RiderID: "rider-a", TripID: "trip-1", Status: domain.PingStatusPending, ExpiresAt: expires, TotalWeightKg: 2.5},
		{ID: "ping-2", OrderID: "order-o", RiderID: "rider-b", TripID: "trip-2", Status: domain.PingStatusPending, ExpiresAt: expires},
		{ID: "ping-3", OrderID: "order-p", RiderID: "rider-a", TripID: "trip-1", Status: domain.PingStatusDeclined, ExpiresAt: expires},
	}}
	r := newPingRouter(t, &fakeResponder{}, offers)

	w := do(r, http.MethodGet, "/v1/riders/me/offers", "rider-a")
	require.Equal(t, http.StatusOK, w.Code)
	var list OffersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Offers, 1)
	assert.Equal(t, "ping-1", list.Offers[0].PingID)
	assert.InDelta(t, 2.5, list.Offers[0].TotalWeightKg, 1e-9)
	assert.True(t, expires.Equal(list.Offers[0].ExpiresAt))

	w = do(r, http.MethodGet, "/v1/pings/ping-2", "rider-a")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/v1/pings/ping-2", "rider-b")
	assert.Equal(t, http.StatusOK, w.Code)

	// No hub configured.
	w = do(r, http.MethodGet, "/v1/riders/me/offers/stream", "rider-a")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderHandler_ListPingsBuyerOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	offers := &fakeOffers{
		buyer: "buyer-1",
		pings: []*domain.OrderPing{
			{ID: "p1", OrderID: "order-o", RiderID: "rider-a", Status: domain.PingStatusPending},
			{ID: "p2", OrderID: "order-o", RiderID: "rider-b", Status: domain.PingStatusDeclined},
		},
	}
	h := NewOrderHandler(nil, offers)
	r := gin.New()
	r.GET("/v1/orders/:id/pings", middleware.RequireActor(), h.ListPings)

	w := do(r, http.MethodGet, "/v1/orders/order-o/pings", "buyer-1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OrderID string         `json:"order_id"`
		Pings   []PingResponse `json:"pings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "order-o", resp.OrderID)
	require.Len(t, resp.Pings, 2)
	assert.Equal(t, "rider-a", resp.Pings[0].RiderID)

	w = do(r, http.MethodGet, "/v1/orders/order-o/pings", "rider-a")
	assert.Equal(t, http.StatusForbidden, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, service.ReasonUnauthorized, errResp.Reason)
}
