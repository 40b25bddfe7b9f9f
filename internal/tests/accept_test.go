package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/service"
)

func dispatchExample(t *testing.T, f *fixture) (p1, p2 *domain.OrderPing) {
	t.Helper()
	f.seedExample()
	result, err := f.factory.CreatePings(context.Background(), service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)
	return pingFor(t, result.Pings, "rider-a"), pingFor(t, result.Pings, "rider-b")
}

func TestAccept_FirstAcceptWinsAndLaterAcceptLoses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, p2 := dispatchExample(t, f)

	result, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.NoError(t, err)
	assert.Equal(t, "order-o", result.OrderID)
	assert.Equal(t, "trip-2", result.TripID)
	assert.True(t, result.RouteUpdated)

	order := f.store.Order("order-o")
	assert.Equal(t, domain.OrderStatusMatched, order.Status)
	assert.Equal(t, "rider-b", order.RiderID)
	assert.Equal(t, "trip-2", order.TripID)

	assert.InDelta(t, 77.5, f.store.Trip("trip-2").RemainingCapacityKg, 1e-9)
	assert.InDelta(t, 80, f.store.Trip("trip-1").RemainingCapacityKg, 1e-9)

	stops := f.store.Stops("trip-2")
	require.Len(t, stops, 4)
	assert.Equal(t, 3, stops[2].Sequence)
	assert.Equal(t, domain.StopTypePickup, stops[2].Type)
	assert.Equal(t, "order-o", stops[2].OrderID)
	assert.Equal(t, 4, stops[3].Sequence)
	assert.Equal(t, domain.StopTypeDelivery, stops[3].Type)
	assert.Equal(t, "Alexanderplatz 1", stops[3].Address)

	assert.Equal(t, domain.PingStatusAccepted, f.store.Ping(p2.ID).Status)
	// The losing sibling is terminal as soon as the order is taken.
	assert.Equal(t, domain.PingStatusExpired, f.store.Ping(p1.ID).Status)

	_, err = f.responder.Accept(ctx, service.AcceptRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.ErrorIs(t, err, service.ErrOrderAlreadyMatched)
	assert.Equal(t, "this order has already been matched to another rider", err.Error())
	assert.Equal(t, service.ReasonAlreadyMatched, service.ReasonFor(err))

	assert.Equal(t, "rider-b", f.store.Order("order-o").RiderID)
	assert.Empty(t, f.store.Stops("trip-1"))

	events := f.publisher.Published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRiderMatched, events[0].Type)
	assert.Equal(t, "rider-b", events[0].RiderID)
	assert.Equal(t, baseTime, events[0].MatchedAt)
}

func TestAccept_RoutesThroughOpenStopsInSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, p2 := dispatchExample(t, f)

	_, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.NoError(t, err)

	// No known position: start at the first open stop, then each stop once, then the destination.
	want := []domain.Point{
		{Lat: 52.35, Lng: 13.15},
		{Lat: 52.45, Lng: 13.30},
		{Lat: 52.40, Lng: 13.20},
		{Lat: 52.52, Lng: 13.405},
		{Lat: 52.56, Lng: 13.46},
	}
	require.Equal(t, 1, f.router.CallCount())
	assert.Equal(t, want, f.router.Calls[0])
	assert.InDelta(t, 4000, f.store.Trip("trip-2").TotalDistanceM, 1e-9)

	// Recalculating without a state change reproduces the accept-time route.
	result, err := f.recalculator.Recalculate(ctx, service.RecalculateRequest{TripID: "trip-2"})
	require.NoError(t, err)
	require.Equal(t, 2, f.router.CallCount())
	assert.Equal(t, want, f.router.Calls[1])
	assert.InDelta(t, 4000, result.DistanceM, 1e-9)
	assert.Zero(t, result.DetourRatio)
}

func TestAccept_LostCompareAndSwapDeclinesPing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)

	// Another path matched the order while p1 was still pending.
	ok, err := f.store.Repositories().Orders.MatchIfPending(ctx, "order-o", "rider-z", "trip-z", baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.responder.Accept(ctx, service.AcceptRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.ErrorIs(t, err, service.ErrOrderAlreadyMatched)

	assert.Equal(t, domain.PingStatusDeclined, f.store.Ping(p1.ID).Status)
	assert.Equal(t, "rider-z", f.store.Order("order-o").RiderID)
	assert.InDelta(t, 80, f.store.Trip("trip-1").RemainingCapacityKg, 1e-9)
	assert.Empty(t, f.store.Stops("trip-1"))
	assert.Empty(t, f.publisher.Published())
}

func TestAccept_ConcurrentAcceptsHaveExactlyOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()

	const riders = 20
	f.eligibility.Candidates = nil
	for i := 0; i < riders; i++ {
		tripID := fmt.Sprintf("trip-c%d", i)
		f.store.AddTrip(&domain.RiderTrip{
			ID:                  tripID,
			RiderID:             fmt.Sprintf("rider-c%d", i),
			Origin:              domain.Point{Lat: 52.3, Lng: 13.1},
			DepartureAt:         baseTime.Add(time.Hour),
			AvailableCapacityKg: 50,
			RemainingCapacityKg: 50,
			Status:              domain.TripStatusScheduled,
		})
		f.eligibility.Candidates = append(f.eligibility.Candidates, domain.EligibleRider{
			RiderID:         fmt.Sprintf("rider-c%d", i),
			TripID:          tripID,
			DetourDistanceM: float64(100 + i),
		})
	}

	dispatched, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o", MaxRiders: riders})
	require.NoError(t, err)
	require.Len(t, dispatched.Pings, riders)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		winners []string
		losses  []error
	)
	for _, p := range dispatched.Pings {
		wg.Add(1)
		go func(p *domain.OrderPing) {
			defer wg.Done()
			<-start
			res, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p.ID, RiderID: p.RiderID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losses = append(losses, err)
				return
			}
			winners = append(winners, res.TripID)
		}(p)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, losses, riders-1)
	for _, err := range losses {
		assert.ErrorIs(t, err, service.ErrOrderAlreadyMatched)
	}

	order := f.store.Order("order-o")
	assert.Equal(t, domain.OrderStatusMatched, order.Status)
	assert.Equal(t, winners[0], order.TripID)

	accepted := 0
	for _, p := range f.store.PingsByOrder("order-o") {
		assert.NotEqual(t, domain.PingStatusPending, p.Status)
		if p.Status == domain.PingStatusAccepted {
			accepted++
			assert.Equal(t, order.RiderID, p.RiderID)
		}
	}
	assert.Equal(t, 1, accepted)

	for i := 0; i < riders; i++ {
		tripID := fmt.Sprintf("trip-c%d", i)
		want := 50.0
		if tripID == winners[0] {
			want = 47.5
		}
		assert.InDelta(t, want, f.store.Trip(tripID).RemainingCapacityKg, 1e-9, tripID)
	}
	assert.Len(t, f.publisher.Published(), 1)
}

func TestAccept_ExpiredOffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)

	f.clock.Advance(10 * time.Minute)

	_, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.ErrorIs(t, err, service.ErrPingExpired)
	assert.Equal(t, service.ReasonExpired, service.ReasonFor(err))

	assert.Equal(t, domain.PingStatusExpired, f.store.Ping(p1.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
	assert.Zero(t, f.store.MatchCallCount)
}

func TestAccept_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)

	tests := []struct {
		name   string
		req    service.AcceptRequest
		err    error
		reason service.Reason
	}{
		{"missing ping id", service.AcceptRequest{RiderID: "rider-a"}, service.ErrInvalidPingID, service.ReasonInvalidRequest},
		{"missing rider", service.AcceptRequest{PingID: p1.ID}, service.ErrInvalidRiderID, service.ReasonInvalidRequest},
		{"unknown ping", service.AcceptRequest{PingID: "missing", RiderID: "rider-a"}, service.ErrPingNotFound, service.ReasonNotFound},
		{"other rider", service.AcceptRequest{PingID: p1.ID, RiderID: "rider-b"}, service.ErrNotPingOwner, service.ReasonUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.responder.Accept(ctx, tt.req)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.reason, service.ReasonFor(err))
		})
	}

	assert.Equal(t, domain.PingStatusPending, f.store.Ping(p1.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
}

func TestAccept_AfterDeclineIsAlreadyResponded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)

	_, err := f.responder.Decline(ctx, service.DeclineRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.NoError(t, err)

	_, err = f.responder.Accept(ctx, service.AcceptRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.ErrorIs(t, err, service.ErrPingAlreadyResponded)
	assert.Equal(t, service.ReasonAlreadyResponded, service.ReasonFor(err))
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
}

func TestAccept_RoutingFailureKeepsMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, p2 := dispatchExample(t, f)
	f.router.Err = errors.New("routing service returned 503")

	result, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.NoError(t, err)
	assert.False(t, result.RouteUpdated)

	assert.Equal(t, domain.OrderStatusMatched, f.store.Order("order-o").Status)
	assert.Len(t, f.store.Stops("trip-2"), 4)
	assert.Zero(t, f.store.UpdateRouteCallCount)
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "routing failed, keeping previous route"))
}

func TestAccept_SideEffectFailuresDoNotUndoMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, p2 := dispatchExample(t, f)
	f.store.DeductError = errors.New("deadlock detected")
	f.store.CreateStopsError = errors.New("disk full")
	f.publisher.Err = errors.New("broker down")

	result, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.NoError(t, err)
	assert.Equal(t, "order-o", result.OrderID)

	assert.Equal(t, domain.OrderStatusMatched, f.store.Order("order-o").Status)
	assert.Equal(t, domain.PingStatusAccepted, f.store.Ping(p2.ID).Status)
	assert.InDelta(t, 80, f.store.Trip("trip-2").RemainingCapacityKg, 1e-9)
	assert.Len(t, f.store.Stops("trip-2"), 2)

	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "failed to deduct trip capacity"))
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "failed to append trip stops"))
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "failed to publish rider matched task"))
}

func TestAccept_MatchErrorLeavesEverythingPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, p2 := dispatchExample(t, f)
	f.store.MatchError = errors.New("connection reset")

	_, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.Error(t, err)
	assert.Equal(t, service.ReasonInternal, service.ReasonFor(err))

	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
	assert.Equal(t, domain.PingStatusPending, f.store.Ping(p2.ID).Status)
}

func TestAccept_OverCommittedTripClampsAtZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()
	trip := f.store.Trip("trip-2")
	trip.RemainingCapacityKg = 1
	f.store.AddTrip(&trip)

	result, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)
	p2 := pingFor(t, result.Pings, "rider-b")

	_, err = f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.NoError(t, err)

	assert.Zero(t, f.store.Trip("trip-2").RemainingCapacityKg)
	assert.True(t, hasLog(f.hook, logrus.WarnLevel, "trip capacity over-committed, remaining capacity clamped to zero"))
}

func TestAccept_ClosedTripIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, p2 := dispatchExample(t, f)

	trip := f.store.Trip("trip-2")
	trip.Status = domain.TripStatusCancelled
	f.store.AddTrip(&trip)

	_, err := f.responder.Accept(ctx, service.AcceptRequest{PingID: p2.ID, RiderID: "rider-b"})
	require.ErrorIs(t, err, service.ErrTripNotAccepting)
	assert.Equal(t, service.ReasonTripUnavailable, service.ReasonFor(err))

	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
	assert.Equal(t, domain.PingStatusPending, f.store.Ping(p2.ID).Status)
	assert.Len(t, f.store.Stops("trip-2"), 2)
	assert.Empty(t, f.publisher.Published())
}

func TestDecline_LeavesOrderAndTripUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, p2 := dispatchExample(t, f)

	ping, err := f.responder.Decline(ctx, service.DeclineRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.NoError(t, err)
	assert.Equal(t, domain.PingStatusDeclined, ping.Status)
	assert.Equal(t, baseTime, ping.RespondedAt)

	assert.Equal(t, domain.PingStatusDeclined, f.store.Ping(p1.ID).Status)
	assert.Equal(t, domain.PingStatusPending, f.store.Ping(p2.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
	assert.InDelta(t, 80, f.store.Trip("trip-1").RemainingCapacityKg, 1e-9)

	_, err = f.responder.Decline(ctx, service.DeclineRequest{PingID: p1.ID, RiderID: "rider-a"})
	assert.ErrorIs(t, err, service.ErrPingAlreadyResponded)
}

func TestDecline_ExpiredOffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)
	f.clock.Advance(11 * time.Minute)

	_, err := f.responder.Decline(ctx, service.DeclineRequest{PingID: p1.ID, RiderID: "rider-a"})
	require.ErrorIs(t, err, service.ErrPingExpired)
	assert.Equal(t, domain.PingStatusExpired, f.store.Ping(p1.ID).Status)
}

func TestDecline_OtherRider(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p1, _ := dispatchExample(t, f)

	_, err := f.responder.Decline(context.Background(), service.DeclineRequest{PingID: p1.ID, RiderID: "rider-b"})
	require.ErrorIs(t, err, service.ErrNotPingOwner)
	assert.Equal(t, domain.PingStatusPending, f.store.Ping(p1.ID).Status)
}
