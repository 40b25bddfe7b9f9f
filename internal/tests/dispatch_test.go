package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/service"
)

func TestCreatePings_SnapshotsOrderIntoEachPing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()

	result, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)
	require.Len(t, result.Pings, 2)

	for _, p := range result.Pings {
		assert.Equal(t, domain.PingStatusPending, p.Status)
		assert.Equal(t, "order-o", p.OrderID)
		assert.Equal(t, baseTime.Add(10*time.Minute), p.ExpiresAt)
		assert.InDelta(t, 2.5, p.TotalWeightKg, 1e-9)
		assert.InDelta(t, 6.5, p.EstimatedEarnings, 1e-9)
		assert.Equal(t, "Alexanderplatz 1", p.Delivery.Address)

		// Two items from one producer collapse into one pickup.
		require.Len(t, p.Pickups, 1)
		assert.Equal(t, "Hof Sonnenblick", p.Pickups[0].Label)
	}

	a := pingFor(t, result.Pings, "rider-a")
	b := pingFor(t, result.Pings, "rider-b")
	assert.Equal(t, "trip-1", a.TripID)
	assert.InDelta(t, 300, a.DetourDistanceM, 1e-9)
	assert.Equal(t, "trip-2", b.TripID)

	// Snapshots are independent copies.
	a.Pickups[0].Label = "changed"
	assert.Equal(t, "Hof Sonnenblick", b.Pickups[0].Label)

	// Dispatch never mutates the order.
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
	assert.Len(t, f.store.PingsByOrder("order-o"), 2)
}

func TestCreatePings_NoCandidatesIsSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()
	f.eligibility.Candidates = nil

	result, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)
	assert.Empty(t, result.Pings)
	assert.Empty(t, f.store.PingsByOrder("order-o"))
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
}

func TestCreatePings_EligibilityFailureIsUpstreamError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()
	f.eligibility.Err = errors.New("connection refused")

	_, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.ErrorIs(t, err, service.ErrEligibilityUnavailable)
	assert.Equal(t, service.ReasonUpstream, service.ReasonFor(err))
	assert.Empty(t, f.store.PingsByOrder("order-o"))
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-o").Status)
}

func TestCreatePings_UsesConfiguredDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()

	_, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)
	_, err = f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o", MaxDetourM: 500, MaxRiders: 1})
	require.NoError(t, err)

	require.Len(t, f.eligibility.Queries, 2)
	assert.InDelta(t, 2000, f.eligibility.Queries[0].MaxDetourM, 1e-9)
	assert.Equal(t, 10, f.eligibility.Queries[0].MaxResults)
	assert.InDelta(t, 500, f.eligibility.Queries[1].MaxDetourM, 1e-9)
	assert.Equal(t, 1, f.eligibility.Queries[1].MaxResults)
}

func TestCreatePings_RejectsMatchedOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()

	ok, err := f.store.Repositories().Orders.MatchIfPending(ctx, "order-o", "rider-z", "trip-z", baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	assert.ErrorIs(t, err, service.ErrOrderAlreadyMatched)
	assert.Empty(t, f.store.PingsByOrder("order-o"))

	// Rejected even when nobody would be eligible, and before asking for candidates.
	f.eligibility.Candidates = nil
	_, err = f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	assert.ErrorIs(t, err, service.ErrOrderAlreadyMatched)
	assert.Empty(t, f.eligibility.Queries)
}

func TestCreatePings_UnknownOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedExample()

	_, err := f.factory.CreatePings(context.Background(), service.CreatePingsRequest{OrderID: "missing"})
	assert.ErrorIs(t, err, service.ErrOrderNotFound)

	_, err = f.factory.CreatePings(context.Background(), service.CreatePingsRequest{})
	assert.ErrorIs(t, err, service.ErrInvalidOrderID)

	f.eligibility.Candidates = nil
	_, err = f.factory.CreatePings(context.Background(), service.CreatePingsRequest{OrderID: "missing"})
	assert.ErrorIs(t, err, service.ErrOrderNotFound)
	assert.Empty(t, f.eligibility.Queries)
}

func TestCreatePings_PushesToConnectedRiders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.seedExample()
	f.pusher.Online["rider-a"] = true

	result, err := f.factory.CreatePings(ctx, service.CreatePingsRequest{OrderID: "order-o"})
	require.NoError(t, err)

	// rider-b is offline; dispatch still succeeds.
	require.Len(t, f.pusher.Pushed["rider-a"], 1)
	assert.Empty(t, f.pusher.Pushed["rider-b"])

	offer, ok := f.pusher.Pushed["rider-a"][0].(service.Offer)
	require.True(t, ok)
	assert.Equal(t, pingFor(t, result.Pings, "rider-a").ID, offer.PingID)
}
