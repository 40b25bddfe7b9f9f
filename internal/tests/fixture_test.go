package tests

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"farmdispatch/internal/config"
	"farmdispatch/internal/domain"
	"farmdispatch/internal/service"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by every service in a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture wires the dispatch services over in-memory mocks.
type fixture struct {
	store       *MockStore
	eligibility *MockEligibilityClient
	router      *MockRouter
	positions   *MockPositionStore
	cache       *MockRouteCache
	publisher   *MockPublisher
	pusher      *MockPusher
	clock       *testClock
	log         *logrus.Logger
	hook        *test.Hook
	cfg         config.DispatchConfig

	factory      *service.PingFactory
	responder    *service.PingResponder
	recalculator *service.RouteRecalculator
	capacity     *service.CapacityLedger
	stops        *service.StopSequencer
	offers       *service.OfferService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:       NewMockStore(),
		eligibility: &MockEligibilityClient{},
		router:      &MockRouter{DistancePerLeg: 1000},
		positions:   NewMockPositionStore(),
		cache:       NewMockRouteCache(),
		publisher:   &MockPublisher{},
		pusher:      NewMockPusher(),
		clock:       &testClock{now: baseTime},
		log:         log,
		hook:        hook,
		cfg: config.DispatchConfig{
			OfferWindow:    10 * time.Minute,
			MaxDetourM:     2000,
			MaxRiders:      10,
			MaxDetourRatio: 0.3,
		},
	}

	repos := f.store.Repositories()
	notifications := service.NewNotificationService(f.pusher, log)

	f.factory = service.NewPingFactory(f.eligibility, repos.Orders, repos.Pings, notifications, f.cfg, log).
		WithClock(f.clock.Now)
	f.recalculator = service.NewRouteRecalculator(repos.Trips, repos.Stops, f.positions, f.router, f.cache, f.cfg.MaxDetourRatio, log).
		WithClock(f.clock.Now)
	f.capacity = service.NewCapacityLedger(repos.Trips, log)
	f.stops = service.NewStopSequencer(f.store)
	f.responder = service.NewPingResponder(service.PingResponderDeps{
		Tx:        f.store,
		Pings:     repos.Pings,
		Capacity:  f.capacity,
		Stops:     f.stops,
		Routes:    f.recalculator,
		Publisher: f.publisher,
		Logger:    log,
	}).WithClock(f.clock.Now)
	f.offers = service.NewOfferService(repos.Pings, repos.Orders).WithClock(f.clock.Now)

	return f
}

// seedExample loads the order and trips of the two-rider example: order O of 2.5 kg from
// one producer, trip T1 of rider A and trip T2 of rider B, each with 80 kg left. T2 already
// carries two stops of an earlier order.
func (f *fixture) seedExample() {
	f.store.AddOrder(&domain.Order{
		ID:              "order-o",
		BuyerID:         "buyer-1",
		Status:          domain.OrderStatusPending,
		DeliveryPoint:   domain.Point{Lat: 52.5200, Lng: 13.4050},
		DeliveryAddress: "Alexanderplatz 1",
		DeliveryFee:     6.5,
		CreatedAt:       baseTime.Add(-time.Minute),
	},
		&domain.OrderItem{ID: "item-1", ProducerID: "farm-1", ProducerName: "Hof Sonnenblick", Pickup: domain.Point{Lat: 52.4000, Lng: 13.2000}, WeightKg: 1.5},
		&domain.OrderItem{ID: "item-2", ProducerID: "farm-1", ProducerName: "Hof Sonnenblick", Pickup: domain.Point{Lat: 52.4000, Lng: 13.2000}, WeightKg: 1.0},
	)

	for _, trip := range []*domain.RiderTrip{
		{ID: "trip-1", RiderID: "rider-a", Origin: domain.Point{Lat: 52.30, Lng: 13.10}, Destination: domain.Point{Lat: 52.55, Lng: 13.45}},
		{ID: "trip-2", RiderID: "rider-b", Origin: domain.Point{Lat: 52.32, Lng: 13.12}, Destination: domain.Point{Lat: 52.56, Lng: 13.46}},
	} {
		trip.DepartureAt = baseTime.Add(time.Hour)
		trip.AvailableCapacityKg = 80
		trip.RemainingCapacityKg = 80
		trip.Status = domain.TripStatusScheduled
		f.store.AddTrip(trip)
	}

	f.store.AddStops(
		&domain.TripStop{ID: "stop-prev-1", TripID: "trip-2", OrderID: "order-prev", Type: domain.StopTypePickup, Location: domain.Point{Lat: 52.35, Lng: 13.15}, Sequence: 1},
		&domain.TripStop{ID: "stop-prev-2", TripID: "trip-2", OrderID: "order-prev", Type: domain.StopTypeDelivery, Location: domain.Point{Lat: 52.45, Lng: 13.30}, Sequence: 2},
	)

	f.eligibility.Candidates = []domain.EligibleRider{
		{RiderID: "rider-a", TripID: "trip-1", DetourDistanceM: 300},
		{RiderID: "rider-b", TripID: "trip-2", DetourDistanceM: 500},
	}
}

// pingFor returns the ping offered to riderID.
func pingFor(t *testing.T, pings []*domain.OrderPing, riderID string) *domain.OrderPing {
	t.Helper()
	for _, p := range pings {
		if p.RiderID == riderID {
			return p
		}
	}
	t.Fatalf("no ping for rider %s", riderID)
	return nil
}

// hasLog reports whether the hook captured msg at level.
func hasLog(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
