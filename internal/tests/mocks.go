package tests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"farmdispatch/internal/domain"
	"farmdispatch/internal/geo"
	"farmdispatch/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK STORE
// ──────────────────────────────────────────────

// MockStore is an in-memory database shared by the mock repositories.
// Transactions are serialized and rolled back through an undo log, so writes made
// outside a failed transaction survive its rollback.
type MockStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	orders       map[string]*domain.Order
	items        map[string][]*domain.OrderItem
	trips        map[string]*domain.RiderTrip
	stops        map[string][]*domain.TripStop
	pings        map[string]*domain.OrderPing
	participants map[string]map[string]string

	// Counters for verification
	MatchCallCount       int32
	UpdateRouteCallCount int32
	TxCount              int32

	// Error injection
	MatchError          error
	DeductError         error
	ListStopsError      error
	CreateStopsError    error
	UpdateRouteError    error
	CreatePingsError    error
	AddParticipantError error
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		orders:       make(map[string]*domain.Order),
		items:        make(map[string][]*domain.OrderItem),
		trips:        make(map[string]*domain.RiderTrip),
		stops:        make(map[string][]*domain.TripStop),
		pings:        make(map[string]*domain.OrderPing),
		participants: make(map[string]map[string]string),
	}
}

// AddOrder adds an order and its items.
func (s *MockStore) AddOrder(order *domain.Order, items ...*domain.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	for _, it := range items {
		item := *it
		item.OrderID = order.ID
		s.items[order.ID] = append(s.items[order.ID], &item)
	}
}

// AddTrip adds a trip.
func (s *MockStore) AddTrip(trip *domain.RiderTrip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trip
	s.trips[trip.ID] = &cp
}

// AddStops adds existing stops to a trip.
func (s *MockStore) AddStops(stops ...*domain.TripStop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stops {
		cp := *st
		s.stops[st.TripID] = append(s.stops[st.TripID], &cp)
	}
}

// AddPing adds a ping.
func (s *MockStore) AddPing(ping *domain.OrderPing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ping
	s.pings[ping.ID] = &cp
}

// Order returns a copy of the stored order.
func (s *MockStore) Order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

// Trip returns a copy of the stored trip.
func (s *MockStore) Trip(id string) domain.RiderTrip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.trips[id]
}

// Ping returns a copy of the stored ping.
func (s *MockStore) Ping(id string) domain.OrderPing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.pings[id]
}

// Stops returns copies of the trip's stops ordered by sequence.
func (s *MockStore) Stops(tripID string) []domain.TripStop {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TripStop, 0, len(s.stops[tripID]))
	for _, st := range s.stops[tripID] {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// PingsByOrder returns copies of the order's pings.
func (s *MockStore) PingsByOrder(orderID string) []domain.OrderPing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderPing
	for _, p := range s.pings {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Participant returns the user's role in the order conversation, or "".
func (s *MockStore) Participant(orderID, userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[orderID][userID]
}

// Repositories returns non-transactional repositories over the store.
func (s *MockStore) Repositories() repository.TxRepositories {
	return s.repos(nil)
}

func (s *MockStore) repos(tx *mockTx) repository.TxRepositories {
	return repository.TxRepositories{
		Orders: &MockOrderRepository{s: s, tx: tx},
		Trips:  &MockTripRepository{s: s, tx: tx},
		Stops:  &MockStopRepository{s: s, tx: tx},
		Pings:  &MockPingRepository{s: s, tx: tx},
	}
}

// mockTx collects undo actions. Nil means autocommit.
type mockTx struct {
	undo []func()
}

func (t *mockTx) record(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

// WithinTx implements repository.Transactor.
func (s *MockStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	atomic.AddInt32(&s.TxCount, 1)

	tx := &mockTx{}
	if err := fn(ctx, s.repos(tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

var _ repository.Transactor = (*MockStore)(nil)

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	s  *MockStore
	tx *mockTx
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderRepository) ListItems(ctx context.Context, orderID string) ([]*domain.OrderItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]*domain.OrderItem, 0, len(m.s.items[orderID]))
	for _, it := range m.s.items[orderID] {
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockOrderRepository) MatchIfPending(ctx context.Context, orderID, riderID, tripID string, matchedAt time.Time) (bool, error) {
	atomic.AddInt32(&m.s.MatchCallCount, 1)
	if m.s.MatchError != nil {
		return false, m.s.MatchError
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	o, ok := m.s.orders[orderID]
	if !ok || o.Status != domain.OrderStatusPending {
		return false, nil
	}

	prev := *o
	o.Status = domain.OrderStatusMatched
	o.RiderID = riderID
	o.TripID = tripID
	o.MatchedAt = matchedAt
	m.tx.record(func() { *o = prev })
	return true, nil
}

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository.
type MockTripRepository struct {
	s  *MockStore
	tx *mockTx
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.RiderTrip, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetByIDForUpdate relies on WithinTx serialization for the lock.
func (m *MockTripRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.RiderTrip, error) {
	return m.GetByID(ctx, id)
}

func (m *MockTripRepository) DeductCapacity(ctx context.Context, tripID string, weightKg float64) (*domain.CapacityChange, error) {
	if m.s.DeductError != nil {
		return nil, m.s.DeductError
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.trips[tripID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	prev := t.RemainingCapacityKg
	remaining := prev - weightKg
	if remaining < 0 {
		remaining = 0
	}
	t.RemainingCapacityKg = remaining
	m.tx.record(func() { t.RemainingCapacityKg = prev })

	return &domain.CapacityChange{
		TripID:      tripID,
		PreviousKg:  prev,
		RemainingKg: remaining,
		RequestedKg: weightKg,
	}, nil
}

func (m *MockTripRepository) UpdateRoute(ctx context.Context, summary *domain.RouteSummary) error {
	atomic.AddInt32(&m.s.UpdateRouteCallCount, 1)
	if m.s.UpdateRouteError != nil {
		return m.s.UpdateRouteError
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.trips[summary.TripID]
	if !ok {
		return repository.ErrNotFound
	}
	t.Route = append([]domain.Point(nil), summary.Path...)
	t.TotalDistanceM = summary.DistanceM
	t.TotalDurationS = summary.DurationS
	t.StopCount = summary.StopCount
	t.RouteUpdatedAt = summary.UpdatedAt
	return nil
}

// ──────────────────────────────────────────────
// MOCK STOP REPOSITORY
// ──────────────────────────────────────────────

// MockStopRepository is a mock implementation of StopRepository.
type MockStopRepository struct {
	s  *MockStore
	tx *mockTx
}

func (m *MockStopRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.TripStop, error) {
	if m.s.ListStopsError != nil {
		return nil, m.s.ListStopsError
	}
	stops := m.s.Stops(tripID)
	out := make([]*domain.TripStop, 0, len(stops))
	for i := range stops {
		out = append(out, &stops[i])
	}
	return out, nil
}

func (m *MockStopRepository) MaxSequence(ctx context.Context, tripID string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	last := 0
	for _, st := range m.s.stops[tripID] {
		if st.Sequence > last {
			last = st.Sequence
		}
	}
	return last, nil
}

// CreateBatch enforces the (trip_id, sequence) unique constraint.
func (m *MockStopRepository) CreateBatch(ctx context.Context, stops []*domain.TripStop) error {
	if m.s.CreateStopsError != nil {
		return m.s.CreateStopsError
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	used := make(map[string]bool)
	for tripID, existing := range m.s.stops {
		for _, st := range existing {
			used[fmt.Sprintf("%s/%d", tripID, st.Sequence)] = true
		}
	}
	for _, st := range stops {
		key := fmt.Sprintf("%s/%d", st.TripID, st.Sequence)
		if used[key] {
			return fmt.Errorf("duplicate stop sequence %s", key)
		}
		used[key] = true
	}

	for _, st := range stops {
		cp := *st
		tripID := st.TripID
		m.s.stops[tripID] = append(m.s.stops[tripID], &cp)
		m.tx.record(func() {
			list := m.s.stops[tripID]
			for i, x := range list {
				if x == &cp {
					m.s.stops[tripID] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK PING REPOSITORY
// ──────────────────────────────────────────────

// MockPingRepository is a mock implementation of PingRepository.
type MockPingRepository struct {
	s  *MockStore
	tx *mockTx
}

func (m *MockPingRepository) CreateBatch(ctx context.Context, pings []*domain.OrderPing) error {
	if m.s.CreatePingsError != nil {
		return m.s.CreatePingsError
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range pings {
		if _, exists := m.s.pings[p.ID]; exists {
			return fmt.Errorf("duplicate ping id %s", p.ID)
		}
	}
	for _, p := range pings {
		cp := *p
		m.s.pings[p.ID] = &cp
	}
	return nil
}

func (m *MockPingRepository) GetByID(ctx context.Context, id string) (*domain.OrderPing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPingRepository) Transition(ctx context.Context, id string, from, to domain.PingStatus, at time.Time) (bool, error) {
	if !domain.CanTransitionPing(from, to) {
		return false, nil
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pings[id]
	if !ok || p.Status != from {
		return false, nil
	}

	prev := *p
	p.Status = to
	p.RespondedAt = at
	m.tx.record(func() { *p = prev })
	return true, nil
}

func (m *MockPingRepository) ExpireSiblings(ctx context.Context, orderID, exceptPingID string, at time.Time) (int64, error) {
	return m.expireWhere(at, func(p *domain.OrderPing) bool {
		return p.OrderID == orderID && p.ID != exceptPingID
	})
}

func (m *MockPingRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return m.expireWhere(now, func(p *domain.OrderPing) bool {
		return !p.ExpiresAt.After(now)
	})
}

func (m *MockPingRepository) ExpireOverdueForRider(ctx context.Context, riderID string, now time.Time) (int64, error) {
	return m.expireWhere(now, func(p *domain.OrderPing) bool {
		return p.RiderID == riderID && !p.ExpiresAt.After(now)
	})
}

func (m *MockPingRepository) expireWhere(at time.Time, match func(*domain.OrderPing) bool) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, p := range m.s.pings {
		if p.Status == domain.PingStatusPending && match(p) {
			p.Status = domain.PingStatusExpired
			p.RespondedAt = at
			n++
		}
	}
	return n, nil
}

func (m *MockPingRepository) ListPendingByRider(ctx context.Context, riderID string) ([]*domain.OrderPing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.OrderPing
	for _, p := range m.s.pings {
		if p.RiderID == riderID && p.Status == domain.PingStatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *MockPingRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.OrderPing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*domain.OrderPing
	for _, p := range m.s.pings {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetourDistanceM < out[j].DetourDistanceM })
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK CONVERSATION REPOSITORY
// ──────────────────────────────────────────────

// MockConversationRepository is a mock implementation of ConversationRepository.
type MockConversationRepository struct {
	s     *MockStore
	Calls int32
}

// NewMockConversationRepository creates a conversation repository over the store.
func NewMockConversationRepository(s *MockStore) *MockConversationRepository {
	return &MockConversationRepository{s: s}
}

func (m *MockConversationRepository) AddParticipant(ctx context.Context, orderID, userID, role string) error {
	atomic.AddInt32(&m.Calls, 1)
	if m.s.AddParticipantError != nil {
		return m.s.AddParticipantError
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.participants[orderID] == nil {
		m.s.participants[orderID] = make(map[string]string)
	}
	if _, ok := m.s.participants[orderID][userID]; !ok {
		m.s.participants[orderID][userID] = role
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK ELIGIBILITY CLIENT
// ──────────────────────────────────────────────

// MockEligibilityClient returns a fixed candidate list.
type MockEligibilityClient struct {
	mu         sync.Mutex
	Candidates []domain.EligibleRider
	Err        error
	Queries    []geo.Query
}

func (m *MockEligibilityClient) FindEligibleRiders(ctx context.Context, q geo.Query) ([]domain.EligibleRider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, q)
	if m.Err != nil {
		return nil, m.Err
	}
	out := m.Candidates
	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return append([]domain.EligibleRider(nil), out...), nil
}

// ──────────────────────────────────────────────
// MOCK ROUTER
// ──────────────────────────────────────────────

// MockRouter returns a straight-line route through the waypoints, DistancePerLeg metres per leg.
type MockRouter struct {
	mu             sync.Mutex
	DistancePerLeg float64
	Err            error
	Calls          [][]domain.Point
}

func (m *MockRouter) Route(ctx context.Context, waypoints []domain.Point) (*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]domain.Point(nil), waypoints...))
	if m.Err != nil {
		return nil, m.Err
	}
	legs := float64(len(waypoints) - 1)
	return &domain.Route{
		Path:      append([]domain.Point(nil), waypoints...),
		DistanceM: legs * m.DistancePerLeg,
		DurationS: legs * m.DistancePerLeg / 10,
	}, nil
}

// CallCount returns the number of routing calls.
func (m *MockRouter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ──────────────────────────────────────────────
// MOCK POSITION STORE / ROUTE CACHE
// ──────────────────────────────────────────────

// MockPositionStore is a mock implementation of PositionStore.
type MockPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Point
	Err       error
}

// NewMockPositionStore creates a new mock position store.
func NewMockPositionStore() *MockPositionStore {
	return &MockPositionStore{positions: make(map[string]domain.Point)}
}

func (m *MockPositionStore) SetTripPosition(ctx context.Context, tripID string, p domain.Point) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[tripID] = p
	return nil
}

func (m *MockPositionStore) GetTripPosition(ctx context.Context, tripID string) (domain.Point, bool, error) {
	if m.Err != nil {
		return domain.Point{}, false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[tripID]
	return p, ok, nil
}

// MockRouteCache is a mock implementation of RouteCache.
type MockRouteCache struct {
	mu      sync.Mutex
	routes  map[string]domain.RouteSummary
	GetHits int32
}

// NewMockRouteCache creates a new mock route cache.
func NewMockRouteCache() *MockRouteCache {
	return &MockRouteCache{routes: make(map[string]domain.RouteSummary)}
}

func (m *MockRouteCache) GetRoute(ctx context.Context, tripID string) (*domain.RouteSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[tripID]
	if !ok {
		return nil, nil
	}
	atomic.AddInt32(&m.GetHits, 1)
	return &r, nil
}

func (m *MockRouteCache) SetRoute(ctx context.Context, summary *domain.RouteSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[summary.TripID] = *summary
	return nil
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER / PUSHER / LOCK
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	Events []domain.RiderMatchedEvent
	Err    error
}

func (m *MockPublisher) PublishRiderMatched(ctx context.Context, evt domain.RiderMatchedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, evt)
	return nil
}

// Published returns a copy of the recorded events.
func (m *MockPublisher) Published() []domain.RiderMatchedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RiderMatchedEvent(nil), m.Events...)
}

// ErrRiderOffline is returned by MockPusher for riders not marked online.
var ErrRiderOffline = errors.New("rider offline")

// MockPusher records pushes to online riders.
type MockPusher struct {
	mu     sync.Mutex
	Online map[string]bool
	Pushed map[string][]any
}

// NewMockPusher creates a pusher with the given riders online.
func NewMockPusher(online ...string) *MockPusher {
	m := &MockPusher{Online: make(map[string]bool), Pushed: make(map[string][]any)}
	for _, id := range online {
		m.Online[id] = true
	}
	return m
}

func (m *MockPusher) Push(riderID string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Online[riderID] {
		return ErrRiderOffline
	}
	m.Pushed[riderID] = append(m.Pushed[riderID], v)
	return nil
}

// MockLockStore is a mock implementation of SweepLock.
type MockLockStore struct {
	mu    sync.Mutex
	held  map[string]string
	Err   error
	Taken int32
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]string)}
}

// Hold marks the lock as held by another instance.
func (m *MockLockStore) Hold(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[name] = "other-instance"
}

// IsHeld reports whether the lock is currently held.
func (m *MockLockStore) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

func (m *MockLockStore) AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if m.Err != nil {
		return "", false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return "", false, nil
	}
	n := atomic.AddInt32(&m.Taken, 1)
	token := fmt.Sprintf("token-%d", n)
	m.held[name] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseSweepLock(ctx context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] != token {
		return errors.New("lock held by another instance")
	}
	delete(m.held, name)
	return nil
}
