// README: Dispatch unit tests covering PickRandomPartners and the offer/broadcast flow.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"hometaste/internal/config"
	"hometaste/internal/events"
	"hometaste/internal/modules/location"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

func TestPickRandomPartners_NormalCase(t *testing.T) {
	pool := makePartnerPool(10)
	selected := PickRandomPartners(pool, 5)
	if len(selected) != 5 {
		t.Fatalf("expected 5, got %d", len(selected))
	}
	assertSubset(t, pool, selected)
	assertUnique(t, selected)
}

func TestPickRandomPartners_FewerThanN(t *testing.T) {
	pool := makePartnerPool(3)
	selected := PickRandomPartners(pool, 10)
	if len(selected) != 3 {
		t.Fatalf("expected all 3, got %d", len(selected))
	}
	assertUnique(t, selected)
}

func TestPickRandomPartners_Degenerate(t *testing.T) {
	if got := PickRandomPartners(nil, 5); len(got) != 0 {
		t.Fatalf("expected 0 from nil pool, got %d", len(got))
	}
	if got := PickRandomPartners(makePartnerPool(5), 0); len(got) != 0 {
		t.Fatalf("expected 0 for n=0, got %d", len(got))
	}
	if got := PickRandomPartners(makePartnerPool(5), -1); len(got) != 0 {
		t.Fatalf("expected 0 for n<0, got %d", len(got))
	}
}

func TestPickRandomPartners_DoesNotMutatePool(t *testing.T) {
	pool := makePartnerPool(5)
	orig := make([]types.ID, len(pool))
	copy(orig, pool)
	PickRandomPartners(pool, 3)
	for i, d := range pool {
		if d != orig[i] {
			t.Fatalf("pool mutated at index %d: got %s, want %s", i, d, orig[i])
		}
	}
}

// Over many runs each partner should be picked with roughly uniform probability.
func TestPickRandomPartners_Distribution(t *testing.T) {
	pool := makePartnerPool(10)
	counts := make(map[types.ID]int, len(pool))
	const runs = 1000
	const pick = 5
	for i := 0; i < runs; i++ {
		for _, d := range PickRandomPartners(pool, pick) {
			counts[d]++
		}
	}
	expected := runs * pick / len(pool)
	lo, hi := expected*40/100, expected*160/100
	for _, d := range pool {
		c := counts[d]
		if c < lo || c > hi {
			t.Errorf("partner %s appeared %d times, want roughly %d (+/-60%%)", d, c, expected)
		}
	}
}

func TestPickRandomPartners_Concurrent(t *testing.T) {
	pool := makePartnerPool(20)
	const goroutines = 8
	var wg sync.WaitGroup
	results := make(chan []types.ID, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- PickRandomPartners(pool, 5)
		}()
	}
	wg.Wait()
	close(results)

	for sel := range results {
		if len(sel) != 5 {
			t.Fatalf("expected 5, got %d", len(sel))
		}
		assertUnique(t, sel)
		assertSubset(t, pool, sel)
	}
}

// mockStore is an in-memory Store.
type mockStore struct {
	mu         sync.Mutex
	dispatched map[types.ID]time.Time
	notified   map[types.ID][]types.ID
	broadcast  map[types.ID]int
}

func newMockStore() *mockStore {
	return &mockStore{
		dispatched: make(map[types.ID]time.Time),
		notified:   make(map[types.ID][]types.ID),
		broadcast:  make(map[types.ID]int),
	}
}

func (m *mockStore) RecordDispatch(_ context.Context, id types.ID, partners []types.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[id] = at
	m.notified[id] = append(m.notified[id], partners...)
	return nil
}

func (m *mockStore) Due(_ context.Context, cutoff time.Time) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ID
	for id, at := range m.dispatched {
		if !at.After(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *mockStore) DispatchedAt(_ context.Context, id types.ID) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.dispatched[id]
	return at, ok, nil
}

func (m *mockStore) IsBroadcast(_ context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcast[id] > 0, nil
}

func (m *mockStore) Notified(_ context.Context, id types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ID(nil), m.notified[id]...), nil
}

func (m *mockStore) MarkBroadcast(_ context.Context, id types.ID, partners []types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dispatched, id)
	m.broadcast[id]++
	m.notified[id] = append(m.notified[id], partners...)
	return nil
}

func (m *mockStore) Forget(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dispatched, id)
	delete(m.notified, id)
	return nil
}

func (m *mockStore) isDispatched(id types.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dispatched[id]
	return ok
}

func (m *mockStore) broadcasts(id types.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcast[id]
}

func (m *mockStore) forceDispatchedAt(id types.ID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[id] = t
}

// mockFinder places partner i at i km from the pickup.
type mockFinder struct {
	partners []types.ID
	radii    []float64
}

func (f *mockFinder) Nearby(_ context.Context, _ types.Point, radiusKm float64) ([]location.Nearby, error) {
	f.radii = append(f.radii, radiusKm)
	var out []location.Nearby
	for i, id := range f.partners {
		if float64(i) <= radiusKm {
			out = append(out, location.Nearby{PartnerID: id, DistanceKm: float64(i)})
		}
	}
	return out, nil
}

type mockPartners struct {
	busy map[types.ID]bool
}

func (m mockPartners) Get(_ context.Context, id types.ID) (*user.User, error) {
	return &user.User{ID: id, Role: user.RoleDeliveryPartner, Partner: &user.PartnerDetails{Available: !m.busy[id]}}, nil
}

type mockOrders struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
}

func (m *mockOrders) add(id types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = &order.Order{
		ID:            id,
		Status:        order.StatusReadyForPickup,
		PickupAddress: user.Address{Coordinates: types.Point{Lat: 27.7172, Lng: 85.3240}},
	}
}

func (m *mockOrders) claim(id, partner types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].Status = order.StatusAssigned
	m.orders[id].DeliveryPartnerID = partner.Ptr()
}

func (m *mockOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

type mockNotifier struct {
	mu    sync.Mutex
	calls [][]types.ID
}

func (m *mockNotifier) NotifyPartners(_ context.Context, ids []types.ID, _ *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ids)
	return nil
}

type harness struct {
	svc      *Service
	store    *mockStore
	finder   *mockFinder
	orders   *mockOrders
	notifier *mockNotifier
}

func newHarness(busy ...types.ID) *harness {
	h := &harness{
		store:    newMockStore(),
		finder:   &mockFinder{partners: makePartnerPool(12)},
		orders:   &mockOrders{orders: map[types.ID]*order.Order{}},
		notifier: &mockNotifier{},
	}
	b := map[types.ID]bool{}
	for _, id := range busy {
		b[id] = true
	}
	log, _ := test.NewNullLogger()
	cfg := config.DispatchConfig{TickSeconds: 3, RadiusKm: 5, InitialCount: 3}
	h.svc = NewService(h.store, h.finder, mockPartners{busy: b}, h.orders, h.notifier, cfg, log)
	return h
}

func readyEvent(id types.ID) events.Event {
	return events.Event{Kind: events.KindStatusUpdate, OrderID: id, Status: string(order.StatusReadyForPickup)}
}

func TestDispatchOnReadyForPickup(t *testing.T) {
	h := newHarness("partner_0", "partner_1")
	h.orders.add("o1")

	if err := h.svc.Publish(context.Background(), readyEvent("o1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !h.store.isDispatched("o1") {
		t.Fatal("expected order to be dispatched")
	}
	if len(h.notifier.calls) != 1 || len(h.notifier.calls[0]) != 3 {
		t.Fatalf("expected one offer to 3 partners, got %v", h.notifier.calls)
	}
	for _, id := range h.notifier.calls[0] {
		if id == "partner_0" || id == "partner_1" {
			t.Errorf("busy partner %s was offered the order", id)
		}
	}
	if h.finder.radii[0] != 5 {
		t.Errorf("expected dispatch radius 5, got %v", h.finder.radii[0])
	}
}

func TestDispatchIgnoresOtherEvents(t *testing.T) {
	h := newHarness()
	h.orders.add("o1")
	ctx := context.Background()

	_ = h.svc.Publish(ctx, events.Event{Kind: events.KindNewOrder, OrderID: "o1", Status: string(order.StatusPending)})
	_ = h.svc.Publish(ctx, events.Event{Kind: events.KindStatusUpdate, OrderID: "o1", Status: string(order.StatusPreparing)})
	if h.store.isDispatched("o1") || len(h.notifier.calls) != 0 {
		t.Fatal("only ready_for_pickup status updates dispatch")
	}
}

func TestClaimedOrderIsNotBroadcast(t *testing.T) {
	h := newHarness()
	h.orders.add("o1")
	ctx := context.Background()
	_ = h.svc.Publish(ctx, readyEvent("o1"))

	h.orders.claim("o1", "partner_2")
	_ = h.svc.Publish(ctx, events.Event{Kind: events.KindStatusUpdate, OrderID: "o1", Status: string(order.StatusAssigned)})
	if h.store.isDispatched("o1") {
		t.Fatal("claimed order should be forgotten")
	}

	h.store.forceDispatchedAt("o1", time.Now().Add(-broadcastDelay-time.Second))
	h.svc.tick(ctx)
	if h.store.broadcasts("o1") != 0 {
		t.Fatal("claimed order must not be broadcast")
	}
}

func TestBroadcastAfterDelay(t *testing.T) {
	h := newHarness()
	h.orders.add("o1")
	ctx := context.Background()
	_ = h.svc.Publish(ctx, readyEvent("o1"))

	h.svc.tick(ctx)
	if h.store.broadcasts("o1") != 0 {
		t.Fatal("order should not be broadcast before the delay")
	}

	h.store.forceDispatchedAt("o1", time.Now().Add(-broadcastDelay-time.Second))
	h.svc.tick(ctx)
	if h.store.broadcasts("o1") != 1 {
		t.Fatal("expected broadcast after delay")
	}
	if got := h.finder.radii[len(h.finder.radii)-1]; got != 10 {
		t.Errorf("expected wider radius 10, got %v", got)
	}
	if len(h.notifier.calls) != 2 {
		t.Fatalf("expected initial and wider offers, got %d", len(h.notifier.calls))
	}
	first := map[types.ID]bool{}
	for _, id := range h.notifier.calls[0] {
		first[id] = true
	}
	if len(h.notifier.calls[1]) != 11-len(first) {
		t.Errorf("wider offer should reach every other partner within 10km, got %d", len(h.notifier.calls[1]))
	}
	for _, id := range h.notifier.calls[1] {
		if first[id] {
			t.Errorf("partner %s offered twice", id)
		}
	}

	h.svc.tick(ctx)
	if h.store.broadcasts("o1") != 1 {
		t.Fatal("broadcast must happen once")
	}
}

func TestDispatchSkipsOrdersAlreadyOffered(t *testing.T) {
	h := newHarness()
	h.orders.add("o1")
	ctx := context.Background()

	_ = h.svc.Publish(ctx, readyEvent("o1"))
	_ = h.svc.Publish(ctx, readyEvent("o1"))
	if len(h.notifier.calls) != 1 {
		t.Fatalf("redelivered event must not re-offer, got %d offers", len(h.notifier.calls))
	}

	h.store.forceDispatchedAt("o1", time.Now().Add(-broadcastDelay-time.Second))
	h.svc.tick(ctx)
	_ = h.svc.Publish(ctx, readyEvent("o1"))
	if len(h.notifier.calls) != 2 {
		t.Fatalf("broadcast order must not be dispatched again, got %d offers", len(h.notifier.calls))
	}
	if h.store.isDispatched("o1") {
		t.Fatal("broadcast order should stay out of the pending set")
	}
}

func TestBroadcastForgetsVanishedOrder(t *testing.T) {
	h := newHarness()
	h.store.forceDispatchedAt("ghost", time.Now().Add(-time.Hour))
	h.svc.tick(context.Background())
	if h.store.isDispatched("ghost") {
		t.Fatal("missing order should be dropped from the pending set")
	}
}

func makePartnerPool(n int) []types.ID {
	pool := make([]types.ID, n)
	for i := range pool {
		pool[i] = types.ID(fmt.Sprintf("partner_%d", i))
	}
	return pool
}

func assertSubset(t *testing.T, pool, subset []types.ID) {
	t.Helper()
	set := make(map[types.ID]bool, len(pool))
	for _, d := range pool {
		set[d] = true
	}
	for _, d := range subset {
		if !set[d] {
			t.Errorf("selected partner %s not in pool", d)
		}
	}
}

func assertUnique(t *testing.T, ids []types.ID) {
	t.Helper()
	seen := make(map[types.ID]bool, len(ids))
	for _, d := range ids {
		if seen[d] {
			t.Errorf("duplicate partner ID %s", d)
		}
		seen[d] = true
	}
}
