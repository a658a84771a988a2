// README: Single-assignment race against Postgres (run with -race and HOMETASTE_TEST_DSN).
package assignment_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus/hooks/test"

	"hometaste/internal/events"
	"hometaste/internal/infra"
	"hometaste/internal/modules/assignment"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// seedReadyOrder creates a kitchen, a customer, the partners and one order moved to
// ready_for_pickup.
func seedReadyOrder(t *testing.T, pool *pgxpool.Pool) (*order.Service, *order.PGStore, *order.Order) {
	t.Helper()
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	users := user.NewStore(pool)
	meals := meal.NewStore(pool)
	seed := []*user.User{
		{ID: "k1", Name: "Kitchen", Email: "k1@example.com", Role: user.RoleKitchen,
			Address: user.Address{Street: "Patan", City: "Lalitpur"}, Kitchen: &user.KitchenDetails{Verified: true}},
		{ID: "c1", Name: "Customer", Email: "c1@example.com", Role: user.RoleCustomer},
	}
	for i := 0; i < partners; i++ {
		seed = append(seed, &user.User{ID: partnerID(i), Name: "Rider", Email: string(partnerID(i)) + "@example.com",
			Role: user.RoleDeliveryPartner, Partner: &user.PartnerDetails{Available: true}})
	}
	for _, u := range seed {
		if err := users.Create(ctx, u); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
	}
	mealID := types.NewID()
	if err := meals.Create(ctx, &meal.Meal{
		ID: mealID, KitchenID: "k1", Name: "Momo", Price: types.NewMoney(15000, "NPR"),
		Category: "lunch", FoodType: "veg", Cuisine: "nepali", Active: true,
		Slots: []meal.Slot{{Date: early.Date, Start: early.Start, End: "13:00", Capacity: 5, Remaining: 5}},
	}); err != nil {
		t.Fatalf("create meal: %v", err)
	}

	rates := pricing.Rates{FlatDeliveryFee: 5000, VATBasisPoints: 1300, Currency: "NPR"}
	store := order.NewPGStore(pool)
	orders := order.NewService(store, meals, users, pricing.NewService(rates, nil, nil, log), events.Discard, log)

	o, err := orders.Place(ctx, order.PlaceCommand{
		CustomerID:      "c1",
		Items:           []order.ItemInput{{MealID: mealID, Quantity: 1}},
		DeliveryAddress: user.Address{Street: "Jawalakhel", City: "Lalitpur"},
		Scheduled:       early,
		PaymentMethod:   order.PaymentCash,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	kitchen := order.Actor{ID: "k1", Role: user.RoleKitchen}
	for _, s := range []order.Status{order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup} {
		if _, err := orders.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: s, Actor: kitchen}); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	return orders, store, o
}

func TestPostgresConcurrentAccept(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(t)
	log, _ := test.NewNullLogger()
	orders, _, o := seedReadyOrder(t, pool)
	svc := assignment.NewService(orders, log)

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, partners)
	for i := 0; i < partners; i++ {
		wg.Add(1)
		go func(pid types.ID) {
			defer wg.Done()
			<-start
			_, err := svc.Accept(ctx, o.ID, pid)
			errs <- err
		}(partnerID(i))
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != assignment.ErrAlreadyAssigned {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != order.StatusAssigned || got.DeliveryPartnerID == nil {
		t.Fatalf("unexpected final state: %s %v", got.Status, got.DeliveryPartnerID)
	}
}

func TestPostgresBindPartnerAlreadyBound(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(t)
	_, store, o := seedReadyOrder(t, pool)

	bind := func(partner types.ID) bool {
		var bound bool
		err := store.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			var err error
			bound, err = tx.BindPartner(ctx, o.ID, partner)
			return err
		})
		if err != nil {
			t.Fatalf("bind %s: %v", partner, err)
		}
		return bound
	}
	if !bind(partnerID(0)) {
		t.Fatal("first bind should succeed")
	}
	if bind(partnerID(1)) {
		t.Fatal("second bind must fail while a partner is bound")
	}
	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.DeliveryPartnerID == nil || *got.DeliveryPartnerID != partnerID(0) {
		t.Fatalf("unexpected partner %v", got.DeliveryPartnerID)
	}
}

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("HOMETASTE_TEST_DSN")
	if dsn == "" {
		t.Skip("HOMETASTE_TEST_DSN not set; skipping DB-backed race tests")
	}
	if err := infra.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	pool, err := infra.NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "TRUNCATE TABLE order_status_history, earnings_entries, orders, meal_reviews, meal_slots, meals, promo_codes, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return pool
}
