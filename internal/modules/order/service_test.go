package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometaste/internal/apperr"
	"hometaste/internal/events"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/store/memory"
	"hometaste/internal/types"
)

var (
	slotKey  = meal.SlotKey{Date: "2026-10-20", Start: "11:00"}
	fixedNow = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *sinkRecorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *sinkRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	gw   *memory.Gateway
	svc  *order.Service
	sink *sinkRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gw := memory.New()
	log, _ := test.NewNullLogger()
	rates := pricing.Rates{BaseDeliveryFee: 3000, PerKmFee: 1000, FlatDeliveryFee: 5000, VATBasisPoints: 1300, Currency: "NPR"}
	pr := pricing.NewService(rates, nil, gw.Promos(), log)
	sink := &sinkRecorder{}
	svc := order.NewService(gw.Orders(), gw.Meals(), gw.Users(), pr, sink, log)
	svc.SetClock(func() time.Time { return fixedNow })

	users := []*user.User{
		{ID: "k1", Name: "Aama Kitchen", Email: "k1@example.com", Role: user.RoleKitchen,
			Address: user.Address{Street: "Thamel", City: "Kathmandu"}, Kitchen: &user.KitchenDetails{Verified: true}},
		{ID: "k2", Name: "Other Kitchen", Email: "k2@example.com", Role: user.RoleKitchen, Kitchen: &user.KitchenDetails{Verified: true}},
		{ID: "c1", Name: "Customer", Email: "c1@example.com", Role: user.RoleCustomer},
		{ID: "p1", Name: "Rider One", Email: "p1@example.com", Role: user.RoleDeliveryPartner, Partner: &user.PartnerDetails{Available: true}},
		{ID: "a1", Name: "Admin", Email: "a1@example.com", Role: user.RoleAdmin},
	}
	for _, u := range users {
		require.NoError(t, gw.Users().Create(ctx, u))
	}
	meals := []*meal.Meal{
		newMeal("mA", "k1", 10000, 10),
		newMeal("mB", "k1", 5000, 10),
		newMeal("mOther", "k2", 7000, 10),
	}
	off := newMeal("mOff", "k1", 4000, 10)
	off.Active = false
	meals = append(meals, off)
	for _, m := range meals {
		require.NoError(t, gw.Meals().Create(ctx, m))
	}
	return &fixture{gw: gw, svc: svc, sink: sink}
}

func newMeal(id types.ID, kitchen types.ID, price int64, qty int) *meal.Meal {
	return &meal.Meal{
		ID:        id,
		KitchenID: kitchen,
		Name:      "meal " + string(id),
		Price:     types.NewMoney(price, "NPR"),
		Category:  "lunch",
		FoodType:  "veg",
		Active:    true,
		Slots:     []meal.Slot{{Date: slotKey.Date, Start: slotKey.Start, End: "14:00", Capacity: qty, Remaining: qty}},
	}
}

func placeCmd(items ...order.ItemInput) order.PlaceCommand {
	return order.PlaceCommand{
		CustomerID:      "c1",
		Items:           items,
		DeliveryAddress: user.Address{Street: "Baneshwor", City: "Kathmandu"},
		Scheduled:       slotKey,
		PaymentMethod:   order.PaymentCash,
	}
}

func (f *fixture) remaining(t *testing.T, id types.ID) int {
	t.Helper()
	sl, ok := f.gw.Meals().Slot(id, slotKey)
	require.True(t, ok)
	return sl.Remaining
}

func (f *fixture) place(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.svc.Place(context.Background(), placeCmd(
		order.ItemInput{MealID: "mA", Quantity: 2},
		order.ItemInput{MealID: "mB", Quantity: 1},
	))
	require.NoError(t, err)
	return o
}

func (f *fixture) advance(t *testing.T, id types.ID, actor order.Actor, to ...order.Status) {
	t.Helper()
	for _, s := range to {
		_, err := f.svc.Transition(context.Background(), order.TransitionCommand{OrderID: id, Target: s, Actor: actor})
		require.NoError(t, err, "transition to %s", s)
	}
}

var kitchen = order.Actor{ID: "k1", Role: user.RoleKitchen}

func TestPlaceOrderPricing(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, types.ID("k1"), o.KitchenID)
	assert.Equal(t, pricing.Breakdown{Currency: "NPR", Subtotal: 25000, DeliveryFee: 5000, Tax: 3250, Total: 33250}, o.Pricing)
	assert.True(t, o.Pricing.Balanced())
	assert.Equal(t, "14:00", o.Scheduled.End)
	assert.True(t, o.IsScheduled)
	require.NotNil(t, o.EstimatedDeliveryTime)
	assert.Equal(t, time.Date(2026, 10, 20, 14, 0, 0, 0, time.UTC), *o.EstimatedDeliveryTime)
	require.Len(t, o.History, 1)
	assert.Equal(t, order.StatusPending, o.History[0].Status)
	assert.Equal(t, "Thamel", o.PickupAddress.Street)

	assert.Equal(t, 8, f.remaining(t, "mA"))
	assert.Equal(t, 9, f.remaining(t, "mB"))
	assert.Equal(t, []events.Kind{events.KindNewOrder}, f.sink.kinds())

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
	assert.Len(t, stored.History, 1)
}

func TestPlaceOrderWithPromo(t *testing.T) {
	f := newFixture(t)
	f.gw.Promos().Add(pricing.Promo{Code: "dashain", PercentBps: 1000, Active: true})

	cmd := placeCmd(order.ItemInput{MealID: "mA", Quantity: 2}, order.ItemInput{MealID: "mB", Quantity: 1})
	cmd.PromoCode = "dashain"
	o, err := f.svc.Place(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), o.Pricing.Discount)
	assert.Equal(t, int64(30750), o.Pricing.Total)
	assert.Equal(t, "DASHAIN", o.PromoCode)

	cmd.PromoCode = "bogus"
	_, err = f.svc.Place(context.Background(), cmd)
	assert.ErrorIs(t, err, pricing.ErrPromoNotFound)
}

func TestPlaceOrderRollsBackPartialReservation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Place(context.Background(), placeCmd(
		order.ItemInput{MealID: "mA", Quantity: 2},
		order.ItemInput{MealID: "mB", Quantity: 11},
	))
	assert.ErrorIs(t, err, order.ErrMealUnavailable)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 10, f.remaining(t, "mA"), "reservation of the first item must roll back")
	assert.Equal(t, 10, f.remaining(t, "mB"))
	assert.Empty(t, f.sink.kinds())
}

func TestPlaceOrderRejects(t *testing.T) {
	tests := []struct {
		name string
		cmd  func() order.PlaceCommand
		want error
	}{
		{"mixed kitchens", func() order.PlaceCommand {
			return placeCmd(order.ItemInput{MealID: "mA", Quantity: 1}, order.ItemInput{MealID: "mOther", Quantity: 1})
		}, order.ErrMultiKitchenOrder},
		{"inactive meal", func() order.PlaceCommand {
			return placeCmd(order.ItemInput{MealID: "mOff", Quantity: 1})
		}, order.ErrMealUnavailable},
		{"unknown meal", func() order.PlaceCommand {
			return placeCmd(order.ItemInput{MealID: "nope", Quantity: 1})
		}, order.ErrMealUnavailable},
		{"missing slot", func() order.PlaceCommand {
			c := placeCmd(order.ItemInput{MealID: "mA", Quantity: 1})
			c.Scheduled.Start = "18:00"
			return c
		}, order.ErrMealUnavailable},
		{"no items", func() order.PlaceCommand { return placeCmd() }, order.ErrBadRequest},
		{"zero quantity", func() order.PlaceCommand {
			return placeCmd(order.ItemInput{MealID: "mA", Quantity: 0})
		}, order.ErrBadRequest},
		{"bad payment method", func() order.PlaceCommand {
			c := placeCmd(order.ItemInput{MealID: "mA", Quantity: 1})
			c.PaymentMethod = "cheque"
			return c
		}, order.ErrBadRequest},
		{"bad date", func() order.PlaceCommand {
			c := placeCmd(order.ItemInput{MealID: "mA", Quantity: 1})
			c.Scheduled.Date = "tomorrow"
			return c
		}, order.ErrBadRequest},
		{"no address", func() order.PlaceCommand {
			c := placeCmd(order.ItemInput{MealID: "mA", Quantity: 1})
			c.DeliveryAddress = user.Address{}
			return c
		}, order.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Place(context.Background(), tt.cmd())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 10, f.remaining(t, "mA"))
		})
	}
}

func TestPlaceOrderRequiresOneDeliveryWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := newMeal("mLate", "k1", 6000, 10)
	late.Slots[0].End = "15:30"
	require.NoError(t, f.gw.Meals().Create(ctx, late))

	_, err := f.svc.Place(ctx, placeCmd(
		order.ItemInput{MealID: "mA", Quantity: 1},
		order.ItemInput{MealID: "mLate", Quantity: 1},
	))
	assert.ErrorIs(t, err, order.ErrSlotMismatch)
	assert.Equal(t, 10, f.remaining(t, "mA"))
	assert.Equal(t, 10, f.remaining(t, "mLate"))

	o, err := f.svc.Place(ctx, placeCmd(order.ItemInput{MealID: "mLate", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "15:30", o.Scheduled.End)
}

func TestTransitionForwardOnly(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Len(t, got.History, 1)
	assert.Equal(t, 0, got.Version)

	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing)
	_, err = f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusConfirmed, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	got, err = f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, got.Status)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.History, 3)
	assert.Equal(t, order.StatusConfirmed, got.History[1].Status)
	assert.Equal(t, types.ID("k1"), *got.History[1].Actor)
}

func TestTransitionAssignedNeedsPartner(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup)

	_, err := f.svc.Transition(context.Background(), order.TransitionCommand{OrderID: o.ID, Target: order.StatusAssigned, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrPartnerRequired)
}

func TestTransitionAuthorization(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	ctx := context.Background()

	for _, a := range []order.Actor{
		{ID: "k2", Role: user.RoleKitchen},
		{ID: "p1", Role: user.RoleDeliveryPartner},
		{ID: "c1", Role: user.RoleCustomer},
	} {
		_, err := f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusConfirmed, Actor: a})
		assert.ErrorIs(t, err, order.ErrForbidden, "actor %s", a.ID)
	}
	_, err := f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusConfirmed, Actor: order.Actor{ID: "a1", Role: user.RoleAdmin}})
	assert.NoError(t, err)

	_, err = f.svc.Transition(ctx, order.TransitionCommand{OrderID: "missing", Target: order.StatusConfirmed, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestKitchenCannotDriveDelivery(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	ctx := context.Background()
	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup)
	bindPartner(t, f, o.ID, "p1")

	_, err := f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusPickedUp, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrForbidden)

	partner := order.Actor{ID: "p1", Role: user.RoleDeliveryPartner}
	f.advance(t, o.ID, partner, order.StatusPickedUp, order.StatusOutForDelivery)
	_, err = f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: kitchen})
	assert.ErrorIs(t, err, order.ErrForbidden)

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOutForDelivery, got.Status)
	assert.Empty(t, f.gw.Earnings().Credits())
	p, err := f.gw.Users().Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p.Partner.Available)

	_, err = f.svc.Transition(ctx, order.TransitionCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: order.Actor{ID: "p2", Role: user.RoleDeliveryPartner}})
	assert.ErrorIs(t, err, order.ErrForbidden)
	f.advance(t, o.ID, partner, order.StatusDelivered)
	assert.Len(t, f.gw.Earnings().Credits(), 1)
}

func TestCancelReleasesReservationOnce(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing)
	ctx := context.Background()
	customer := order.Actor{ID: "c1", Role: user.RoleCustomer}

	got, err := f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Reason: "changed my mind", Actor: customer})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "changed my mind", got.Cancellation.Reason)
	assert.Equal(t, types.ID("c1"), got.Cancellation.By)
	assert.Equal(t, 10, f.remaining(t, "mA"))
	assert.Equal(t, 10, f.remaining(t, "mB"))

	_, err = f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Actor: customer})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, 10, f.remaining(t, "mA"))
}

func TestCancelOnlyByParties(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	_, err := f.svc.Cancel(context.Background(), order.CancelCommand{OrderID: o.ID, Actor: order.Actor{ID: "k2", Role: user.RoleKitchen}})
	assert.ErrorIs(t, err, order.ErrForbidden)
	assert.Equal(t, 8, f.remaining(t, "mA"))
}

func TestCancelAfterPickupKeepsSlots(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup)
	bindPartner(t, f, o.ID, "p1")
	f.advance(t, o.ID, order.Actor{ID: "p1", Role: user.RoleDeliveryPartner}, order.StatusPickedUp)

	_, err := f.svc.Cancel(context.Background(), order.CancelCommand{OrderID: o.ID, Actor: order.Actor{ID: "a1", Role: user.RoleAdmin}})
	require.NoError(t, err)
	assert.Equal(t, 8, f.remaining(t, "mA"), "food already left the kitchen")

	p, err := f.gw.Users().Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, p.Partner.Available)
}

func TestDeliveredRollsBackWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup)
	bindPartner(t, f, o.ID, "p1")
	partner := order.Actor{ID: "p1", Role: user.RoleDeliveryPartner}
	f.advance(t, o.ID, partner, order.StatusPickedUp, order.StatusOutForDelivery)
	before := len(f.sink.kinds())

	f.gw.SetFault(memory.FaultCredit, errors.New("ledger unavailable"))
	_, err := f.svc.Transition(context.Background(), order.TransitionCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: partner})
	require.Error(t, err)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOutForDelivery, got.Status)
	assert.Nil(t, got.ActualDeliveryTime)
	assert.Empty(t, f.gw.Earnings().Credits())
	k, _ := f.gw.Users().Get(context.Background(), "k1")
	assert.Equal(t, 0, k.Kitchen.TotalOrders)
	assert.Len(t, f.sink.kinds(), before, "no event for a rolled back transition")

	f.gw.SetFault(memory.FaultCredit, nil)
	got, err = f.svc.Transition(context.Background(), order.TransitionCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: partner})
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
	require.Len(t, f.gw.Earnings().Credits(), 1)
	assert.Equal(t, int64(3500), f.gw.Earnings().Credits()[0].Amount.Amount)
	assert.Equal(t, order.PaymentPaid, got.Payment.Status)
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	ctx := context.Background()
	customer := order.Actor{ID: "c1", Role: user.RoleCustomer}

	_, err := f.svc.Rate(ctx, order.RateCommand{OrderID: o.ID, Actor: customer, Food: 5, Delivery: 4, Overall: 5})
	assert.ErrorIs(t, err, order.ErrNotDelivered)

	f.advance(t, o.ID, kitchen, order.StatusConfirmed, order.StatusPreparing, order.StatusReadyForPickup)
	bindPartner(t, f, o.ID, "p1")
	f.advance(t, o.ID, order.Actor{ID: "p1", Role: user.RoleDeliveryPartner}, order.StatusPickedUp, order.StatusOutForDelivery, order.StatusDelivered)

	_, err = f.svc.Rate(ctx, order.RateCommand{OrderID: o.ID, Actor: customer, Food: 6, Delivery: 4, Overall: 5})
	assert.ErrorIs(t, err, order.ErrBadRequest)
	_, err = f.svc.Rate(ctx, order.RateCommand{OrderID: o.ID, Actor: order.Actor{ID: "k1", Role: user.RoleKitchen}, Food: 5, Delivery: 4, Overall: 5})
	assert.ErrorIs(t, err, order.ErrForbidden)

	got, err := f.svc.Rate(ctx, order.RateCommand{OrderID: o.ID, Actor: customer, Food: 5, Delivery: 4, Overall: 5, Comment: "mitho"})
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, "mitho", got.Rating.Comment)
	assert.Equal(t, order.StatusDelivered, got.Status)

	_, err = f.svc.Rate(ctx, order.RateCommand{OrderID: o.ID, Actor: customer, Food: 1, Delivery: 1, Overall: 1})
	assert.ErrorIs(t, err, order.ErrAlreadyRated)
}

func TestGetForParties(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	ctx := context.Background()

	_, err := f.svc.GetFor(ctx, o.ID, order.Actor{ID: "c1", Role: user.RoleCustomer})
	assert.NoError(t, err)
	_, err = f.svc.GetFor(ctx, o.ID, kitchen)
	assert.NoError(t, err)
	_, err = f.svc.GetFor(ctx, o.ID, order.Actor{ID: "p1", Role: user.RoleDeliveryPartner})
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = f.svc.GetFor(ctx, o.ID, order.Actor{ID: "a1", Role: user.RoleAdmin})
	assert.NoError(t, err)
}

func TestPricingInvariantHoldsAfterEveryMutation(t *testing.T) {
	f := newFixture(t)
	o := f.place(t)
	steps := []order.Status{order.StatusConfirmed, order.StatusPreparing, order.StatusCancelled}
	for _, s := range steps {
		f.advance(t, o.ID, kitchen, s)
		got, err := f.svc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.True(t, got.Pricing.Balanced(), "after %s", s)
	}
}

// bindPartner performs the acceptance steps directly on the gateway.
func bindPartner(t *testing.T, f *fixture, id, partnerID types.ID) {
	t.Helper()
	err := f.svc.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ok, err := tx.BindPartner(ctx, id, partnerID)
		if err != nil {
			return err
		}
		if !ok {
			return order.ErrConflict
		}
		o.DeliveryPartnerID = partnerID.Ptr()
		if _, err := f.svc.Apply(ctx, tx, o, order.Change{To: order.StatusAssigned, Actor: partnerID.Ptr()}); err != nil {
			return err
		}
		return tx.Users().SetPartnerAvailability(ctx, partnerID, false)
	})
	require.NoError(t, err)
}
