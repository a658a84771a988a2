package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/store/memory"
	"hometaste/internal/types"
)

var slot = meal.SlotKey{Date: "2026-10-20", Start: "11:00"}

func seedReady(t *testing.T, gw *memory.Gateway, id types.ID) {
	t.Helper()
	err := gw.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		ok, err := tx.Insert(ctx, &order.Order{ID: id, Number: "HT" + string(id), CustomerID: "c1", KitchenID: "k1", Status: order.StatusReadyForPickup})
		if err == nil && !ok {
			err = errors.New("order number taken")
		}
		return err
	})
	require.NoError(t, err)
}

func bind(gw *memory.Gateway, id, partner types.ID) (bool, error) {
	var bound bool
	err := gw.InTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
		var err error
		bound, err = tx.BindPartner(ctx, id, partner)
		return err
	})
	return bound, err
}

func TestBindPartnerOnlyWhileUnbound(t *testing.T) {
	gw := memory.New()
	seedReady(t, gw, "o1")

	ok, err := bind(gw, "o1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bind(gw, "o1", "p2")
	require.NoError(t, err)
	assert.False(t, ok, "order already has a partner")

	ok, err = bind(gw, "missing", "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := gw.Orders().Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, types.ID("p1"), *got.DeliveryPartnerID)
}

func TestBindPartnerConcurrentSingleWinner(t *testing.T) {
	gw := memory.New()
	seedReady(t, gw, "o1")

	const racers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner []types.ID
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(p types.ID) {
			defer wg.Done()
			<-start
			ok, err := bind(gw, "o1", p)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winner = append(winner, p)
				mu.Unlock()
			}
		}(types.ID(fmt.Sprintf("p%d", i)))
	}
	close(start)
	wg.Wait()

	require.Len(t, winner, 1)
	got, err := gw.Orders().Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, winner[0], *got.DeliveryPartnerID)
}

func TestRollbackUndoesWrites(t *testing.T) {
	gw := memory.New()
	ctx := context.Background()
	require.NoError(t, gw.Users().Create(ctx, &user.User{ID: "p1", Role: user.RoleDeliveryPartner}))
	require.NoError(t, gw.Meals().Create(ctx, &meal.Meal{ID: "m1", KitchenID: "k1", Active: true,
		Slots: []meal.Slot{{Date: slot.Date, Start: slot.Start, End: "14:00", Capacity: 5, Remaining: 5}}}))
	seedReady(t, gw, "o1")

	boom := errors.New("boom")
	err := gw.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.Meals().Reserve(ctx, "m1", slot, 3))
		ok, err := tx.Insert(ctx, &order.Order{ID: "o2", Number: "HTo2", Status: order.StatusPending})
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = tx.BindPartner(ctx, "o1", "p1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.AppendHistory(ctx, "o1", order.HistoryEntry{Status: order.StatusAssigned}))
		require.NoError(t, tx.Users().SetPartnerAvailability(ctx, "p1", false))
		return boom
	})
	require.ErrorIs(t, err, boom)

	sl, ok := gw.Meals().Slot("m1", slot)
	require.True(t, ok)
	assert.Equal(t, 5, sl.Remaining)
	_, err = gw.Orders().Get(ctx, "o2")
	assert.ErrorIs(t, err, order.ErrNotFound)
	o1, err := gw.Orders().Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, o1.DeliveryPartnerID)
	assert.Empty(t, o1.History)
	p, err := gw.Users().Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Partner.Available)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	gw := memory.New()
	ctx := context.Background()
	require.NoError(t, gw.Meals().Create(ctx, &meal.Meal{ID: "m1", KitchenID: "k1", Active: true,
		Slots: []meal.Slot{{Date: slot.Date, Start: slot.Start, End: "14:00", Capacity: 10, Remaining: 10}}}))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gw.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
				return tx.Meals().Reserve(ctx, "m1", slot, 1)
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, meal.ErrInsufficientAvailability)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	sl, _ := gw.Meals().Slot("m1", slot)
	assert.Equal(t, 0, sl.Remaining)
}
