package memory

import (
	"context"
	"sync"
	"time"

	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// txn implements order.Tx on the shared state.
type txn struct {
	g    *Gateway
	held map[types.ID]*sync.Mutex
	undo []func(st *state)
}

// lock takes the row lock for an order and keeps it until the transaction ends.
func (t *txn) lock(id types.ID) {
	if _, ok := t.held[id]; ok {
		return
	}
	l := t.g.rowLock(id)
	l.Lock()
	t.held[id] = l
}

func (t *txn) unlock() {
	for id, l := range t.held {
		l.Unlock()
		delete(t.held, id)
	}
}

// write runs fn atomically against the shared state and records its inverse.
func (t *txn) write(fn func(st *state) (func(st *state), error)) error {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	undo, err := fn(t.g.st)
	if err != nil {
		return err
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	return nil
}

func (t *txn) rollback() {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i](t.g.st)
	}
	t.undo = nil
}

func (t *txn) fault(name string) error { return t.g.fault(name) }

func (t *txn) GetForUpdate(_ context.Context, id types.ID) (*order.Order, error) {
	t.lock(id)
	var out *order.Order
	err := t.g.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (t *txn) Insert(_ context.Context, o *order.Order) (bool, error) {
	t.lock(o.ID)
	inserted := false
	err := t.write(func(st *state) (func(*state), error) {
		if _, taken := st.numbers[o.Number]; taken {
			return nil, nil
		}
		cp := o.Clone()
		cp.History = nil
		st.orders[o.ID] = cp
		st.numbers[o.Number] = o.ID
		inserted = true
		return func(st *state) {
			delete(st.orders, o.ID)
			delete(st.numbers, o.Number)
		}, nil
	})
	return inserted, err
}

func (t *txn) Update(_ context.Context, o *order.Order, from order.Status, version int) (bool, error) {
	if err := t.fault(FaultUpdate); err != nil {
		return false, err
	}
	t.lock(o.ID)
	updated := false
	err := t.write(func(st *state) (func(*state), error) {
		cur, ok := st.orders[o.ID]
		if !ok || cur.Status != from || cur.Version != version {
			return nil, nil
		}
		cp := o.Clone()
		cp.History = cur.History
		st.orders[o.ID] = cp
		updated = true
		return func(st *state) { st.orders[o.ID] = cur }, nil
	})
	return updated, err
}

func (t *txn) AppendHistory(_ context.Context, id types.ID, h order.HistoryEntry) error {
	t.lock(id)
	if h.Actor != nil {
		h.Actor = h.Actor.Ptr()
	}
	return t.write(func(st *state) (func(*state), error) {
		o, ok := st.orders[id]
		if !ok {
			return nil, order.ErrNotFound
		}
		n := len(o.History)
		o.History = append(o.History[:n:n], h)
		return func(st *state) {
			if cur, ok := st.orders[id]; ok && len(cur.History) > n {
				cur.History = cur.History[:n:n]
			}
		}, nil
	})
}

// BindPartner is a conditional write on the shared row: of several transactions racing
// on the same order only the first sees it unbound.
func (t *txn) BindPartner(_ context.Context, id, partnerID types.ID) (bool, error) {
	t.lock(id)
	bound := false
	err := t.write(func(st *state) (func(*state), error) {
		o, ok := st.orders[id]
		if !ok || o.Status != order.StatusReadyForPickup || o.DeliveryPartnerID != nil {
			return nil, nil
		}
		o.DeliveryPartnerID = partnerID.Ptr()
		bound = true
		return func(st *state) {
			if cur, ok := st.orders[id]; ok {
				cur.DeliveryPartnerID = nil
			}
		}, nil
	})
	return bound, err
}

func (t *txn) CountActiveForPartner(_ context.Context, partnerID, exclude types.ID) (int, error) {
	n := 0
	_ = t.g.read(func(st *state) error {
		for id, o := range st.orders {
			if id != exclude && o.BoundTo(partnerID) && o.Status.ActiveDelivery() {
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (t *txn) Meals() meal.Ledger        { return txMeals{t} }
func (t *txn) Users() user.Accounts      { return txUsers{t} }
func (t *txn) Earnings() earnings.Ledger { return txEarnings{t} }

type txMeals struct{ t *txn }

func (m txMeals) Get(_ context.Context, id types.ID) (*meal.Meal, error) {
	var out *meal.Meal
	err := m.t.g.read(func(st *state) error {
		var err error
		out, err = getMeal(st, id)
		return err
	})
	return out, err
}

func (m txMeals) Reserve(_ context.Context, id types.ID, key meal.SlotKey, qty int) error {
	return m.t.write(func(st *state) (func(*state), error) {
		sl, err := slotOf(st, id, key)
		if err != nil {
			return nil, err
		}
		if err := sl.Reserve(qty); err != nil {
			return nil, err
		}
		return func(st *state) {
			if sl, err := slotOf(st, id, key); err == nil {
				_ = sl.Release(qty)
			}
		}, nil
	})
}

func (m txMeals) Release(_ context.Context, id types.ID, key meal.SlotKey, qty int) error {
	if err := m.t.fault(FaultRelease); err != nil {
		return err
	}
	return m.t.write(func(st *state) (func(*state), error) {
		sl, err := slotOf(st, id, key)
		if err != nil {
			return nil, err
		}
		before := sl.Remaining
		if err := sl.Release(qty); err != nil {
			return nil, err
		}
		returned := sl.Remaining - before
		return func(st *state) {
			if sl, err := slotOf(st, id, key); err == nil {
				sl.Remaining -= returned
			}
		}, nil
	})
}

func slotOf(st *state, id types.ID, key meal.SlotKey) (*meal.Slot, error) {
	ml, ok := st.meals[id]
	if !ok {
		return nil, meal.ErrSlotNotFound
	}
	sl := ml.Slot(key)
	if sl == nil {
		return nil, meal.ErrSlotNotFound
	}
	return sl, nil
}

type txUsers struct{ t *txn }

func (u txUsers) Get(_ context.Context, id types.ID) (*user.User, error) {
	var out *user.User
	err := u.t.g.read(func(st *state) error {
		var err error
		out, err = getUser(st, id)
		return err
	})
	return out, err
}

func (u txUsers) SetPartnerAvailability(_ context.Context, id types.ID, available bool) error {
	return u.t.write(func(st *state) (func(*state), error) {
		p, ok := st.users[id]
		if !ok || p.Partner == nil {
			return nil, user.ErrNotPartner
		}
		prev := p.Partner.Available
		p.Partner.Available = available
		return func(st *state) {
			if p, ok := st.users[id]; ok && p.Partner != nil {
				p.Partner.Available = prev
			}
		}, nil
	})
}

type txEarnings struct{ t *txn }

func (e txEarnings) CreditDelivery(_ context.Context, c earnings.Credit) error {
	if err := e.t.fault(FaultCredit); err != nil {
		return err
	}
	return e.t.write(func(st *state) (func(*state), error) {
		p, ok := st.users[c.PartnerID]
		if !ok || p.Partner == nil {
			return nil, user.ErrNotPartner
		}
		for _, existing := range st.credits {
			if existing.OrderID == c.OrderID {
				return nil, order.ErrConflict
			}
		}
		st.credits = append(st.credits, c)
		p.Partner.TotalEarnings += c.Amount.Amount
		p.Partner.TotalDeliveries++
		return func(st *state) {
			for i, existing := range st.credits {
				if existing.OrderID == c.OrderID {
					st.credits = append(st.credits[:i:i], st.credits[i+1:]...)
					break
				}
			}
			if p, ok := st.users[c.PartnerID]; ok && p.Partner != nil {
				p.Partner.TotalEarnings -= c.Amount.Amount
				p.Partner.TotalDeliveries--
			}
		}, nil
	})
}

func (e txEarnings) IncrementKitchenOrders(_ context.Context, kitchenID types.ID) error {
	if err := e.t.fault(FaultKitchenCount); err != nil {
		return err
	}
	return e.t.write(func(st *state) (func(*state), error) {
		k, ok := st.users[kitchenID]
		if !ok {
			return nil, user.ErrNotFound
		}
		if k.Kitchen == nil {
			k.Kitchen = &user.KitchenDetails{}
		}
		k.Kitchen.TotalOrders++
		return func(st *state) {
			if k, ok := st.users[kitchenID]; ok && k.Kitchen != nil {
				k.Kitchen.TotalOrders--
			}
		}, nil
	})
}

// Earnings implements earnings.Reader.
type Earnings struct {
	g *Gateway
}

func (r *Earnings) PeriodTotals(_ context.Context, partnerID types.ID, since time.Time) (earnings.Totals, error) {
	var t earnings.Totals
	_ = r.g.read(func(st *state) error {
		for _, c := range st.credits {
			if c.PartnerID == partnerID && !c.At.Before(since) {
				t.Amount += c.Amount.Amount
				t.Count++
			}
		}
		return nil
	})
	return t, nil
}

// Credits returns every committed credit.
func (r *Earnings) Credits() []earnings.Credit {
	var out []earnings.Credit
	_ = r.g.read(func(st *state) error {
		out = append(out, st.credits...)
		return nil
	})
	return out
}
