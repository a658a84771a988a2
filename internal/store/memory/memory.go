// README: In-memory persistence gateway with all-or-nothing transactions, used by tests.
package memory

import (
	"context"
	"sync"

	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type reviewKey struct {
	meal, user types.ID
}

type state struct {
	users   map[types.ID]*user.User
	meals   map[types.ID]*meal.Meal
	reviews map[reviewKey]meal.Review
	orders  map[types.ID]*order.Order
	numbers map[string]types.ID
	credits []earnings.Credit
	promos  map[string]*pricing.Promo
}

func newState() *state {
	return &state{
		users:   make(map[types.ID]*user.User),
		meals:   make(map[types.ID]*meal.Meal),
		reviews: make(map[reviewKey]meal.Review),
		orders:  make(map[types.ID]*order.Order),
		numbers: make(map[string]types.ID),
		promos:  make(map[string]*pricing.Promo),
	}
}

// Gateway holds shared state. Transactions write through to it under short critical
// sections and keep an undo log; order rows they touch stay locked until the transaction
// ends, the way SELECT ... FOR UPDATE and UPDATE hold row locks in Postgres. Readers
// outside a transaction can observe writes that are later rolled back.
type Gateway struct {
	mu     sync.RWMutex
	st     *state
	faults map[string]error
	rows   map[types.ID]*sync.Mutex
}

func New() *Gateway {
	return &Gateway{st: newState(), faults: make(map[string]error), rows: make(map[types.ID]*sync.Mutex)}
}

// Fault names accepted by SetFault.
const (
	FaultCredit       = "earnings.credit"
	FaultKitchenCount = "earnings.kitchen"
	FaultRelease      = "meal.release"
	FaultUpdate       = "order.update"
)

// SetFault makes the named operation fail with err inside transactions; nil clears it.
func (g *Gateway) SetFault(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.faults, name)
		return
	}
	g.faults[name] = err
}

func (g *Gateway) read(fn func(st *state) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.st)
}

func (g *Gateway) write(fn func(st *state) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.st)
}

func (g *Gateway) Users() *Users       { return &Users{g: g} }
func (g *Gateway) Meals() *Meals       { return &Meals{g: g} }
func (g *Gateway) Orders() *Orders     { return &Orders{g: g} }
func (g *Gateway) Earnings() *Earnings { return &Earnings{g: g} }
func (g *Gateway) Promos() *Promos     { return &Promos{g: g} }

// InTx implements order.Store. Concurrent transactions run in parallel and serialize only
// on the order rows they lock.
func (g *Gateway) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &txn{g: g, held: make(map[types.ID]*sync.Mutex)}
	defer t.unlock()
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (g *Gateway) rowLock(id types.ID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.rows[id]
	if !ok {
		l = &sync.Mutex{}
		g.rows[id] = l
	}
	return l
}

func (g *Gateway) fault(name string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.faults[name]
}

func cloneUser(u *user.User) *user.User {
	cp := *u
	if u.Kitchen != nil {
		k := *u.Kitchen
		cp.Kitchen = &k
	}
	if u.Partner != nil {
		p := *u.Partner
		if u.Partner.Location != nil {
			loc := *u.Partner.Location
			p.Location = &loc
		}
		if u.Partner.LocatedAt != nil {
			at := *u.Partner.LocatedAt
			p.LocatedAt = &at
		}
		cp.Partner = &p
	}
	return &cp
}
