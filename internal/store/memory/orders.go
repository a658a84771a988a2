package memory

import (
	"context"
	"sort"
	"time"

	"hometaste/internal/modules/order"
	"hometaste/internal/types"
)

// Orders implements order.Store.
type Orders struct {
	g *Gateway
}

func (r *Orders) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return r.g.InTx(ctx, fn)
}

func (r *Orders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	var out *order.Order
	err := r.g.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r *Orders) List(_ context.Context, f order.ListFilter) ([]*order.Order, error) {
	var out []*order.Order
	_ = r.g.read(func(st *state) error {
		for _, o := range st.orders {
			if f.Matches(o) {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.Sort {
		case order.SortScheduled:
			if a.Scheduled.Date != b.Scheduled.Date {
				return a.Scheduled.Date < b.Scheduled.Date
			}
			if a.Scheduled.Start != b.Scheduled.Start {
				return a.Scheduled.Start < b.Scheduled.Start
			}
			return a.CreatedAt.Before(b.CreatedAt)
		case order.SortDelivered:
			return deliveredAt(a).After(deliveredAt(b))
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func deliveredAt(o *order.Order) (t time.Time) {
	if o.ActualDeliveryTime != nil {
		return *o.ActualDeliveryTime
	}
	return t
}
