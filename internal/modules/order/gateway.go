// README: Persistence gateway the order engine runs against (Postgres or in-memory).
package order

import (
	"context"
	"time"

	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// Tx is one all-or-nothing unit of work. Nothing written through a Tx is visible to
// others until the function passed to Store.InTx returns nil.
type Tx interface {
	// GetForUpdate loads the order with its history and holds it until the tx ends.
	GetForUpdate(ctx context.Context, id types.ID) (*Order, error)
	// Insert stores a new order. It reports false when the order number is taken.
	Insert(ctx context.Context, o *Order) (bool, error)
	// Update writes the mutable fields of o if the stored row is still at (from, version).
	// o.Version must already hold the next version.
	Update(ctx context.Context, o *Order, from Status, version int) (bool, error)
	AppendHistory(ctx context.Context, id types.ID, h HistoryEntry) error
	// BindPartner sets the partner only while the order is ready_for_pickup and unbound.
	BindPartner(ctx context.Context, id, partnerID types.ID) (bool, error)
	// CountActiveForPartner counts orders bound to the partner in an active delivery
	// status, excluding one order id.
	CountActiveForPartner(ctx context.Context, partnerID, exclude types.ID) (int, error)

	Meals() meal.Ledger
	Users() user.Accounts
	Earnings() earnings.Ledger
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
}

type SortOrder int

const (
	SortNewest SortOrder = iota
	SortScheduled
	SortDelivered
)

// ListFilter narrows order listings. Zero values do not filter.
type ListFilter struct {
	CustomerID    types.ID
	KitchenID     types.ID
	PartnerID     types.ID
	Statuses      []Status
	Unassigned    bool
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	DeliveredFrom *time.Time
	DeliveredTo   *time.Time
	Sort          SortOrder
	Limit         int
	Offset        int
}

// Matches applies the filter to one order; the in-memory gateway uses it.
func (f ListFilter) Matches(o *Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.KitchenID != "" && o.KitchenID != f.KitchenID {
		return false
	}
	if f.PartnerID != "" && !o.BoundTo(f.PartnerID) {
		return false
	}
	if f.Unassigned && o.DeliveryPartnerID != nil {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && !o.CreatedAt.Before(*f.CreatedTo) {
		return false
	}
	if f.DeliveredFrom != nil || f.DeliveredTo != nil {
		if o.ActualDeliveryTime == nil {
			return false
		}
		if f.DeliveredFrom != nil && o.ActualDeliveryTime.Before(*f.DeliveredFrom) {
			return false
		}
		if f.DeliveredTo != nil && o.ActualDeliveryTime.After(*f.DeliveredTo) {
			return false
		}
	}
	return true
}
