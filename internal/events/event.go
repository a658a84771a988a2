// README: Domain events emitted after an order mutation commits.
package events

import (
	"context"
	"errors"
	"time"

	"hometaste/internal/types"
)

type Kind string

const (
	KindStatusUpdate     Kind = "status_update"
	KindDeliveryAssigned Kind = "delivery_assigned"
	KindLocationUpdate   Kind = "location_update"
	KindNewOrder         Kind = "new_order"
)

type Event struct {
	Kind        Kind         `json:"type"`
	OrderID     types.ID     `json:"orderId"`
	OrderNumber string       `json:"orderNumber,omitempty"`
	CustomerID  types.ID     `json:"customerId,omitempty"`
	KitchenID   types.ID     `json:"kitchenId,omitempty"`
	PartnerID   *types.ID    `json:"deliveryPartnerId,omitempty"`
	Status      string       `json:"status,omitempty"`
	Note        string       `json:"note,omitempty"`
	Location    *types.Point `json:"location,omitempty"`
	At          time.Time    `json:"timestamp"`
}

func OrderChannel(id types.ID) string { return "order:" + string(id) }

func KitchenChannel(id types.ID) string { return "kitchen:" + string(id) }

// Channels lists the real-time topics an event is broadcast on.
func (e Event) Channels() []string {
	switch e.Kind {
	case KindNewOrder:
		return []string{KitchenChannel(e.KitchenID)}
	case KindStatusUpdate:
		if e.KitchenID != "" {
			return []string{OrderChannel(e.OrderID), KitchenChannel(e.KitchenID)}
		}
	}
	return []string{OrderChannel(e.OrderID)}
}

// Sink receives committed events. Implementations may block on network I/O; callers on a
// request path go through a Dispatcher.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
