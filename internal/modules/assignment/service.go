// README: Assignment coordinator: lists assignable orders, binds exactly one partner per order
// and completes deliveries through the order state machine.
package assignment

import (
	"context"

	"github.com/sirupsen/logrus"

	"hometaste/internal/events"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// Orders is the part of the order engine the coordinator drives. *order.Service
// satisfies it.
type Orders interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error
	Apply(ctx context.Context, tx order.Tx, o *order.Order, c order.Change) (order.Outcome, error)
	Publish(ctx context.Context, evts ...events.Event)
	List(ctx context.Context, f order.ListFilter) ([]*order.Order, error)
}

type Service struct {
	orders Orders
	log    logrus.FieldLogger
}

func NewService(orders Orders, log logrus.FieldLogger) *Service {
	return &Service{orders: orders, log: log}
}

// ListAssignable returns unbound ready_for_pickup orders, earliest slot first.
func (s *Service) ListAssignable(ctx context.Context, limit int) ([]*order.Order, error) {
	return s.orders.List(ctx, order.ListFilter{
		Statuses:   []order.Status{order.StatusReadyForPickup},
		Unassigned: true,
		Sort:       order.SortScheduled,
		Limit:      limit,
	})
}

// Accept binds partnerID to the order. The bind is conditional on the order still being
// unbound, so of several concurrent callers exactly one succeeds and the rest get
// ErrAlreadyAssigned.
func (s *Service) Accept(ctx context.Context, orderID, partnerID types.ID) (*order.Order, error) {
	var (
		accepted *order.Order
		res      order.Outcome
	)
	err := s.orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.DeliveryPartnerID != nil {
			return ErrAlreadyAssigned
		}
		if o.Status != order.StatusReadyForPickup {
			return ErrNotAssignable
		}
		p, err := tx.Users().Get(ctx, partnerID)
		if err != nil {
			return err
		}
		if p.Role != user.RoleDeliveryPartner {
			return ErrNotPartner
		}
		ok, err := tx.BindPartner(ctx, orderID, partnerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyAssigned
		}
		o.DeliveryPartnerID = partnerID.Ptr()
		res, err = s.orders.Apply(ctx, tx, o, order.Change{
			To:    order.StatusAssigned,
			Note:  "Delivery partner assigned",
			Actor: partnerID.Ptr(),
		})
		if err != nil {
			return err
		}
		if err := tx.Users().SetPartnerAvailability(ctx, partnerID, false); err != nil {
			return err
		}
		accepted = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"order_id":   accepted.ID,
		"partner_id": partnerID,
	}).Info("delivery accepted")

	assigned := order.StatusEvent(accepted, "Delivery partner assigned")
	assigned.Kind = events.KindDeliveryAssigned
	s.orders.Publish(ctx, append(res.Events, assigned)...)
	return accepted, nil
}

// Complete delivers the order on behalf of its bound partner and returns the credited
// share of the delivery fee.
func (s *Service) Complete(ctx context.Context, orderID, partnerID types.ID, proof string) (*order.Order, Completion, error) {
	var (
		done *order.Order
		res  order.Outcome
	)
	err := s.orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.BoundTo(partnerID) {
			return ErrNotAuthorized
		}
		res, err = s.orders.Apply(ctx, tx, o, order.Change{
			To:    order.StatusDelivered,
			Note:  "Order delivered",
			Actor: partnerID.Ptr(),
			Proof: proof,
		})
		if err != nil {
			return err
		}
		done = o
		return nil
	})
	if err != nil {
		return nil, Completion{}, err
	}
	c := Completion{OrderID: done.ID}
	if res.Earned != nil {
		c.Earned = *res.Earned
	}
	s.log.WithFields(logrus.Fields{
		"order_id":   done.ID,
		"partner_id": partnerID,
		"earned":     c.Earned.Amount,
	}).Info("delivery completed")
	s.orders.Publish(ctx, res.Events...)
	return done, c, nil
}

// Active lists the partner's orders in assigned, picked_up or out_for_delivery.
func (s *Service) Active(ctx context.Context, partnerID types.ID) ([]*order.Order, error) {
	return s.orders.List(ctx, order.ListFilter{
		PartnerID: partnerID,
		Statuses:  order.ActiveDeliveryStatuses,
		Sort:      order.SortScheduled,
		Limit:     100,
	})
}

// History pages through delivered orders, most recent delivery first.
func (s *Service) History(ctx context.Context, partnerID types.ID, q HistoryQuery) ([]*order.Order, error) {
	q = q.normalize()
	return s.orders.List(ctx, order.ListFilter{
		PartnerID:     partnerID,
		Statuses:      []order.Status{order.StatusDelivered},
		DeliveredFrom: q.Start,
		DeliveredTo:   q.End,
		Sort:          order.SortDelivered,
		Limit:         q.Limit,
		Offset:        (q.Page - 1) * q.Limit,
	})
}
