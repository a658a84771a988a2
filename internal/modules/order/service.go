// README: Order service implements placement, guarded status transitions and settlement.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
	"hometaste/internal/events"
	"hometaste/internal/infra"
	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Meals interface {
	Get(ctx context.Context, id types.ID) (*meal.Meal, error)
}

type Users interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

// Geocoder fills in delivery coordinates when the client sends none.
type Geocoder interface {
	Locate(ctx context.Context, parts ...string) (types.Point, error)
}

type Service struct {
	store    Store
	meals    Meals
	users    Users
	pricing  *pricing.Service
	geocoder Geocoder
	sink     events.Sink
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, meals Meals, users Users, pricing *pricing.Service, sink events.Sink, log logrus.FieldLogger) *Service {
	if sink == nil {
		sink = events.Discard
	}
	return &Service{
		store:   store,
		meals:   meals,
		users:   users,
		pricing: pricing,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) SetGeocoder(g Geocoder) { s.geocoder = g }

// SetClock replaces time.Now; tests use it to pin timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type ItemInput struct {
	MealID       types.ID
	Quantity     int
	Instructions string
}

type PlaceCommand struct {
	CustomerID           types.ID
	Items                []ItemInput
	DeliveryAddress      user.Address
	Scheduled            meal.SlotKey
	PaymentMethod        PaymentMethod
	DeliveryInstructions string
	PromoCode            string
}

type TransitionCommand struct {
	OrderID types.ID
	Target  Status
	Note    string
	Actor   Actor
}

type CancelCommand struct {
	OrderID types.ID
	Reason  string
	Actor   Actor
}

type RateCommand struct {
	OrderID  types.ID
	Actor    Actor
	Food     int
	Delivery int
	Overall  int
	Comment  string
}

// Change is one guarded status move applied inside a transaction.
type Change struct {
	To    Status
	Note  string
	Actor *types.ID
	Proof string
}

// Outcome is what a committed Change produced.
type Outcome struct {
	Events []events.Event
	Earned *types.Money
}

func validatePlace(cmd PlaceCommand) error {
	if cmd.CustomerID == "" || len(cmd.Items) == 0 || !cmd.PaymentMethod.Valid() {
		return ErrBadRequest
	}
	for _, it := range cmd.Items {
		if it.MealID == "" || it.Quantity < 1 {
			return ErrBadRequest
		}
	}
	if _, err := time.Parse(meal.DateLayout, cmd.Scheduled.Date); err != nil || cmd.Scheduled.Start == "" {
		return ErrBadRequest
	}
	if strings.TrimSpace(cmd.DeliveryAddress.Street) == "" || strings.TrimSpace(cmd.DeliveryAddress.City) == "" {
		return ErrBadRequest
	}
	return nil
}

// Place validates every line item, reserves slot quantities and creates the order in one
// transaction; any failure leaves no reservation behind.
func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if err := validatePlace(cmd); err != nil {
		return nil, err
	}
	now := s.now()

	first, err := s.meals.Get(ctx, cmd.Items[0].MealID)
	if errors.Is(err, meal.ErrNotFound) {
		return nil, ErrMealUnavailable
	}
	if err != nil {
		return nil, err
	}
	kitchen, err := s.users.Get(ctx, first.KitchenID)
	if err != nil {
		return nil, err
	}
	dropoff := cmd.DeliveryAddress
	if dropoff.Coordinates.IsZero() && s.geocoder != nil {
		p, err := s.geocoder.Locate(ctx, dropoff.Street, dropoff.City, dropoff.State, dropoff.ZipCode)
		if err != nil {
			s.log.WithError(err).Warn("geocode delivery address failed")
		} else {
			dropoff.Coordinates = p
		}
	}
	fee := s.pricing.DeliveryFee(ctx, kitchen.Address.Coordinates, dropoff.Coordinates)
	promo, err := s.pricing.Promo(ctx, cmd.PromoCode, now)
	if err != nil {
		return nil, err
	}

	var placed *Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o := &Order{
			ID:              types.NewID(),
			CustomerID:      cmd.CustomerID,
			KitchenID:       first.KitchenID,
			PickupAddress:   kitchen.Address,
			DeliveryAddress: dropoff,
			Scheduled:       Schedule{Date: cmd.Scheduled.Date, Start: cmd.Scheduled.Start},
			IsScheduled:     cmd.Scheduled.Date > now.Format(meal.DateLayout),
			Status:          StatusPending,
			Payment: Payment{
				Method: cmd.PaymentMethod,
				Status: PaymentPending,
			},
			DeliveryInstructions: cmd.DeliveryInstructions,
			PromoCode:            strings.ToUpper(strings.TrimSpace(cmd.PromoCode)),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		subtotal := types.NewMoney(0, s.pricing.Currency())
		for _, it := range cmd.Items {
			m, err := tx.Meals().Get(ctx, it.MealID)
			if errors.Is(err, meal.ErrNotFound) {
				return ErrMealUnavailable
			}
			if err != nil {
				return err
			}
			if !m.Active {
				return ErrMealUnavailable
			}
			if m.KitchenID != o.KitchenID {
				return ErrMultiKitchenOrder
			}
			slot := m.Slot(cmd.Scheduled)
			if slot == nil || slot.Remaining < it.Quantity {
				return ErrMealUnavailable
			}
			if err := tx.Meals().Reserve(ctx, m.ID, cmd.Scheduled, it.Quantity); err != nil {
				if errors.Is(err, meal.ErrInsufficientAvailability) || errors.Is(err, meal.ErrSlotNotFound) {
					return ErrMealUnavailable
				}
				return err
			}
			if o.Scheduled.End == "" {
				o.Scheduled.End = slot.End
			} else if o.Scheduled.End != slot.End {
				return ErrSlotMismatch
			}
			o.Items = append(o.Items, Item{
				MealID:       m.ID,
				Name:         m.Name,
				Quantity:     it.Quantity,
				UnitPrice:    m.Price.Amount,
				Instructions: it.Instructions,
			})
			subtotal = subtotal.Add(types.NewMoney(m.Price.Amount, subtotal.Currency).Mul(int64(it.Quantity)))
		}
		o.Pricing = s.pricing.Compute(subtotal, fee, promo)
		if eta, err := time.ParseInLocation(meal.DateLayout+" 15:04", o.Scheduled.Date+" "+o.Scheduled.End, now.Location()); err == nil {
			o.EstimatedDeliveryTime = &eta
		}

		inserted := false
		for attempt := 0; attempt < maxNumberAttempts && !inserted; attempt++ {
			o.Number = NewNumber(now)
			ok, err := tx.Insert(ctx, o)
			if err != nil {
				return err
			}
			inserted = ok
		}
		if !inserted {
			return ErrNumberExhausted
		}
		h := HistoryEntry{Status: StatusPending, At: now, Note: "Order placed", Actor: cmd.CustomerID.Ptr()}
		if err := tx.AppendHistory(ctx, o.ID, h); err != nil {
			return err
		}
		o.History = []HistoryEntry{h}
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"order_id":     placed.ID,
		"order_number": placed.Number,
		"kitchen_id":   placed.KitchenID,
		"total":        placed.Pricing.Total,
	}).Info("order placed")
	s.Publish(ctx, newOrderEvent(placed))
	return placed, nil
}

// Transition moves an order to target through the state machine. Assignment is not
// reachable here; it needs a partner to accept the order.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	if !cmd.Target.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.Target == StatusAssigned {
		return nil, ErrPartnerRequired
	}
	if cmd.Target == StatusRefunded {
		return nil, ErrInvalidTransition
	}
	note := cmd.Note
	if note == "" {
		note = "Status updated to " + string(cmd.Target)
	}
	return s.mutate(ctx, cmd.OrderID, func(ctx context.Context, tx Tx, o *Order) (Outcome, error) {
		if !CanTransition(o.Status, cmd.Target) {
			return Outcome{}, ErrInvalidTransition
		}
		if err := authorizeTransition(o, cmd.Actor, cmd.Target); err != nil {
			return Outcome{}, err
		}
		return s.Apply(ctx, tx, o, Change{To: cmd.Target, Note: note, Actor: cmd.Actor.ID.Ptr()})
	})
}

// Cancel is a transition to cancelled that records who cancelled and why.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	return s.mutate(ctx, cmd.OrderID, func(ctx context.Context, tx Tx, o *Order) (Outcome, error) {
		if !cmd.Actor.Admin() && o.CustomerID != cmd.Actor.ID && o.KitchenID != cmd.Actor.ID {
			return Outcome{}, ErrForbidden
		}
		o.Cancellation = &Cancellation{Reason: cmd.Reason, By: cmd.Actor.ID, At: s.now()}
		note := "Order cancelled"
		if cmd.Reason != "" {
			note += ": " + cmd.Reason
		}
		return s.Apply(ctx, tx, o, Change{To: StatusCancelled, Note: note, Actor: cmd.Actor.ID.Ptr()})
	})
}

// Rate attaches the customer's rating to a delivered order, once.
func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Order, error) {
	for _, v := range []int{cmd.Food, cmd.Delivery, cmd.Overall} {
		if v < 1 || v > 5 {
			return nil, ErrBadRequest
		}
	}
	return s.mutate(ctx, cmd.OrderID, func(ctx context.Context, tx Tx, o *Order) (Outcome, error) {
		if o.CustomerID != cmd.Actor.ID {
			return Outcome{}, ErrForbidden
		}
		if o.Status != StatusDelivered {
			return Outcome{}, ErrNotDelivered
		}
		if o.Rating != nil {
			return Outcome{}, ErrAlreadyRated
		}
		version := o.Version
		o.Rating = &Rating{
			Food:      cmd.Food,
			Delivery:  cmd.Delivery,
			Overall:   cmd.Overall,
			Comment:   cmd.Comment,
			CreatedAt: s.now(),
		}
		o.Version = version + 1
		o.UpdatedAt = s.now()
		ok, err := tx.Update(ctx, o, o.Status, version)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, ErrConflict
		}
		return Outcome{}, nil
	})
}

// mutate runs fn on the locked order in one transaction and publishes its events after
// commit.
func (s *Service) mutate(ctx context.Context, id types.ID, fn func(ctx context.Context, tx Tx, o *Order) (Outcome, error)) (*Order, error) {
	var (
		out *Order
		res Outcome
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		res, err = fn(ctx, tx, o)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, res.Events...)
	return out, nil
}

// kitchenTargets are the statuses a kitchen may set on its own orders. Pickup and
// delivery belong to the bound partner so settlement cannot be triggered by the kitchen.
var kitchenTargets = map[Status]bool{
	StatusConfirmed:      true,
	StatusPreparing:      true,
	StatusReadyForPickup: true,
	StatusCancelled:      true,
}

func authorizeTransition(o *Order, a Actor, target Status) error {
	switch {
	case a.Admin():
		return nil
	case a.Role == user.RoleKitchen && o.KitchenID == a.ID && kitchenTargets[target]:
		return nil
	case a.Role == user.RoleDeliveryPartner && o.BoundTo(a.ID):
		return nil
	case a.Role == user.RoleCustomer && o.CustomerID == a.ID && target == StatusCancelled:
		return nil
	}
	return ErrForbidden
}

// Apply is the single entry point for status changes. It must run inside tx on an order
// loaded with GetForUpdate; side effects of the target status (slot release, settlement,
// partner availability) are written through the same tx.
func (s *Service) Apply(ctx context.Context, tx Tx, o *Order, c Change) (Outcome, error) {
	if !CanTransition(o.Status, c.To) {
		return Outcome{}, ErrInvalidTransition
	}
	from, version := o.Status, o.Version
	now := s.now()
	var res Outcome

	switch c.To {
	case StatusCancelled:
		if from.HoldsReservation() {
			for _, it := range o.Items {
				if err := tx.Meals().Release(ctx, it.MealID, o.Scheduled.SlotKey(), it.Quantity); err != nil {
					return Outcome{}, err
				}
			}
		}
		if o.DeliveryPartnerID != nil && from.ActiveDelivery() {
			if err := s.freePartner(ctx, tx, *o.DeliveryPartnerID, o.ID); err != nil {
				return Outcome{}, err
			}
		}
		if o.Cancellation == nil {
			by := types.ID("")
			if c.Actor != nil {
				by = *c.Actor
			}
			o.Cancellation = &Cancellation{Reason: c.Note, By: by, At: now}
		}
		if o.Payment.Status == PaymentPaid {
			o.Payment.Status = PaymentRefunded
		}
	case StatusDelivered:
		o.ActualDeliveryTime = &now
		o.DeliveryProof = c.Proof
		if o.Payment.Method == PaymentCash {
			o.Payment.Status = PaymentPaid
		}
		earned, err := s.settle(ctx, tx, o, now)
		if err != nil {
			return Outcome{}, err
		}
		res.Earned = &earned
	}

	o.Status = c.To
	o.Version = version + 1
	o.UpdatedAt = now
	ok, err := tx.Update(ctx, o, from, version)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, ErrConflict
	}
	h := HistoryEntry{Status: c.To, At: now, Note: c.Note, Actor: c.Actor}
	if err := tx.AppendHistory(ctx, o.ID, h); err != nil {
		return Outcome{}, err
	}
	o.History = append(o.History, h)
	res.Events = append(res.Events, StatusEvent(o, c.Note))
	return res, nil
}

// settle credits the partner's share of the delivery fee, bumps the kitchen counter and
// frees the partner when no other active delivery remains.
func (s *Service) settle(ctx context.Context, tx Tx, o *Order, now time.Time) (types.Money, error) {
	if o.DeliveryPartnerID == nil {
		return types.Money{}, ErrConflict
	}
	partnerID := *o.DeliveryPartnerID
	share := earnings.PartnerShare(types.NewMoney(o.Pricing.DeliveryFee, o.Pricing.Currency))
	if err := tx.Earnings().CreditDelivery(ctx, earnings.Credit{
		PartnerID: partnerID,
		OrderID:   o.ID,
		Amount:    share,
		At:        now,
	}); err != nil {
		return types.Money{}, err
	}
	if err := tx.Earnings().IncrementKitchenOrders(ctx, o.KitchenID); err != nil {
		return types.Money{}, err
	}
	if err := s.freePartner(ctx, tx, partnerID, o.ID); err != nil {
		return types.Money{}, err
	}
	return share, nil
}

func (s *Service) freePartner(ctx context.Context, tx Tx, partnerID, orderID types.ID) error {
	n, err := tx.CountActiveForPartner(ctx, partnerID, orderID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return tx.Users().SetPartnerAvailability(ctx, partnerID, true)
}

// InTx exposes the gateway transaction to collaborating coordinators.
func (s *Service) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.store.InTx(ctx, fn)
}

// Publish hands committed events to the sink. Failures are logged, never returned.
func (s *Service) Publish(ctx context.Context, evts ...events.Event) {
	for _, e := range evts {
		if err := s.sink.Publish(ctx, e); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"kind":     apperr.KindUpstreamUnavailable,
				"event":    e.Kind,
				"order_id": e.OrderID,
			}).Warn("publish event failed")
		}
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	var o *Order
	err := infra.RetryRead(ctx, func() error {
		var err error
		o, err = s.store.Get(ctx, id)
		return err
	})
	return o, err
}

// GetFor returns the order if the actor is a party to it.
func (s *Service) GetFor(ctx context.Context, id types.ID, a Actor) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Admin() || o.CustomerID == a.ID || o.KitchenID == a.ID || o.BoundTo(a.ID) {
		return o, nil
	}
	return nil, ErrForbidden
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	var out []*Order
	err := infra.RetryRead(ctx, func() error {
		var err error
		out, err = s.store.List(ctx, f)
		return err
	})
	return out, err
}

// ActiveOrderIDs lists the orders a partner is currently delivering.
func (s *Service) ActiveOrderIDs(ctx context.Context, partnerID types.ID) ([]types.ID, error) {
	orders, err := s.List(ctx, ListFilter{PartnerID: partnerID, Statuses: ActiveDeliveryStatuses, Limit: 100})
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids, nil
}

func StatusEvent(o *Order, note string) events.Event {
	return events.Event{
		Kind:        events.KindStatusUpdate,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		KitchenID:   o.KitchenID,
		PartnerID:   o.DeliveryPartnerID,
		Status:      string(o.Status),
		Note:        note,
		At:          o.UpdatedAt,
	}
}

func newOrderEvent(o *Order) events.Event {
	return events.Event{
		Kind:        events.KindNewOrder,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		KitchenID:   o.KitchenID,
		Status:      string(o.Status),
		At:          o.CreatedAt,
	}
}
