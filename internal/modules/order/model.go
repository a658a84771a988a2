// README: Order aggregate and status definitions.
package order

import (
	"time"

	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/pricing"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusAssigned       Status = "assigned"
	StatusPickedUp       Status = "picked_up"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// AllowedTransitions represents the order state flow as code. Any non-terminal status may
// also move to cancelled. Refunds run through a separate operation.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed},
	StatusConfirmed:      {StatusPreparing},
	StatusPreparing:      {StatusReadyForPickup},
	StatusReadyForPickup: {StatusAssigned},
	StatusAssigned:       {StatusPickedUp},
	StatusPickedUp:       {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReadyForPickup, StatusAssigned,
		StatusPickedUp, StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// ActiveDelivery reports whether a partner bound to an order in s is busy with it.
func (s Status) ActiveDelivery() bool {
	return s == StatusAssigned || s == StatusPickedUp || s == StatusOutForDelivery
}

// HoldsReservation reports whether slot quantities are still reserved and would be
// released by a cancellation.
func (s Status) HoldsReservation() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReadyForPickup, StatusAssigned:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from.Valid() && !from.Terminal()
	}
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var ActiveDeliveryStatuses = []Status{StatusAssigned, StatusPickedUp, StatusOutForDelivery}

type Item struct {
	MealID       types.ID `json:"meal"`
	Name         string   `json:"name"`
	Quantity     int      `json:"quantity"`
	UnitPrice    int64    `json:"price"`
	Instructions string   `json:"specialInstructions,omitempty"`
}

// Schedule is the meal slot the order was placed against.
type Schedule struct {
	Date  string `json:"date"`
	Start string `json:"startTime"`
	End   string `json:"endTime"`
}

func (s Schedule) SlotKey() meal.SlotKey {
	return meal.SlotKey{Date: s.Date, Start: s.Start}
}

type HistoryEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"timestamp"`
	Note   string    `json:"note,omitempty"`
	Actor  *types.ID `json:"updatedBy,omitempty"`
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentWallet:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "completed"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID *string       `json:"transactionId,omitempty"`
}

type Rating struct {
	Food      int       `json:"food"`
	Delivery  int       `json:"delivery"`
	Overall   int       `json:"overall"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Cancellation struct {
	Reason string    `json:"reason"`
	By     types.ID  `json:"cancelledBy"`
	At     time.Time `json:"cancelledAt"`
}

type Order struct {
	ID                    types.ID          `json:"id"`
	Number                string            `json:"orderNumber"`
	CustomerID            types.ID          `json:"customer"`
	KitchenID             types.ID          `json:"homeKitchen"`
	DeliveryPartnerID     *types.ID         `json:"deliveryPartner,omitempty"`
	Items                 []Item            `json:"items"`
	PickupAddress         user.Address      `json:"pickupAddress"`
	DeliveryAddress       user.Address      `json:"deliveryAddress"`
	Scheduled             Schedule          `json:"scheduledTime"`
	IsScheduled           bool              `json:"isScheduled"`
	Status                Status            `json:"status"`
	Version               int               `json:"version"`
	History               []HistoryEntry    `json:"statusHistory"`
	Pricing               pricing.Breakdown `json:"pricing"`
	Payment               Payment           `json:"payment"`
	DeliveryInstructions  string            `json:"deliveryInstructions,omitempty"`
	PromoCode             string            `json:"promoCode,omitempty"`
	EstimatedDeliveryTime *time.Time        `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime    *time.Time        `json:"actualDeliveryTime,omitempty"`
	DeliveryProof         string            `json:"deliveryProof,omitempty"`
	Rating                *Rating           `json:"rating,omitempty"`
	Cancellation          *Cancellation     `json:"cancellation,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	cp := *o
	if o.DeliveryPartnerID != nil {
		cp.DeliveryPartnerID = o.DeliveryPartnerID.Ptr()
	}
	cp.Items = append([]Item(nil), o.Items...)
	cp.History = make([]HistoryEntry, len(o.History))
	for i, h := range o.History {
		cp.History[i] = h
		if h.Actor != nil {
			cp.History[i].Actor = h.Actor.Ptr()
		}
	}
	if o.Payment.TransactionID != nil {
		v := *o.Payment.TransactionID
		cp.Payment.TransactionID = &v
	}
	cp.EstimatedDeliveryTime = cloneTime(o.EstimatedDeliveryTime)
	cp.ActualDeliveryTime = cloneTime(o.ActualDeliveryTime)
	if o.Rating != nil {
		r := *o.Rating
		cp.Rating = &r
	}
	if o.Cancellation != nil {
		c := *o.Cancellation
		cp.Cancellation = &c
	}
	return &cp
}

// BoundTo reports whether partnerID is the order's delivery partner.
func (o *Order) BoundTo(partnerID types.ID) bool {
	return o.DeliveryPartnerID != nil && *o.DeliveryPartnerID == partnerID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Actor is the authenticated caller of an order operation.
type Actor struct {
	ID   types.ID
	Role user.Role
}

func (a Actor) Admin() bool { return a.Role == user.RoleAdmin }
