// README: Notification jobs derived from order events.
package notify

import (
	"fmt"

	"hometaste/internal/events"
	"hometaste/internal/modules/order"
	"hometaste/internal/types"
)

const (
	JobStatusUpdate = "status_update"
	JobNewOrder     = "new_order"
	JobNewDelivery  = "new_delivery"
)

// Job is one message for one user. It travels through the queue as JSON.
type Job struct {
	Kind        string   `json:"kind"`
	UserID      types.ID `json:"user_id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	OrderID     types.ID `json:"order_id"`
	OrderNumber string   `json:"order_number"`
	Status      string   `json:"status,omitempty"`
}

var customerMessages = map[order.Status]string{
	order.StatusPending:        "Your order #%s has been placed and is waiting for the kitchen to confirm.",
	order.StatusConfirmed:      "Your order #%s has been confirmed! Your meal is being prepared with love.",
	order.StatusReadyForPickup: "Your order #%s is ready for pickup! Our delivery partner will collect it soon.",
	order.StatusOutForDelivery: "Your order #%s is on its way! Get ready to enjoy your home-cooked meal.",
	order.StatusDelivered:      "Your order #%s has been delivered! Enjoy your meal!",
	order.StatusCancelled:      "Your order #%s has been cancelled.",
}

// JobsFor maps an event to the messages it triggers; most events trigger none.
func JobsFor(e events.Event) []Job {
	switch e.Kind {
	case events.KindNewOrder:
		jobs := []Job{{
			Kind:        JobNewOrder,
			UserID:      e.KitchenID,
			Title:       "New order",
			Body:        fmt.Sprintf("You have a new order #%s.", e.OrderNumber),
			OrderID:     e.OrderID,
			OrderNumber: e.OrderNumber,
			Status:      e.Status,
		}}
		if e.CustomerID != "" {
			jobs = append(jobs, statusJob(e, e.CustomerID, customerMessages[order.StatusPending]))
		}
		return jobs
	case events.KindStatusUpdate:
		status := order.Status(e.Status)
		text, ok := customerMessages[status]
		if !ok || status == order.StatusPending {
			return nil
		}
		jobs := []Job{statusJob(e, e.CustomerID, text)}
		if status == order.StatusCancelled && e.KitchenID != "" {
			jobs = append(jobs, statusJob(e, e.KitchenID, "Order #%s was cancelled."))
		}
		return jobs
	}
	return nil
}

func statusJob(e events.Event, to types.ID, format string) Job {
	return Job{
		Kind:        JobStatusUpdate,
		UserID:      to,
		Title:       "Order update",
		Body:        fmt.Sprintf(format, e.OrderNumber),
		OrderID:     e.OrderID,
		OrderNumber: e.OrderNumber,
		Status:      e.Status,
	}
}

// OfferJob invites a partner to claim a ready order.
func OfferJob(partnerID types.ID, o *order.Order) Job {
	return Job{
		Kind:        JobNewDelivery,
		UserID:      partnerID,
		Title:       "New delivery nearby",
		Body:        fmt.Sprintf("Order #%s is ready for pickup at %s. Delivery fee %s %s.", o.Number, o.PickupAddress.Street, o.Pricing.Currency, types.NewMoney(o.Pricing.DeliveryFee, o.Pricing.Currency)),
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      string(o.Status),
	}
}
