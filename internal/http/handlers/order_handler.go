// README: Order handlers: placement, listings, status changes, cancel, rate and live tracking.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hometaste/internal/apperr"
	"hometaste/internal/events"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// Subscriber streams the events of one channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan events.Event, error)
}

type OrderHandler struct {
	order   *order.Service
	tracker Subscriber
}

func NewOrderHandler(svc *order.Service, tracker Subscriber) *OrderHandler {
	return &OrderHandler{order: svc, tracker: tracker}
}

type orderItemReq struct {
	MealID       string `json:"meal"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"specialInstructions"`
}

type placeOrderReq struct {
	Items                []orderItemReq `json:"items"`
	DeliveryAddress      user.Address   `json:"deliveryAddress"`
	ScheduledTime        meal.SlotKey   `json:"scheduledTime"`
	PaymentMethod        string         `json:"paymentMethod"`
	DeliveryInstructions string         `json:"deliveryInstructions"`
	PromoCode            string         `json:"promoCode"`
}

func (h *OrderHandler) Place(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	items := make([]order.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemInput{MealID: types.ID(it.MealID), Quantity: it.Quantity, Instructions: it.Instructions}
	}
	o, err := h.order.Place(c.Request.Context(), order.PlaceCommand{
		CustomerID:           callerID(c),
		Items:                items,
		DeliveryAddress:      req.DeliveryAddress,
		Scheduled:            req.ScheduledTime,
		PaymentMethod:        order.PaymentMethod(req.PaymentMethod),
		DeliveryInstructions: req.DeliveryInstructions,
		PromoCode:            req.PromoCode,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": "Order placed successfully", "order": o})
}

// List returns the caller's own orders, newest first.
func (h *OrderHandler) List(c *gin.Context) {
	page, limit := queryInt(c, "page", 1), queryInt(c, "limit", 10)
	f := order.ListFilter{CustomerID: callerID(c), Limit: limit, Offset: (page - 1) * limit}
	if !statusFilter(c, &f) {
		return
	}
	orders, err := h.order.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders), "page": page})
}

// KitchenOrders lists the calling kitchen's orders, optionally for one creation date.
func (h *OrderHandler) KitchenOrders(c *gin.Context) {
	page, limit := queryInt(c, "page", 1), queryInt(c, "limit", 50)
	f := order.ListFilter{KitchenID: callerID(c), Limit: limit, Offset: (page - 1) * limit}
	if !statusFilter(c, &f) {
		return
	}
	if d := c.Query("date"); d != "" {
		day, err := time.ParseInLocation(meal.DateLayout, d, time.Local)
		if err != nil {
			writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "date must be YYYY-MM-DD")
			return
		}
		next := day.AddDate(0, 0, 1)
		f.CreatedFrom, f.CreatedTo = &day, &next
	}
	orders, err := h.order.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders), "page": page})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.GetFor(c.Request.Context(), id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

type statusReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	o, err := h.order.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID: id,
		Target:  order.Status(req.Status),
		Note:    req.Note,
		Actor:   actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Order status updated", "order": o})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badJSON(c)
			return
		}
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: id,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Order cancelled successfully", "order": o})
}

type rateReq struct {
	Food     int    `json:"food"`
	Delivery int    `json:"delivery"`
	Overall  int    `json:"overall"`
	Comment  string `json:"comment"`
}

func (h *OrderHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	o, err := h.order.Rate(c.Request.Context(), order.RateCommand{
		OrderID:  id,
		Actor:    actor(c),
		Food:     req.Food,
		Delivery: req.Delivery,
		Overall:  req.Overall,
		Comment:  req.Comment,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Order rated successfully", "order": o})
}

const keepAliveEvery = 25 * time.Second

// Events streams the order channel as Server-Sent Events to any party of the order.
func (h *OrderHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.order.GetFor(ctx, id, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	if h.tracker == nil {
		writeMessage(c, http.StatusServiceUnavailable, apperr.KindUpstreamUnavailable, "tracking unavailable")
		return
	}
	stream, err := h.tracker.Subscribe(ctx, events.OrderChannel(id))
	if err != nil {
		_ = c.Error(err)
		writeMessage(c, http.StatusServiceUnavailable, apperr.KindUpstreamUnavailable, "tracking unavailable")
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()
	c.Status(http.StatusOK)
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now()})
		case e, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(string(e.Kind), e)
		}
		c.Writer.Flush()
	}
}

func statusFilter(c *gin.Context, f *order.ListFilter) bool {
	s := c.Query("status")
	if s == "" {
		return true
	}
	if !order.Status(s).Valid() {
		writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "invalid status")
		return false
	}
	f.Statuses = []order.Status{order.Status(s)}
	return true
}

func nonNil(orders []*order.Order) []*order.Order {
	if orders == nil {
		return []*order.Order{}
	}
	return orders
}
