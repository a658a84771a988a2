// README: Delivery partner handlers: claimable orders, accept, complete, active, history and earnings.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hometaste/internal/apperr"
	"hometaste/internal/modules/assignment"
	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/types"
)

type DeliveryHandler struct {
	assign   *assignment.Service
	earnings *earnings.Service
	now      func() time.Time
}

func NewDeliveryHandler(assign *assignment.Service, earn *earnings.Service) *DeliveryHandler {
	return &DeliveryHandler{assign: assign, earnings: earn, now: time.Now}
}

// partnerOf is the partner whose records are read: admins may name one with
// ?partnerId=, everyone else reads their own.
func partnerOf(c *gin.Context) types.ID {
	if actor(c).Admin() {
		if id := c.Query("partnerId"); id != "" {
			return types.ID(id)
		}
	}
	return callerID(c)
}

func (h *DeliveryHandler) Available(c *gin.Context) {
	orders, err := h.assign.ListAssignable(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders)})
}

func (h *DeliveryHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "orderId")
	if !ok {
		return
	}
	o, err := h.assign.Accept(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Order accepted successfully", "order": o})
}

type completeReq struct {
	Proof string `json:"proof"`
}

func (h *DeliveryHandler) Complete(c *gin.Context) {
	id, ok := pathID(c, "orderId")
	if !ok {
		return
	}
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badJSON(c)
			return
		}
	}
	o, done, err := h.assign.Complete(c.Request.Context(), id, callerID(c), req.Proof)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Delivery completed successfully", "order": o, "earned": done.Earned})
}

func (h *DeliveryHandler) Active(c *gin.Context) {
	orders, err := h.assign.Active(c.Request.Context(), partnerOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders)})
}

// History lists delivered orders; end is inclusive of the whole day.
func (h *DeliveryHandler) History(c *gin.Context) {
	q := assignment.HistoryQuery{Page: queryInt(c, "page", 1), Limit: queryInt(c, "limit", 20)}
	if v := c.Query("start"); v != "" {
		start, err := time.ParseInLocation(meal.DateLayout, v, time.Local)
		if err != nil {
			writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "start must be YYYY-MM-DD")
			return
		}
		q.Start = &start
	}
	if v := c.Query("end"); v != "" {
		end, err := time.ParseInLocation(meal.DateLayout, v, time.Local)
		if err != nil {
			writeMessage(c, http.StatusBadRequest, apperr.KindValidation, "end must be YYYY-MM-DD")
			return
		}
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		q.End = &end
	}
	orders, err := h.assign.History(c.Request.Context(), partnerOf(c), q)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders), "page": q.Page})
}

func (h *DeliveryHandler) Earnings(c *gin.Context) {
	sum, err := h.earnings.Query(c.Request.Context(), partnerOf(c), earnings.Period(c.Query("period")), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"earnings": sum})
}
