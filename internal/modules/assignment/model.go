// README: Assignment errors and query types for binding delivery partners to orders.
package assignment

import (
	"time"

	"hometaste/internal/apperr"
	"hometaste/internal/types"
)

var (
	ErrAlreadyAssigned = apperr.New(apperr.KindConflict, "order already has a delivery partner")
	ErrNotAssignable   = apperr.New(apperr.KindConflict, "order is not ready for pickup")
	ErrNotPartner      = apperr.New(apperr.KindForbidden, "only delivery partners can accept orders")
	ErrNotAuthorized   = apperr.New(apperr.KindForbidden, "order is not assigned to this partner")
)

// HistoryQuery pages through a partner's delivered orders. Start and End bound the
// delivery time, both inclusive.
type HistoryQuery struct {
	Start *time.Time
	End   *time.Time
	Page  int
	Limit int
}

func (q HistoryQuery) normalize() HistoryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}
	return q
}

// Completion is the result of a finished delivery.
type Completion struct {
	OrderID types.ID
	Earned  types.Money
}
