// README: Order error sentinels.
package order

import "hometaste/internal/apperr"

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "order not found")
	ErrInvalidTransition = apperr.New(apperr.KindConflict, "invalid status transition")
	ErrConflict          = apperr.New(apperr.KindConflict, "order state conflict")
	ErrPartnerRequired   = apperr.New(apperr.KindConflict, "assignment requires a delivery partner to accept the order")
	ErrMultiKitchenOrder = apperr.New(apperr.KindValidation, "all items must come from the same kitchen")
	ErrMealUnavailable   = apperr.New(apperr.KindConflict, "meal is not available for the selected slot")
	ErrSlotMismatch      = apperr.New(apperr.KindValidation, "all items must share the same delivery window")
	ErrBadRequest        = apperr.New(apperr.KindValidation, "bad request")
	ErrForbidden         = apperr.New(apperr.KindForbidden, "not authorized for this order")
	ErrNotDelivered      = apperr.New(apperr.KindValidation, "can only rate delivered orders")
	ErrAlreadyRated      = apperr.New(apperr.KindConflict, "order already rated")
	ErrNumberExhausted   = apperr.New(apperr.KindInternal, "could not allocate a unique order number")
)
