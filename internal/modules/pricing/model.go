// README: Order pricing breakdown and promo code definitions.
package pricing

import (
	"time"

	"hometaste/internal/apperr"
)

// Breakdown is stored on every order. Total == Subtotal + DeliveryFee + Tax - Discount.
type Breakdown struct {
	Currency    string `json:"currency"`
	Subtotal    int64  `json:"subtotal"`
	DeliveryFee int64  `json:"deliveryFee"`
	Tax         int64  `json:"tax"`
	Discount    int64  `json:"discount"`
	Total       int64  `json:"total"`
}

func (b Breakdown) Balanced() bool {
	return b.Total == b.Subtotal+b.DeliveryFee+b.Tax-b.Discount
}

type Promo struct {
	Code        string
	PercentBps  int64
	MaxDiscount int64 // 0 means uncapped
	Active      bool
	ExpiresAt   *time.Time
}

func (p *Promo) Usable(now time.Time) bool {
	if !p.Active {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

type Rates struct {
	BaseDeliveryFee int64
	PerKmFee        int64
	FlatDeliveryFee int64
	VATBasisPoints  int64
	Currency        string
}

var (
	ErrPromoNotFound = apperr.New(apperr.KindValidation, "invalid promo code")
	ErrPromoExpired  = apperr.New(apperr.KindValidation, "promo code expired")
)
