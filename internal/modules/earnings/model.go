// README: Earnings ledger: partner delivery credits, kitchen counters and period totals.
package earnings

import (
	"context"
	"time"

	"hometaste/internal/apperr"
	"hometaste/internal/types"
)

// PartnerShareBasisPoints is the partner's cut of the delivery fee (70%).
const PartnerShareBasisPoints = 7000

func PartnerShare(deliveryFee types.Money) types.Money {
	return deliveryFee.BasisPoints(PartnerShareBasisPoints)
}

type Credit struct {
	PartnerID types.ID
	OrderID   types.ID
	Amount    types.Money
	At        time.Time
}

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Start returns the first instant counted for the period ending at now.
func (p Period) Start(now time.Time) (time.Time, error) {
	switch p {
	case PeriodToday, "":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return now.AddDate(0, -1, 0), nil
	}
	return time.Time{}, ErrBadPeriod
}

type Totals struct {
	Amount int64
	Count  int
}

type Summary struct {
	Period             Period `json:"period"`
	Currency           string `json:"currency"`
	TotalEarnings      int64  `json:"totalEarnings"`
	TotalDeliveries    int    `json:"totalDeliveries"`
	LifetimeEarnings   int64  `json:"lifetimeEarnings"`
	LifetimeDeliveries int    `json:"lifetimeDeliveries"`
}

var ErrBadPeriod = apperr.New(apperr.KindValidation, "period must be today, week or month")

// Ledger is written inside the delivery-completion transaction.
type Ledger interface {
	CreditDelivery(ctx context.Context, c Credit) error
	IncrementKitchenOrders(ctx context.Context, kitchenID types.ID) error
}

type Reader interface {
	PeriodTotals(ctx context.Context, partnerID types.ID, since time.Time) (Totals, error)
}
