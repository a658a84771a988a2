// README: Pricing service computes delivery fees, VAT and promo discounts.
package pricing

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hometaste/internal/infra"
	"hometaste/internal/modules/location"
	"hometaste/internal/types"
)

// Distancer returns the travel distance between two points in kilometres.
type Distancer interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

type Promos interface {
	GetPromo(ctx context.Context, code string) (*Promo, error)
}

// Haversine is the Distancer used when no routing API is configured.
type Haversine struct{}

func (Haversine) DistanceKm(_ context.Context, from, to types.Point) (float64, error) {
	return location.DistanceKm(from, to), nil
}

type Service struct {
	rates     Rates
	distancer Distancer
	promos    Promos
	log       logrus.FieldLogger
}

func NewService(rates Rates, distancer Distancer, promos Promos, log logrus.FieldLogger) *Service {
	if distancer == nil {
		distancer = Haversine{}
	}
	return &Service{rates: rates, distancer: distancer, promos: promos, log: log}
}

func (s *Service) Currency() string { return s.rates.Currency }

// DeliveryFee is base + perKm * distance, or the flat fee when either point is unknown or
// the distance lookup fails.
func (s *Service) DeliveryFee(ctx context.Context, from, to types.Point) types.Money {
	flat := types.NewMoney(s.rates.FlatDeliveryFee, s.rates.Currency)
	if from.IsZero() || to.IsZero() {
		return flat
	}
	km, err := s.distancer.DistanceKm(ctx, from, to)
	if err != nil {
		s.log.WithError(err).Warn("distance lookup failed, using flat delivery fee")
		return flat
	}
	return types.NewMoney(s.rates.BaseDeliveryFee+int64(math.Round(float64(s.rates.PerKmFee)*km)), s.rates.Currency)
}

// Promo resolves a promo code. An empty code yields nil without error.
func (s *Service) Promo(ctx context.Context, code string, now time.Time) (*Promo, error) {
	code = strings.TrimSpace(code)
	if code == "" || s.promos == nil {
		return nil, nil
	}
	var p *Promo
	err := infra.RetryRead(ctx, func() error {
		var err error
		p, err = s.promos.GetPromo(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !p.Usable(now) {
		return nil, ErrPromoExpired
	}
	return p, nil
}

// Compute builds the breakdown. The discount applies to the subtotal and never exceeds it.
func (s *Service) Compute(subtotal, deliveryFee types.Money, promo *Promo) Breakdown {
	tax := subtotal.BasisPoints(s.rates.VATBasisPoints)
	var discount int64
	if promo != nil {
		discount = subtotal.BasisPoints(promo.PercentBps).Amount
		if promo.MaxDiscount > 0 && discount > promo.MaxDiscount {
			discount = promo.MaxDiscount
		}
		if discount > subtotal.Amount {
			discount = subtotal.Amount
		}
	}
	b := Breakdown{
		Currency:    s.rates.Currency,
		Subtotal:    subtotal.Amount,
		DeliveryFee: deliveryFee.Amount,
		Tax:         tax.Amount,
		Discount:    discount,
	}
	b.Total = b.Subtotal + b.DeliveryFee + b.Tax - b.Discount
	return b
}
