// README: Earnings service aggregates a partner's period and lifetime totals.
package earnings

import (
	"context"
	"time"

	"hometaste/internal/infra"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Partners interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

type Service struct {
	reader   Reader
	partners Partners
	currency string
}

func NewService(reader Reader, partners Partners, currency string) *Service {
	return &Service{reader: reader, partners: partners, currency: currency}
}

func (s *Service) Query(ctx context.Context, partnerID types.ID, period Period, now time.Time) (*Summary, error) {
	since, err := period.Start(now)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = PeriodToday
	}
	var p *user.User
	if err := infra.RetryRead(ctx, func() error {
		var err error
		p, err = s.partners.Get(ctx, partnerID)
		return err
	}); err != nil {
		return nil, err
	}
	if p.Partner == nil {
		return nil, user.ErrNotPartner
	}
	var totals Totals
	if err := infra.RetryRead(ctx, func() error {
		var err error
		totals, err = s.reader.PeriodTotals(ctx, partnerID, since)
		return err
	}); err != nil {
		return nil, err
	}
	return &Summary{
		Period:             period,
		Currency:           s.currency,
		TotalEarnings:      totals.Amount,
		TotalDeliveries:    totals.Count,
		LifetimeEarnings:   p.Partner.TotalEarnings,
		LifetimeDeliveries: p.Partner.TotalDeliveries,
	}, nil
}
