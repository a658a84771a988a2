// README: Earnings store backed by PostgreSQL.
package earnings

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"hometaste/internal/infra"
	"hometaste/internal/types"
)

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

// CreditDelivery records the entry and bumps the partner's lifetime counters.
func (s *Store) CreditDelivery(ctx context.Context, c Credit) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO earnings_entries (order_id, partner_id, amount, currency, credited_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(c.OrderID), string(c.PartnerID), c.Amount.Amount, c.Amount.Currency, c.At,
	); err != nil {
		return errors.Wrap(err, "insert earnings entry")
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET partner_total_earnings = partner_total_earnings + $2,
		    partner_total_deliveries = partner_total_deliveries + 1
		WHERE id = $1`,
		string(c.PartnerID), c.Amount.Amount,
	)
	if err != nil {
		return errors.Wrap(err, "credit partner")
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("credit partner %s: no such user", c.PartnerID)
	}
	return nil
}

func (s *Store) IncrementKitchenOrders(ctx context.Context, kitchenID types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET kitchen_total_orders = kitchen_total_orders + 1 WHERE id = $1`,
		string(kitchenID),
	)
	if err != nil {
		return errors.Wrap(err, "increment kitchen orders")
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("increment kitchen orders %s: no such user", kitchenID)
	}
	return nil
}

func (s *Store) PeriodTotals(ctx context.Context, partnerID types.ID, since time.Time) (Totals, error) {
	var t Totals
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM earnings_entries
		WHERE partner_id = $1 AND credited_at >= $2`,
		string(partnerID), since,
	).Scan(&t.Amount, &t.Count)
	return t, errors.Wrap(err, "sum earnings")
}
