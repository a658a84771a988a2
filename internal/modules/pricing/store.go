// README: Promo code store backed by PostgreSQL.
package pricing

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"hometaste/internal/infra"
)

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) GetPromo(ctx context.Context, code string) (*Promo, error) {
	var p Promo
	err := s.db.QueryRow(ctx, `
		SELECT code, percent_bps, max_discount, active, expires_at
		FROM promo_codes WHERE code = $1`, strings.ToUpper(code),
	).Scan(&p.Code, &p.PercentBps, &p.MaxDiscount, &p.Active, &p.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPromoNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select promo")
	}
	return &p, nil
}
