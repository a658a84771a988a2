package memory

import (
	"context"
	"strings"

	"hometaste/internal/modules/pricing"
)

// Promos implements pricing.Promos.
type Promos struct {
	g *Gateway
}

func (r *Promos) Add(p pricing.Promo) {
	_ = r.g.write(func(st *state) error {
		p.Code = strings.ToUpper(p.Code)
		st.promos[p.Code] = &p
		return nil
	})
}

func (r *Promos) GetPromo(_ context.Context, code string) (*pricing.Promo, error) {
	var out *pricing.Promo
	err := r.g.read(func(st *state) error {
		p, ok := st.promos[strings.ToUpper(code)]
		if !ok {
			return pricing.ErrPromoNotFound
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}
