// README: User store backed by PostgreSQL.
package user

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"hometaste/internal/infra"
	"hometaste/internal/types"
)

type Store struct {
	db infra.DBTX
}

// NewStore accepts a pool or a pgx.Tx.
func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

const userColumns = `
	id, name, email, phone, role, address, device_token,
	kitchen_verified, kitchen_total_orders,
	partner_available, partner_lat, partner_lng, partner_located_at,
	partner_total_earnings, partner_total_deliveries, created_at`

func (s *Store) Create(ctx context.Context, u *User) error {
	addr, err := json.Marshal(u.Address)
	if err != nil {
		return errors.Wrap(err, "marshal address")
	}
	var verified bool
	if u.Kitchen != nil {
		verified = u.Kitchen.Verified
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, role, address, device_token, kitchen_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    address = EXCLUDED.address`,
		string(u.ID), u.Name, u.Email, u.Phone, string(u.Role), addr, u.DeviceToken, verified, u.CreatedAt,
	)
	if infra.IsUniqueViolation(err, emailConstraint) {
		return ErrEmailTaken
	}
	return errors.Wrap(err, "insert user")
}

const emailConstraint = "users_email_key"

func (s *Store) UpdateProfile(ctx context.Context, u *User) error {
	addr, err := json.Marshal(u.Address)
	if err != nil {
		return errors.Wrap(err, "marshal address")
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET name = $2, email = $3, phone = $4, address = $5
		WHERE id = $1`,
		string(u.ID), u.Name, u.Email, u.Phone, addr,
	)
	if infra.IsUniqueViolation(err, emailConstraint) {
		return ErrEmailTaken
	}
	if err != nil {
		return errors.Wrap(err, "update profile")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]*User, int, error) {
	f.Normalize()
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM users WHERE $1 = '' OR role = $1`, string(f.Role),
	).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count users")
	}
	rows, err := s.db.Query(ctx, `SELECT`+userColumns+` FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(f.Role), f.Limit, f.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list users")
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan user")
		}
		out = append(out, u)
	}
	return out, total, errors.Wrap(rows.Err(), "list users")
}

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.get(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
}

// GetForUpdate locks the user row for the rest of the transaction.
func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*User, error) {
	return s.get(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) get(ctx context.Context, query string, id types.ID) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return u, nil
}

func (s *Store) SetPartnerAvailability(ctx context.Context, id types.ID, available bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET partner_available = $2
		WHERE id = $1 AND role = 'delivery_partner'`,
		string(id), available,
	)
	if err != nil {
		return errors.Wrap(err, "update availability")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPartner
	}
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET partner_lat = $2, partner_lng = $3, partner_located_at = $4
		WHERE id = $1 AND role = 'delivery_partner'`,
		string(id), p.Lat, p.Lng, at,
	)
	if err != nil {
		return errors.Wrap(err, "update location")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPartner
	}
	return nil
}

func (s *Store) SetDeviceToken(ctx context.Context, id types.ID, token string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET device_token = $2 WHERE id = $1`, string(id), token)
	if err != nil {
		return errors.Wrap(err, "update device token")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u             User
		role          string
		addr          []byte
		verified      bool
		kitchenOrders int
		available     bool
		lat, lng      *float64
		locatedAt     *time.Time
		earnings      int64
		deliveries    int
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &role, &addr, &u.DeviceToken,
		&verified, &kitchenOrders,
		&available, &lat, &lng, &locatedAt,
		&earnings, &deliveries, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &u.Address); err != nil {
			return nil, errors.Wrap(err, "decode address")
		}
	}
	switch u.Role {
	case RoleKitchen:
		u.Kitchen = &KitchenDetails{Verified: verified, TotalOrders: kitchenOrders}
	case RoleDeliveryPartner:
		u.Partner = &PartnerDetails{
			Available:       available,
			LocatedAt:       locatedAt,
			TotalEarnings:   earnings,
			TotalDeliveries: deliveries,
		}
		if lat != nil && lng != nil {
			u.Partner.Location = &types.Point{Lat: *lat, Lng: *lng}
		}
	}
	return &u, nil
}
