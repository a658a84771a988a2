package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

// Users implements user.Repository.
type Users struct {
	g *Gateway
}

func (r *Users) Create(_ context.Context, u *user.User) error {
	return r.g.write(func(st *state) error {
		cp := cloneUser(u)
		if emailTaken(st, u.ID, u.Email) {
			return user.ErrEmailTaken
		}
		if existing, ok := st.users[u.ID]; ok {
			existing.Name, existing.Phone, existing.Address = cp.Name, cp.Phone, cp.Address
			return nil
		}
		switch cp.Role {
		case user.RoleKitchen:
			if cp.Kitchen == nil {
				cp.Kitchen = &user.KitchenDetails{}
			}
		case user.RoleDeliveryPartner:
			if cp.Partner == nil {
				cp.Partner = &user.PartnerDetails{Available: true}
			}
		}
		st.users[u.ID] = cp
		return nil
	})
}

func (r *Users) Get(_ context.Context, id types.ID) (*user.User, error) {
	var out *user.User
	err := r.g.read(func(st *state) error {
		var err error
		out, err = getUser(st, id)
		return err
	})
	return out, err
}

func (r *Users) UpdateLocation(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	return r.g.write(func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.Partner == nil {
			return user.ErrNotPartner
		}
		u.Partner.Location = &p
		u.Partner.LocatedAt = &at
		return nil
	})
}

func (r *Users) SetDeviceToken(_ context.Context, id types.ID, token string) error {
	return r.g.write(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		u.DeviceToken = token
		return nil
	})
}

func (r *Users) SetPartnerAvailability(_ context.Context, id types.ID, available bool) error {
	return r.g.write(func(st *state) error {
		return setAvailability(st, id, available)
	})
}

func (r *Users) UpdateProfile(_ context.Context, u *user.User) error {
	return r.g.write(func(st *state) error {
		cur, ok := st.users[u.ID]
		if !ok {
			return user.ErrNotFound
		}
		if emailTaken(st, u.ID, u.Email) {
			return user.ErrEmailTaken
		}
		cur.Name, cur.Email, cur.Phone, cur.Address = u.Name, u.Email, u.Phone, u.Address
		return nil
	})
}

func (r *Users) List(_ context.Context, f user.Filter) ([]*user.User, int, error) {
	f.Normalize()
	var out []*user.User
	_ = r.g.read(func(st *state) error {
		for _, u := range st.users {
			if f.Role == "" || u.Role == f.Role {
				out = append(out, cloneUser(u))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	start := min(f.Offset(), total)
	end := min(start+f.Limit, total)
	return out[start:end], total, nil
}

// emailTaken reports whether another account already uses email.
func emailTaken(st *state, id types.ID, email string) bool {
	if email == "" {
		return false
	}
	for otherID, other := range st.users {
		if otherID != id && strings.EqualFold(other.Email, email) {
			return true
		}
	}
	return false
}

func getUser(st *state, id types.ID) (*user.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func setAvailability(st *state, id types.ID, available bool) error {
	u, ok := st.users[id]
	if !ok || u.Partner == nil {
		return user.ErrNotPartner
	}
	u.Partner.Available = available
	return nil
}
