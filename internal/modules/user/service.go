// README: User service: profile registration and edits, device tokens and the admin account listing.
package user

import (
	"context"
	"strings"
	"time"

	"hometaste/internal/types"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetDeviceToken(ctx context.Context, id types.ID, token string) error
	UpdateProfile(ctx context.Context, u *User) error
	List(ctx context.Context, f Filter) ([]*User, int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterCommand creates or refreshes the profile of an authenticated identity. The role
// of an existing profile never changes.
type RegisterCommand struct {
	ID      types.ID
	Name    string
	Email   string
	Phone   string
	Role    Role
	Address Address
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	if cmd.ID == "" || strings.TrimSpace(cmd.Name) == "" || !strings.Contains(cmd.Email, "@") {
		return nil, ErrBadRequest
	}
	if cmd.Role == "" {
		cmd.Role = RoleCustomer
	}
	if !cmd.Role.Valid() {
		return nil, ErrBadRequest
	}
	u := &User{
		ID:        cmd.ID,
		Name:      strings.TrimSpace(cmd.Name),
		Email:     strings.ToLower(cmd.Email),
		Phone:     cmd.Phone,
		Role:      cmd.Role,
		Address:   cmd.Address,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, cmd.ID)
}

// ProfileCommand edits the caller's own contact details. Nil fields are left alone.
type ProfileCommand struct {
	ID      types.ID
	Name    *string
	Email   *string
	Phone   *string
	Address *Address
}

func (s *Service) UpdateProfile(ctx context.Context, cmd ProfileCommand) (*User, error) {
	u, err := s.repo.Get(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if cmd.Name != nil {
		u.Name = strings.TrimSpace(*cmd.Name)
	}
	if cmd.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*cmd.Email))
	}
	if cmd.Phone != nil {
		u.Phone = *cmd.Phone
	}
	if cmd.Address != nil {
		u.Address = *cmd.Address
	}
	if u.Name == "" || !strings.Contains(u.Email, "@") {
		return nil, ErrBadRequest
	}
	if err := s.repo.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, cmd.ID)
}

// List returns one page of accounts, newest first, and the total match count.
func (s *Service) List(ctx context.Context, f Filter) ([]*User, int, error) {
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, ErrBadRequest
	}
	f.Normalize()
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) SetDeviceToken(ctx context.Context, id types.ID, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrBadRequest
	}
	return s.repo.SetDeviceToken(ctx, id, token)
}
