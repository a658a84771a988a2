// README: User records with role-specific kitchen and delivery-partner sub-records.
package user

import (
	"context"
	"time"

	"hometaste/internal/apperr"
	"hometaste/internal/types"
)

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleKitchen         Role = "home_kitchen"
	RoleDeliveryPartner Role = "delivery_partner"
	RoleAdmin           Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleKitchen, RoleDeliveryPartner, RoleAdmin:
		return true
	}
	return false
}

type Address struct {
	Street      string      `json:"street"`
	City        string      `json:"city"`
	State       string      `json:"state"`
	ZipCode     string      `json:"zipCode"`
	Coordinates types.Point `json:"coordinates"`
}

type KitchenDetails struct {
	Verified    bool `json:"verified"`
	TotalOrders int  `json:"totalOrders"`
}

type PartnerDetails struct {
	Available       bool         `json:"available"`
	Location        *types.Point `json:"location,omitempty"`
	LocatedAt       *time.Time   `json:"locatedAt,omitempty"`
	TotalEarnings   int64        `json:"totalEarnings"`
	TotalDeliveries int          `json:"totalDeliveries"`
}

type User struct {
	ID          types.ID        `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Role        Role            `json:"role"`
	Address     Address         `json:"address"`
	DeviceToken string          `json:"-"`
	Kitchen     *KitchenDetails `json:"kitchenDetails,omitempty"`
	Partner     *PartnerDetails `json:"deliveryPartnerDetails,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

var (
	ErrNotFound   = apperr.New(apperr.KindNotFound, "user not found")
	ErrNotPartner = apperr.New(apperr.KindValidation, "user is not a delivery partner")
	ErrBadRequest = apperr.New(apperr.KindValidation, "invalid user")
	ErrEmailTaken = apperr.New(apperr.KindConflict, "email is already registered")
)

// Filter pages through accounts for admins. An empty Role lists everyone.
type Filter struct {
	Role  Role
	Page  int
	Limit int
}

func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = 10
	case f.Limit > 100:
		f.Limit = 100
	}
}

func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

// Accounts is the user state an order mutation touches inside one transaction.
type Accounts interface {
	Get(ctx context.Context, id types.ID) (*User, error)
	SetPartnerAvailability(ctx context.Context, id types.ID, available bool) error
}
