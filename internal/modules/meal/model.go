// README: Meal records, time slots and the per-slot availability ledger.
package meal

import (
	"context"
	"time"

	"hometaste/internal/apperr"
	"hometaste/internal/types"
)

const DateLayout = "2006-01-02"

var (
	Categories = []string{"breakfast", "lunch", "dinner", "snacks", "dessert"}
	Cuisines   = []string{"nepali", "indian", "chinese", "continental", "mixed"}
	FoodTypes  = []string{"veg", "non-veg", "vegan", "egg"}
)

// SlotKey identifies one time slot of a meal: a calendar date and the slot start ("11:00").
type SlotKey struct {
	Date  string `json:"date"`
	Start string `json:"startTime"`
}

type Slot struct {
	Date      string `json:"date"`
	Start     string `json:"startTime"`
	End       string `json:"endTime"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}

func (s Slot) Key() SlotKey { return SlotKey{Date: s.Date, Start: s.Start} }

// Reserve takes qty from the slot. Remaining never drops below zero.
func (s *Slot) Reserve(qty int) error {
	if qty <= 0 {
		return ErrBadQuantity
	}
	if s.Remaining < qty {
		return ErrInsufficientAvailability
	}
	s.Remaining -= qty
	return nil
}

// Release returns qty to the slot, clamped at capacity.
func (s *Slot) Release(qty int) error {
	if qty <= 0 {
		return ErrBadQuantity
	}
	s.Remaining += qty
	if s.Remaining > s.Capacity {
		s.Remaining = s.Capacity
	}
	return nil
}

type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type Review struct {
	MealID    types.ID  `json:"mealId"`
	UserID    types.ID  `json:"userId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

type Meal struct {
	ID                 types.ID    `json:"id"`
	KitchenID          types.ID    `json:"homeKitchen"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	Price              types.Money `json:"price"`
	Category           string      `json:"category"`
	Cuisine            string      `json:"cuisine"`
	FoodType           string      `json:"foodType"`
	Tags               []string    `json:"tags"`
	City               string      `json:"city"`
	PreparationMinutes int         `json:"preparationTime"`
	Slots              []Slot      `json:"timeSlots"`
	Rating             Rating      `json:"rating"`
	Active             bool        `json:"isActive"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// Slot returns the slot for key, or nil.
func (m *Meal) Slot(key SlotKey) *Slot {
	for i := range m.Slots {
		if m.Slots[i].Key() == key {
			return &m.Slots[i]
		}
	}
	return nil
}

func (m *Meal) Clone() *Meal {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Slots = append([]Slot(nil), m.Slots...)
	return &cp
}

// Filter selects active meals for browsing. Empty fields do not filter.
type Filter struct {
	Category  string
	Cuisine   string
	FoodType  string
	City      string
	KitchenID types.ID
	Search    string
	Page      int
	Limit     int
}

const defaultPageSize = 12

// Normalize applies paging defaults.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = defaultPageSize
	}
}

func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

var (
	ErrNotFound                 = apperr.New(apperr.KindNotFound, "meal not found")
	ErrInsufficientAvailability = apperr.New(apperr.KindConflict, "insufficient availability")
	ErrSlotNotFound             = apperr.New(apperr.KindConflict, "time slot not found")
	ErrBadQuantity              = apperr.New(apperr.KindValidation, "quantity must be positive")
	ErrBadRequest               = apperr.New(apperr.KindValidation, "invalid meal")
	ErrBadRating                = apperr.New(apperr.KindValidation, "rating must be between 1 and 5")
	ErrAlreadyReviewed          = apperr.New(apperr.KindConflict, "meal already reviewed")
	ErrKitchenNotVerified       = apperr.New(apperr.KindForbidden, "kitchen is not verified")
	ErrNotOwner                 = apperr.New(apperr.KindForbidden, "not authorized for this meal")
	ErrCapacityBelowOrdered     = apperr.New(apperr.KindConflict, "capacity is below the quantity already ordered")
)

// Repository is the meal catalogue.
type Repository interface {
	Create(ctx context.Context, m *Meal) error
	Get(ctx context.Context, id types.ID) (*Meal, error)
	List(ctx context.Context, f Filter) ([]*Meal, int, error)
	// Update writes the descriptive fields of m and upserts slots. An existing slot keeps
	// its ordered quantity: remaining becomes capacity minus what was already taken.
	Update(ctx context.Context, m *Meal, slots []Slot) error
	Deactivate(ctx context.Context, id types.ID) error
	AddReview(ctx context.Context, r Review) (Rating, error)
}

// Ledger is the availability ledger as seen from inside an order transaction.
type Ledger interface {
	Get(ctx context.Context, id types.ID) (*Meal, error)
	Reserve(ctx context.Context, id types.ID, key SlotKey, qty int) error
	Release(ctx context.Context, id types.ID, key SlotKey, qty int) error
}

// RoundRating rounds an average to one decimal place.
func RoundRating(avg float64) float64 {
	return float64(int64(avg*10+0.5)) / 10
}
