// README: Meal service: catalogue browsing, kitchen meal management and reviews.
package meal

import (
	"context"
	"slices"
	"strings"
	"time"

	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Kitchens interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

type Service struct {
	repo     Repository
	kitchens Kitchens
	currency string
}

func NewService(repo Repository, kitchens Kitchens, currency string) *Service {
	return &Service{repo: repo, kitchens: kitchens, currency: currency}
}

type SlotInput struct {
	Date     string `json:"date"`
	Start    string `json:"startTime"`
	End      string `json:"endTime"`
	Quantity int    `json:"quantity"`
}

type CreateCommand struct {
	KitchenID          types.ID
	Name               string
	Description        string
	Price              int64
	Category           string
	Cuisine            string
	FoodType           string
	Tags               []string
	PreparationMinutes int
	Slots              []SlotInput
}

// UpdateCommand changes a meal in place. Nil fields are left alone; Slots are upserted by
// date and start time and slots not named stay as they are.
type UpdateCommand struct {
	MealID             types.ID
	ActorID            types.ID
	Admin              bool
	Name               *string
	Description        *string
	Price              *int64
	Category           *string
	Cuisine            *string
	FoodType           *string
	Tags               []string
	PreparationMinutes *int
	Slots              []SlotInput
}

type ReviewCommand struct {
	MealID  types.ID
	UserID  types.ID
	Rating  int
	Comment string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Meal, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}
	k, err := s.kitchens.Get(ctx, cmd.KitchenID)
	if err != nil {
		return nil, err
	}
	if k.Role != user.RoleKitchen || k.Kitchen == nil || !k.Kitchen.Verified {
		return nil, ErrKitchenNotVerified
	}
	cuisine := cmd.Cuisine
	if cuisine == "" {
		cuisine = "nepali"
	}
	prep := cmd.PreparationMinutes
	if prep <= 0 {
		prep = 30
	}
	m := &Meal{
		ID:                 types.NewID(),
		KitchenID:          cmd.KitchenID,
		Name:               strings.TrimSpace(cmd.Name),
		Description:        cmd.Description,
		Price:              types.NewMoney(cmd.Price, s.currency),
		Category:           cmd.Category,
		Cuisine:            cuisine,
		FoodType:           cmd.FoodType,
		Tags:               cmd.Tags,
		City:               k.Address.City,
		PreparationMinutes: prep,
		Active:             true,
		CreatedAt:          time.Now(),
	}
	for _, in := range cmd.Slots {
		m.Slots = append(m.Slots, Slot{
			Date:      in.Date,
			Start:     in.Start,
			End:       in.End,
			Capacity:  in.Quantity,
			Remaining: in.Quantity,
		})
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func validateCreate(cmd CreateCommand) error {
	if cmd.KitchenID == "" || strings.TrimSpace(cmd.Name) == "" || len(cmd.Name) > 100 || len(cmd.Description) > 500 {
		return ErrBadRequest
	}
	if cmd.Price < 0 || !slices.Contains(Categories, cmd.Category) || !slices.Contains(FoodTypes, cmd.FoodType) {
		return ErrBadRequest
	}
	if cmd.Cuisine != "" && !slices.Contains(Cuisines, cmd.Cuisine) {
		return ErrBadRequest
	}
	if len(cmd.Slots) == 0 {
		return ErrBadRequest
	}
	return validateSlots(cmd.Slots)
}

func validateSlots(slots []SlotInput) error {
	seen := make(map[SlotKey]bool, len(slots))
	for _, sl := range slots {
		if _, err := time.Parse(DateLayout, sl.Date); err != nil {
			return ErrBadRequest
		}
		if !validClock(sl.Start) || !validClock(sl.End) || sl.End <= sl.Start || sl.Quantity < 0 {
			return ErrBadRequest
		}
		key := SlotKey{Date: sl.Date, Start: sl.Start}
		if seen[key] {
			return ErrBadRequest
		}
		seen[key] = true
	}
	return nil
}

// validClock accepts zero-padded "HH:MM".
func validClock(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil && len(v) == 5
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Meal, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Meal, int, error) {
	f.Normalize()
	return s.repo.List(ctx, f)
}

// Update edits a meal owned by the caller, or any meal for an admin.
func (s *Service) Update(ctx context.Context, cmd UpdateCommand) (*Meal, error) {
	m, err := s.repo.Get(ctx, cmd.MealID)
	if err != nil {
		return nil, err
	}
	if !cmd.Admin && m.KitchenID != cmd.ActorID {
		return nil, ErrNotOwner
	}
	if cmd.Name != nil {
		m.Name = strings.TrimSpace(*cmd.Name)
	}
	if cmd.Description != nil {
		m.Description = *cmd.Description
	}
	if cmd.Price != nil {
		m.Price = types.NewMoney(*cmd.Price, m.Price.Currency)
	}
	if cmd.Category != nil {
		m.Category = *cmd.Category
	}
	if cmd.Cuisine != nil {
		m.Cuisine = *cmd.Cuisine
	}
	if cmd.FoodType != nil {
		m.FoodType = *cmd.FoodType
	}
	if cmd.Tags != nil {
		m.Tags = cmd.Tags
	}
	if cmd.PreparationMinutes != nil {
		m.PreparationMinutes = *cmd.PreparationMinutes
	}
	if m.Name == "" || len(m.Name) > 100 || len(m.Description) > 500 || m.Price.Amount < 0 || m.PreparationMinutes <= 0 {
		return nil, ErrBadRequest
	}
	if !slices.Contains(Categories, m.Category) || !slices.Contains(Cuisines, m.Cuisine) || !slices.Contains(FoodTypes, m.FoodType) {
		return nil, ErrBadRequest
	}
	if err := validateSlots(cmd.Slots); err != nil {
		return nil, err
	}
	slots := make([]Slot, len(cmd.Slots))
	for i, in := range cmd.Slots {
		slots[i] = Slot{Date: in.Date, Start: in.Start, End: in.End, Capacity: in.Quantity}
	}
	if err := s.repo.Update(ctx, m, slots); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, m.ID)
}

// Deactivate soft-deletes a meal. Only the owning kitchen or an admin may do it.
func (s *Service) Deactivate(ctx context.Context, id, actorID types.ID, admin bool) error {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !admin && m.KitchenID != actorID {
		return ErrNotOwner
	}
	return s.repo.Deactivate(ctx, id)
}

func (s *Service) Review(ctx context.Context, cmd ReviewCommand) (Rating, error) {
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Rating{}, ErrBadRating
	}
	if _, err := s.repo.Get(ctx, cmd.MealID); err != nil {
		return Rating{}, err
	}
	return s.repo.AddReview(ctx, Review{
		MealID:    cmd.MealID,
		UserID:    cmd.UserID,
		Rating:    cmd.Rating,
		Comment:   cmd.Comment,
		CreatedAt: time.Now(),
	})
}
