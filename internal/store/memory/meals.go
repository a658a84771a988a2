package memory

import (
	"context"
	"sort"
	"strings"

	"hometaste/internal/modules/meal"
	"hometaste/internal/types"
)

// Meals implements meal.Repository.
type Meals struct {
	g *Gateway
}

func (r *Meals) Create(_ context.Context, m *meal.Meal) error {
	return r.g.write(func(st *state) error {
		st.meals[m.ID] = m.Clone()
		return nil
	})
}

func (r *Meals) Get(_ context.Context, id types.ID) (*meal.Meal, error) {
	var out *meal.Meal
	err := r.g.read(func(st *state) error {
		var err error
		out, err = getMeal(st, id)
		return err
	})
	return out, err
}

func (r *Meals) List(_ context.Context, f meal.Filter) ([]*meal.Meal, int, error) {
	f.Normalize()
	var matched []*meal.Meal
	_ = r.g.read(func(st *state) error {
		for _, m := range st.meals {
			if mealMatches(m, f) {
				matched = append(matched, m.Clone())
			}
		}
		return nil
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Rating.Average != matched[j].Rating.Average {
			return matched[i].Rating.Average > matched[j].Rating.Average
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func mealMatches(m *meal.Meal, f meal.Filter) bool {
	if !m.Active {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Cuisine != "" && m.Cuisine != f.Cuisine {
		return false
	}
	if f.FoodType != "" && m.FoodType != f.FoodType {
		return false
	}
	if f.City != "" && !strings.EqualFold(m.City, f.City) {
		return false
	}
	if f.KitchenID != "" && m.KitchenID != f.KitchenID {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hay := strings.ToLower(m.Name + " " + m.Description + " " + strings.Join(m.Tags, " "))
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func (r *Meals) Update(_ context.Context, m *meal.Meal, slots []meal.Slot) error {
	return r.g.write(func(st *state) error {
		cur, ok := st.meals[m.ID]
		if !ok {
			return meal.ErrNotFound
		}
		for _, sl := range slots {
			if old := cur.Slot(sl.Key()); old != nil && sl.Capacity < old.Capacity-old.Remaining {
				return meal.ErrCapacityBelowOrdered
			}
		}
		cur.Name, cur.Description, cur.Price = m.Name, m.Description, m.Price
		cur.Category, cur.Cuisine, cur.FoodType = m.Category, m.Cuisine, m.FoodType
		cur.Tags = append([]string(nil), m.Tags...)
		cur.PreparationMinutes = m.PreparationMinutes
		for _, sl := range slots {
			if old := cur.Slot(sl.Key()); old != nil {
				ordered := old.Capacity - old.Remaining
				old.End, old.Capacity, old.Remaining = sl.End, sl.Capacity, sl.Capacity-ordered
				continue
			}
			sl.Remaining = sl.Capacity
			cur.Slots = append(cur.Slots, sl)
		}
		sort.SliceStable(cur.Slots, func(i, j int) bool {
			a, b := cur.Slots[i], cur.Slots[j]
			if a.Date != b.Date {
				return a.Date < b.Date
			}
			return a.Start < b.Start
		})
		return nil
	})
}

func (r *Meals) Deactivate(_ context.Context, id types.ID) error {
	return r.g.write(func(st *state) error {
		m, ok := st.meals[id]
		if !ok {
			return meal.ErrNotFound
		}
		m.Active = false
		return nil
	})
}

func (r *Meals) AddReview(_ context.Context, rv meal.Review) (meal.Rating, error) {
	var out meal.Rating
	err := r.g.write(func(st *state) error {
		m, ok := st.meals[rv.MealID]
		if !ok {
			return meal.ErrNotFound
		}
		key := reviewKey{meal: rv.MealID, user: rv.UserID}
		if _, dup := st.reviews[key]; dup {
			return meal.ErrAlreadyReviewed
		}
		st.reviews[key] = rv
		var sum, n int
		for k, v := range st.reviews {
			if k.meal == rv.MealID {
				sum += v.Rating
				n++
			}
		}
		m.Rating = meal.Rating{Average: meal.RoundRating(float64(sum) / float64(n)), Count: n}
		out = m.Rating
		return nil
	})
	return out, err
}

// Slot returns the committed state of one slot; tests use it to check the ledger.
func (r *Meals) Slot(id types.ID, key meal.SlotKey) (meal.Slot, bool) {
	var out meal.Slot
	var ok bool
	_ = r.g.read(func(st *state) error {
		if m, found := st.meals[id]; found {
			if sl := m.Slot(key); sl != nil {
				out, ok = *sl, true
			}
		}
		return nil
	})
	return out, ok
}

func getMeal(st *state, id types.ID) (*meal.Meal, error) {
	m, ok := st.meals[id]
	if !ok {
		return nil, meal.ErrNotFound
	}
	return m.Clone(), nil
}
