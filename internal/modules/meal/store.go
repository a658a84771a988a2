// README: Meal store backed by PostgreSQL; also the transactional availability ledger.
package meal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"hometaste/internal/infra"
	"hometaste/internal/types"
)

type Store struct {
	db infra.DBTX
}

// NewStore accepts a pool or a pgx.Tx; inside a transaction the store serves as Ledger.
func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

const mealColumns = `
	id, kitchen_id, name, description, price, currency, category, cuisine, food_type,
	tags, city, preparation_minutes, rating_average, rating_count, active, created_at`

// Create inserts the meal and its slots in one batch. Remaining starts at capacity.
func (s *Store) Create(ctx context.Context, m *Meal) error {
	b := &pgx.Batch{}
	b.Queue(`
		INSERT INTO meals (`+mealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(m.ID), string(m.KitchenID), m.Name, m.Description, m.Price.Amount, m.Price.Currency,
		m.Category, m.Cuisine, m.FoodType, m.Tags, m.City, m.PreparationMinutes,
		m.Rating.Average, m.Rating.Count, m.Active, m.CreatedAt,
	)
	for _, sl := range m.Slots {
		b.Queue(`
			INSERT INTO meal_slots (meal_id, slot_date, start_time, end_time, capacity, remaining)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(m.ID), sl.Date, sl.Start, sl.End, sl.Capacity, sl.Remaining,
		)
	}
	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return errors.Wrap(err, "insert meal")
		}
	}
	return errors.Wrap(br.Close(), "insert meal")
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Meal, error) {
	m, err := scanMeal(s.db.QueryRow(ctx, `SELECT`+mealColumns+` FROM meals WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select meal")
	}
	if err := s.loadSlots(ctx, []*Meal{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns one page of active meals, best rated first, and the total match count.
func (s *Store) List(ctx context.Context, f Filter) ([]*Meal, int, error) {
	f.Normalize()
	where := []string{"active"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Cuisine != "" {
		add("cuisine = $%d", f.Cuisine)
	}
	if f.FoodType != "" {
		add("food_type = $%d", f.FoodType)
	}
	if f.City != "" {
		add("city ILIKE $%d", f.City)
	}
	if f.KitchenID != "" {
		add("kitchen_id = $%d", string(f.KitchenID))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(name ILIKE $%d OR description ILIKE $%d OR array_to_string(tags, ' ') ILIKE $%d)", n, n, n))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM meals WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count meals")
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT`+mealColumns+` FROM meals WHERE %s
		ORDER BY rating_average DESC, created_at DESC
		LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list meals")
	}
	defer rows.Close()
	var out []*Meal
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan meal")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list meals")
	}
	if err := s.loadSlots(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update runs as one batch, so it commits or fails as a whole. Lowering a slot's capacity
// below what was ordered trips meal_slots_remaining_range.
func (s *Store) Update(ctx context.Context, m *Meal, slots []Slot) error {
	b := &pgx.Batch{}
	b.Queue(`
		UPDATE meals
		SET name = $2, description = $3, price = $4, category = $5, cuisine = $6,
		    food_type = $7, tags = $8, preparation_minutes = $9
		WHERE id = $1`,
		string(m.ID), m.Name, m.Description, m.Price.Amount, m.Category, m.Cuisine,
		m.FoodType, m.Tags, m.PreparationMinutes,
	)
	for _, sl := range slots {
		b.Queue(`
			INSERT INTO meal_slots (meal_id, slot_date, start_time, end_time, capacity, remaining)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (meal_id, slot_date, start_time) DO UPDATE
			SET end_time = EXCLUDED.end_time,
			    capacity = EXCLUDED.capacity,
			    remaining = EXCLUDED.capacity - (meal_slots.capacity - meal_slots.remaining)`,
			string(m.ID), sl.Date, sl.Start, sl.End, sl.Capacity,
		)
	}
	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err == nil && i == 0 && tag.RowsAffected() == 0 {
			err = ErrNotFound
		}
		if err != nil {
			br.Close()
			if infra.IsCheckViolation(err, "meal_slots_remaining_range") {
				return ErrCapacityBelowOrdered
			}
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return errors.Wrap(err, "update meal")
		}
	}
	return errors.Wrap(br.Close(), "update meal")
}

func (s *Store) Deactivate(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `UPDATE meals SET active = FALSE WHERE id = $1`, string(id))
	if err != nil {
		return errors.Wrap(err, "deactivate meal")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddReview stores one review per user and folds it into the running average.
func (s *Store) AddReview(ctx context.Context, r Review) (Rating, error) {
	var rt Rating
	err := s.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO meal_reviews (meal_id, user_id, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (meal_id, user_id) DO NOTHING
			RETURNING rating
		)
		UPDATE meals m
		SET rating_average = (m.rating_average * m.rating_count + ins.rating) / (m.rating_count + 1),
		    rating_count = m.rating_count + 1
		FROM ins
		WHERE m.id = $1
		RETURNING m.rating_average, m.rating_count`,
		string(r.MealID), string(r.UserID), r.Rating, r.Comment, r.CreatedAt,
	).Scan(&rt.Average, &rt.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rating{}, ErrAlreadyReviewed
	}
	if err != nil {
		return Rating{}, errors.Wrap(err, "add review")
	}
	rt.Average = RoundRating(rt.Average)
	return rt, nil
}

// Reserve decrements remaining only while it stays non-negative.
func (s *Store) Reserve(ctx context.Context, id types.ID, key SlotKey, qty int) error {
	if qty <= 0 {
		return ErrBadQuantity
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE meal_slots SET remaining = remaining - $4
		WHERE meal_id = $1 AND slot_date = $2 AND start_time = $3 AND remaining >= $4`,
		string(id), key.Date, key.Start, qty,
	)
	if err != nil {
		return errors.Wrap(err, "reserve slot")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.missingOrExhausted(ctx, id, key)
}

// Release increments remaining, clamped at capacity.
func (s *Store) Release(ctx context.Context, id types.ID, key SlotKey, qty int) error {
	if qty <= 0 {
		return ErrBadQuantity
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE meal_slots SET remaining = LEAST(capacity, remaining + $4)
		WHERE meal_id = $1 AND slot_date = $2 AND start_time = $3`,
		string(id), key.Date, key.Start, qty,
	)
	if err != nil {
		return errors.Wrap(err, "release slot")
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *Store) missingOrExhausted(ctx context.Context, id types.ID, key SlotKey) error {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM meal_slots WHERE meal_id = $1 AND slot_date = $2 AND start_time = $3
		)`, string(id), key.Date, key.Start,
	).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check slot")
	}
	if !exists {
		return ErrSlotNotFound
	}
	return ErrInsufficientAvailability
}

func (s *Store) loadSlots(ctx context.Context, meals []*Meal) error {
	if len(meals) == 0 {
		return nil
	}
	ids := make([]string, len(meals))
	byID := make(map[types.ID]*Meal, len(meals))
	for i, m := range meals {
		ids[i] = string(m.ID)
		byID[m.ID] = m
	}
	rows, err := s.db.Query(ctx, `
		SELECT meal_id, slot_date, start_time, end_time, capacity, remaining
		FROM meal_slots WHERE meal_id = ANY($1)
		ORDER BY slot_date, start_time`, ids)
	if err != nil {
		return errors.Wrap(err, "select slots")
	}
	defer rows.Close()
	for rows.Next() {
		var mealID types.ID
		var sl Slot
		if err := rows.Scan(&mealID, &sl.Date, &sl.Start, &sl.End, &sl.Capacity, &sl.Remaining); err != nil {
			return errors.Wrap(err, "scan slot")
		}
		if m := byID[mealID]; m != nil {
			m.Slots = append(m.Slots, sl)
		}
	}
	return errors.Wrap(rows.Err(), "select slots")
}

func scanMeal(row pgx.Row) (*Meal, error) {
	var m Meal
	err := row.Scan(
		&m.ID, &m.KitchenID, &m.Name, &m.Description, &m.Price.Amount, &m.Price.Currency,
		&m.Category, &m.Cuisine, &m.FoodType, &m.Tags, &m.City, &m.PreparationMinutes,
		&m.Rating.Average, &m.Rating.Count, &m.Active, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Rating.Average = RoundRating(m.Rating.Average)
	return &m, nil
}
