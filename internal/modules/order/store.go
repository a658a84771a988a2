// README: Order store backed by PostgreSQL; one pgx transaction spans every module it touches.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"hometaste/internal/infra"
	"hometaste/internal/modules/earnings"
	"hometaste/internal/modules/meal"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return infra.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			tx:       tx,
			meals:    meal.NewStore(tx),
			users:    user.NewStore(tx),
			earnings: earnings.NewStore(tx),
		})
	})
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	where := []string{"TRUE"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", string(f.CustomerID))
	}
	if f.KitchenID != "" {
		add("kitchen_id = $%d", string(f.KitchenID))
	}
	if f.PartnerID != "" {
		add("delivery_partner_id = $%d", string(f.PartnerID))
	}
	if f.Unassigned {
		where = append(where, "delivery_partner_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		st := make([]string, len(f.Statuses))
		for i, v := range f.Statuses {
			st[i] = string(v)
		}
		add("status = ANY($%d)", st)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < $%d", *f.CreatedTo)
	}
	if f.DeliveredFrom != nil {
		add("actual_delivery_time >= $%d", *f.DeliveredFrom)
	}
	if f.DeliveredTo != nil {
		add("actual_delivery_time <= $%d", *f.DeliveredTo)
	}
	orderBy := "created_at DESC"
	switch f.Sort {
	case SortScheduled:
		orderBy = "scheduled_date ASC, scheduled_start ASC, created_at ASC"
	case SortDelivered:
		orderBy = "actual_delivery_time DESC"
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT`+orderColumns+` FROM orders WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), orderBy, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if err := loadHistory(ctx, s.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

type pgTx struct {
	tx       pgx.Tx
	meals    *meal.Store
	users    *user.Store
	earnings *earnings.Store
}

func (t *pgTx) Meals() meal.Ledger        { return t.meals }
func (t *pgTx) Users() user.Accounts      { return t.users }
func (t *pgTx) Earnings() earnings.Ledger { return t.earnings }

func (t *pgTx) GetForUpdate(ctx context.Context, id types.ID) (*Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) Insert(ctx context.Context, o *Order) (bool, error) {
	items, pickup, dropoff, rating, cancellation, err := marshalDocs(o)
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32
		)
		ON CONFLICT ON CONSTRAINT orders_order_number_key DO NOTHING`,
		string(o.ID), o.Number, string(o.CustomerID), string(o.KitchenID), idPtr(o.DeliveryPartnerID),
		items, pickup, dropoff, o.Scheduled.Date, o.Scheduled.Start,
		o.Scheduled.End, o.IsScheduled, string(o.Status), o.Version, o.Pricing.Currency,
		o.Pricing.Subtotal, o.Pricing.DeliveryFee, o.Pricing.Tax, o.Pricing.Discount, o.Pricing.Total,
		string(o.Payment.Method), string(o.Payment.Status), o.Payment.TransactionID, o.DeliveryInstructions, o.PromoCode,
		o.EstimatedDeliveryTime, o.ActualDeliveryTime, o.DeliveryProof, rating, cancellation,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "insert order")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) Update(ctx context.Context, o *Order, from Status, version int) (bool, error) {
	_, _, _, rating, cancellation, err := marshalDocs(o)
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = $2,
		    delivery_partner_id = $3,
		    payment_status = $4,
		    payment_tx_id = $5,
		    actual_delivery_time = $6,
		    delivery_proof = $7,
		    rating = $8,
		    cancellation = $9,
		    updated_at = $10
		WHERE id = $11 AND status = $12 AND status_version = $13`,
		string(o.Status),
		o.Version,
		idPtr(o.DeliveryPartnerID),
		string(o.Payment.Status),
		o.Payment.TransactionID,
		o.ActualDeliveryTime,
		o.DeliveryProof,
		rating,
		cancellation,
		o.UpdatedAt,
		string(o.ID),
		string(from),
		version,
	)
	if err != nil {
		return false, errors.Wrap(err, "update order")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendHistory(ctx context.Context, id types.ID, h HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(id), string(h.Status), h.Note, idPtr(h.Actor), h.At,
	)
	return errors.Wrap(err, "append history")
}

func (t *pgTx) BindPartner(ctx context.Context, id, partnerID types.ID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET delivery_partner_id = $2
		WHERE id = $1 AND status = 'ready_for_pickup' AND delivery_partner_id IS NULL`,
		string(id), string(partnerID),
	)
	if err != nil {
		return false, errors.Wrap(err, "bind partner")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) CountActiveForPartner(ctx context.Context, partnerID, exclude types.ID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE delivery_partner_id = $1
		  AND status IN ('assigned', 'picked_up', 'out_for_delivery')
		  AND id <> $2`,
		string(partnerID), string(exclude),
	).Scan(&n)
	return n, errors.Wrap(err, "count active deliveries")
}

const orderColumns = `
	id, order_number, customer_id, kitchen_id, delivery_partner_id,
	items, pickup_address, delivery_address, scheduled_date, scheduled_start,
	scheduled_end, is_scheduled, status, status_version, currency,
	subtotal, delivery_fee, tax, discount, total,
	payment_method, payment_status, payment_tx_id, delivery_instructions, promo_code,
	estimated_delivery_time, actual_delivery_time, delivery_proof, rating, cancellation,
	created_at, updated_at`

func getOrder(ctx context.Context, db infra.DBTX, id types.ID, forUpdate bool) (*Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadHistory(ctx, db, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func loadHistory(ctx context.Context, db infra.DBTX, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[types.ID]*Order, len(orders))
	for i, o := range orders {
		ids[i] = string(o.ID)
		byID[o.ID] = o
	}
	rows, err := db.Query(ctx, `
		SELECT order_id, status, note, actor_id, created_at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return errors.Wrap(err, "select history")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID types.ID
			h       HistoryEntry
			actor   *string
		)
		if err := rows.Scan(&orderID, &h.Status, &h.Note, &actor, &h.At); err != nil {
			return errors.Wrap(err, "scan history")
		}
		if actor != nil {
			h.Actor = types.ID(*actor).Ptr()
		}
		if o := byID[orderID]; o != nil {
			o.History = append(o.History, h)
		}
	}
	return errors.Wrap(rows.Err(), "select history")
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                     Order
		partner                               *string
		items, pickup, dropoff                []byte
		rating, cancellation                  []byte
		status, method, paymentStatus         string
		estimatedDelivery, actualDeliveryTime *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.KitchenID, &partner,
		&items, &pickup, &dropoff, &o.Scheduled.Date, &o.Scheduled.Start,
		&o.Scheduled.End, &o.IsScheduled, &status, &o.Version, &o.Pricing.Currency,
		&o.Pricing.Subtotal, &o.Pricing.DeliveryFee, &o.Pricing.Tax, &o.Pricing.Discount, &o.Pricing.Total,
		&method, &paymentStatus, &o.Payment.TransactionID, &o.DeliveryInstructions, &o.PromoCode,
		&estimatedDelivery, &actualDeliveryTime, &o.DeliveryProof, &rating, &cancellation,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.Payment.Method = PaymentMethod(method)
	o.Payment.Status = PaymentStatus(paymentStatus)
	o.EstimatedDeliveryTime = estimatedDelivery
	o.ActualDeliveryTime = actualDeliveryTime
	if partner != nil {
		o.DeliveryPartnerID = types.ID(*partner).Ptr()
	}
	docs := []struct {
		raw []byte
		dst any
	}{
		{items, &o.Items},
		{pickup, &o.PickupAddress},
		{dropoff, &o.DeliveryAddress},
		{rating, &o.Rating},
		{cancellation, &o.Cancellation},
	}
	for _, d := range docs {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, errors.Wrap(err, "decode order document")
		}
	}
	return &o, nil
}

func marshalDocs(o *Order) (items, pickup, dropoff, rating, cancellation []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return
	}
	if pickup, err = json.Marshal(o.PickupAddress); err != nil {
		return
	}
	if dropoff, err = json.Marshal(o.DeliveryAddress); err != nil {
		return
	}
	if o.Rating != nil {
		if rating, err = json.Marshal(o.Rating); err != nil {
			return
		}
	}
	if o.Cancellation != nil {
		cancellation, err = json.Marshal(o.Cancellation)
	}
	return
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
