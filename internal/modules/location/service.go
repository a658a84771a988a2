// README: Location service persists partner positions, indexes them for dispatch and
// broadcasts them to every order the partner is delivering.
package location

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
	"hometaste/internal/events"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Accounts interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
}

// Index holds the positions dispatch searches; only available partners stay in it.
type Index interface {
	Put(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
}

// ActiveOrders lists the orders a partner is delivering right now.
type ActiveOrders interface {
	ActiveOrderIDs(ctx context.Context, partnerID types.ID) ([]types.ID, error)
}

type Service struct {
	users  Accounts
	index  Index
	orders ActiveOrders
	sink   events.Sink
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(users Accounts, index Index, orders ActiveOrders, sink events.Sink, log logrus.FieldLogger) *Service {
	if sink == nil {
		sink = events.Discard
	}
	return &Service{users: users, index: index, orders: orders, sink: sink, log: log, now: time.Now}
}

// Update records the position. The database write is the only step that can fail the
// call; indexing and broadcast problems are logged.
func (s *Service) Update(ctx context.Context, u Update) (Result, error) {
	if !ValidPoint(u.Position) || u.Position.IsZero() {
		return Result{}, ErrBadPosition
	}
	p, err := s.users.Get(ctx, u.PartnerID)
	if err != nil {
		return Result{}, err
	}
	if p.Role != user.RoleDeliveryPartner {
		return Result{}, ErrNotPartner
	}
	now := s.now()
	if err := s.users.UpdateLocation(ctx, u.PartnerID, u.Position, now); err != nil {
		return Result{}, err
	}
	res := Result{RecordedAt: now}
	fields := logrus.Fields{"partner_id": u.PartnerID, "kind": apperr.KindUpstreamUnavailable}

	if s.index != nil {
		if p.Partner != nil && p.Partner.Available {
			err = s.index.Put(ctx, u.PartnerID, u.Position)
		} else {
			err = s.index.Remove(ctx, u.PartnerID)
		}
		if err != nil {
			s.log.WithError(err).WithFields(fields).Warn("index partner location failed")
		}
	}
	ids, err := s.orders.ActiveOrderIDs(ctx, u.PartnerID)
	if err != nil {
		s.log.WithError(err).WithFields(fields).Warn("list active orders failed")
		return res, nil
	}
	pos := u.Position
	for _, id := range ids {
		e := events.Event{
			Kind:      events.KindLocationUpdate,
			OrderID:   id,
			PartnerID: u.PartnerID.Ptr(),
			Location:  &pos,
			At:        now,
		}
		if err := s.sink.Publish(ctx, e); err != nil {
			s.log.WithError(err).WithFields(fields).Warn("broadcast location failed")
			continue
		}
		res.Broadcasted++
	}
	return res, nil
}
