// README: Dispatch offers ready_for_pickup orders to nearby available partners and widens the
// offer once when nobody claims it in time.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
	"hometaste/internal/config"
	"hometaste/internal/events"
	"hometaste/internal/modules/location"
	"hometaste/internal/modules/order"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Store interface {
	RecordDispatch(ctx context.Context, orderID types.ID, partnerIDs []types.ID, at time.Time) error
	Due(ctx context.Context, cutoff time.Time) ([]types.ID, error)
	DispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error)
	IsBroadcast(ctx context.Context, orderID types.ID) (bool, error)
	Notified(ctx context.Context, orderID types.ID) ([]types.ID, error)
	MarkBroadcast(ctx context.Context, orderID types.ID, partnerIDs []types.ID) error
	Forget(ctx context.Context, orderID types.ID) error
}

type Finder interface {
	Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]location.Nearby, error)
}

type Partners interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

// Notifier delivers a new delivery offer to each partner.
type Notifier interface {
	NotifyPartners(ctx context.Context, partnerIDs []types.ID, o *order.Order) error
}

type Service struct {
	store    Store
	finder   Finder
	partners Partners
	orders   Orders
	notifier Notifier
	cfg      config.DispatchConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, finder Finder, partners Partners, orders Orders, notifier Notifier, cfg config.DispatchConfig, log logrus.FieldLogger) *Service {
	return &Service{
		store:    store,
		finder:   finder,
		partners: partners,
		orders:   orders,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Publish makes the service an events.Sink: orders reaching ready_for_pickup are
// dispatched, claimed or cancelled ones are forgotten.
func (s *Service) Publish(ctx context.Context, e events.Event) error {
	if e.Kind != events.KindStatusUpdate {
		return nil
	}
	switch order.Status(e.Status) {
	case order.StatusReadyForPickup:
		return s.Dispatch(ctx, e.OrderID)
	case order.StatusAssigned, order.StatusCancelled:
		return s.store.Forget(ctx, e.OrderID)
	}
	return nil
}

// Dispatch offers the order to a random few of the closest available partners. A
// redelivered ready_for_pickup event for an order already offered is a no-op.
func (s *Service) Dispatch(ctx context.Context, orderID types.ID) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !claimable(o) {
		return nil
	}
	if at, pending, err := s.store.DispatchedAt(ctx, orderID); err != nil {
		return err
	} else if pending {
		s.log.WithFields(logrus.Fields{
			"order_id":      orderID,
			"dispatched_at": at,
		}).Debug("order already dispatched")
		return nil
	}
	if done, err := s.store.IsBroadcast(ctx, orderID); err != nil {
		return err
	} else if done {
		return nil
	}
	var chosen []types.ID
	pickup := o.PickupAddress.Coordinates
	if pickup.IsZero() {
		s.log.WithField("order_id", orderID).Warn("pickup has no coordinates, waiting for partners to claim")
	} else {
		pool, err := s.available(ctx, pickup, s.cfg.RadiusKm, nil, selectPoolSize)
		if err != nil {
			return err
		}
		chosen = PickRandomPartners(pool, s.cfg.InitialCount)
		s.notify(ctx, chosen, o)
	}
	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"notified": len(chosen),
	}).Info("order dispatched")
	return s.store.RecordDispatch(ctx, orderID, chosen, s.now())
}

func (s *Service) RunScheduler(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 10 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick widens the offer for every order left unclaimed past broadcastDelay.
func (s *Service) tick(ctx context.Context) {
	due, err := s.store.Due(ctx, s.now().Add(-broadcastDelay))
	if err != nil {
		s.log.WithError(err).Warn("list due dispatches failed")
		return
	}
	for _, id := range due {
		if err := s.broadcast(ctx, id); err != nil {
			s.log.WithError(err).WithField("order_id", id).Warn("wider broadcast failed")
		}
	}
}

func (s *Service) broadcast(ctx context.Context, orderID types.ID) error {
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return s.store.Forget(ctx, orderID)
	}
	if err != nil {
		return err
	}
	if !claimable(o) {
		return s.store.Forget(ctx, orderID)
	}
	var extra []types.ID
	if pickup := o.PickupAddress.Coordinates; !pickup.IsZero() {
		notified, err := s.store.Notified(ctx, orderID)
		if err != nil {
			return err
		}
		skip := make(map[types.ID]bool, len(notified))
		for _, id := range notified {
			skip[id] = true
		}
		extra, err = s.available(ctx, pickup, s.cfg.RadiusKm*wideRadiusFactor, skip, 0)
		if err != nil {
			return err
		}
		s.notify(ctx, extra, o)
	}
	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"notified": len(extra),
	}).Info("order broadcast to wider radius")
	return s.store.MarkBroadcast(ctx, orderID, extra)
}

// available returns up to limit (0 = all) available partners within radiusKm, closest
// first, leaving out skip.
func (s *Service) available(ctx context.Context, center types.Point, radiusKm float64, skip map[types.ID]bool, limit int) ([]types.ID, error) {
	near, err := s.finder.Nearby(ctx, center, radiusKm)
	if err != nil {
		return nil, err
	}
	var out []types.ID
	for _, n := range near {
		if skip[n.PartnerID] {
			continue
		}
		p, err := s.partners.Get(ctx, n.PartnerID)
		if err != nil {
			s.log.WithError(err).WithField("partner_id", n.PartnerID).Debug("skip indexed partner")
			continue
		}
		if p.Role != user.RoleDeliveryPartner || p.Partner == nil || !p.Partner.Available {
			continue
		}
		out = append(out, n.PartnerID)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, partnerIDs []types.ID, o *order.Order) {
	if len(partnerIDs) == 0 || s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPartners(ctx, partnerIDs, o); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"order_id": o.ID,
			"kind":     apperr.KindUpstreamUnavailable,
		}).Warn("notify partners failed")
	}
}

func claimable(o *order.Order) bool {
	return o.Status == order.StatusReadyForPickup && o.DeliveryPartnerID == nil
}
