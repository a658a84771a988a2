// README: RabbitMQ publisher for notification jobs; it is both an events.Sink and the
// dispatch notifier.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"hometaste/internal/events"
	"hometaste/internal/modules/order"
	"hometaste/internal/types"
)

// Channel is the publishing half of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch       Channel
	exchange string
	key      string
	log      logrus.FieldLogger
}

func NewPublisher(ch Channel, exchange, key string, log logrus.FieldLogger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, key: key, log: log}
}

// Publish enqueues the jobs the event triggers.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	var errs []error
	for _, j := range JobsFor(e) {
		errs = append(errs, p.enqueue(ctx, j))
	}
	return errors.Join(errs...)
}

// NotifyPartners enqueues a delivery offer for each partner.
func (p *Publisher) NotifyPartners(ctx context.Context, partnerIDs []types.ID, o *order.Order) error {
	var errs []error
	for _, id := range partnerIDs {
		errs = append(errs, p.enqueue(ctx, OfferJob(id, o)))
	}
	return errors.Join(errs...)
}

func (p *Publisher) enqueue(ctx context.Context, j Job) error {
	if j.UserID == "" {
		return nil
	}
	body, err := json.Marshal(j)
	if err != nil {
		return err
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(types.NewID()),
		Timestamp:    time.Now(),
		Type:         j.Kind,
		Body:         body,
	})
	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{
		"job":      j.Kind,
		"user_id":  j.UserID,
		"order_id": j.OrderID,
	}).Debug("notification queued")
	return nil
}
