// README: Notification worker: consumes jobs, resolves device tokens and sends best effort.
package notify

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
	"hometaste/internal/modules/user"
	"hometaste/internal/types"
)

type Users interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
}

// Sender delivers one job to one device.
type Sender interface {
	Send(ctx context.Context, token string, j Job) error
}

type Worker struct {
	users  Users
	sender Sender
	log    logrus.FieldLogger
}

func NewWorker(users Users, sender Sender, log logrus.FieldLogger) *Worker {
	return &Worker{users: users, sender: sender, log: log}
}

// Run handles deliveries until ctx is done or the channel closes.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

// handle acks every well-formed job whatever the send outcome; malformed bodies are
// rejected without requeue.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var j Job
	if err := json.Unmarshal(d.Body, &j); err != nil {
		w.log.WithError(err).WithField("message_id", d.MessageId).Error("malformed notification job")
		if err := d.Reject(false); err != nil {
			w.log.WithError(err).Warn("reject notification failed")
		}
		return
	}
	log := w.log.WithFields(logrus.Fields{
		"job":      j.Kind,
		"user_id":  j.UserID,
		"order_id": j.OrderID,
	})
	if err := w.deliver(ctx, j); err != nil {
		log.WithError(err).WithField("kind", apperr.KindUpstreamUnavailable).Warn("notification not delivered")
	} else {
		log.Info("notification sent")
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Warn("ack notification failed")
	}
}

func (w *Worker) deliver(ctx context.Context, j Job) error {
	u, err := w.users.Get(ctx, j.UserID)
	if err != nil {
		return err
	}
	if u.DeviceToken == "" {
		return ErrNoDeviceToken
	}
	return w.sender.Send(ctx, u.DeviceToken, j)
}
