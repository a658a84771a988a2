// README: RabbitMQ connection and notification queue topology.
package infra

import (
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const NotificationsExchange = "notifications_direct"

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Queue   string
}

// ConnectRabbitMQ dials url and declares the durable notification exchange and queue.
func ConnectRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "amqp channel")
	}
	if err := declareNotifications(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitMQ{Conn: conn, Channel: ch, Queue: queue}, nil
}

func declareNotifications(ch *amqp.Channel, queue string) error {
	if err := ch.ExchangeDeclare(
		NotificationsExchange, // name
		"direct",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	); err != nil {
		return errors.Wrap(err, "declare exchange")
	}
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(queue, queue, NotificationsExchange, false, nil); err != nil {
		return errors.Wrap(err, "bind queue")
	}
	return nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.Conn != nil {
		r.Conn.Close()
	}
}

// Consume starts a manual-ack consumer on the notification queue.
func (r *RabbitMQ) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	if err := r.Channel.Qos(prefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	deliveries, err := r.Channel.Consume(
		r.Queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, errors.Wrapf(err, "consume %s", r.Queue)
	}
	return deliveries, nil
}
