// README: Exports committed order events to a Kafka topic, keyed by order id.
package events

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaExporter struct {
	writer MessageWriter
}

func NewKafkaExporter(w MessageWriter) *KafkaExporter {
	return &KafkaExporter{writer: w}
}

func (k *KafkaExporter) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Kind)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "kafka write")
	}
	return nil
}
