package notification

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed by the
// destination user so one user's events stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps a configured writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send publishes the message.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: message.Body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", message.Kind, err)
	}
	return nil
}
