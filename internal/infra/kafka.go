package infra

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns a writer publishing to topic on brokers. It returns
// nil when no brokers are configured; callers fall back to log delivery.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// PingKafka dials the first reachable broker.
func PingKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	dialer := &kafka.Dialer{Timeout: 2 * time.Second}
	var lastErr error
	for _, broker := range brokers {
		if _, _, err := net.SplitHostPort(broker); err != nil {
			lastErr = fmt.Errorf("invalid broker %q: %w", broker, err)
			continue
		}
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("dial kafka: %w", lastErr)
}
