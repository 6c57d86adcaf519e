package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaDispatcher publishes notifications for the push delivery workers.
// Messages are keyed by user id so one user's notifications stay ordered.
type KafkaDispatcher struct {
	writer *kafka.Writer
}

func NewKafkaDispatcher(brokers []string, topic string) (*KafkaDispatcher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka dispatcher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka dispatcher requires a topic")
	}
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
