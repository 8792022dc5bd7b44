package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/safetrade/escrowd/internal/escrow"
)

// kafkaEnvelope is the wire shape published per notification.
type kafkaEnvelope struct {
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Context     map[string]string `json:"context"`
	EmittedAt   time.Time         `json:"emitted_at"`
}

// Kafka publishes notifications to a single topic, keyed by transaction
// ID so all events for one transaction land on the same partition in
// order.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka builds a Kafka notifier for the given broker and topic.
func NewKafka(broker, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *Kafka) Notify(ctx context.Context, n escrow.Notification) error {
	data, err := json.Marshal(kafkaEnvelope{
		RecipientID: n.RecipientID,
		Type:        n.Type,
		Context:     n.Context,
		EmittedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Context["transaction_id"]),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes pending async writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
