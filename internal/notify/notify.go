// Package notify hands persisted chat messages to the offline notification
// pipeline. Delivery to offline users happens downstream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, models.MessageEvent) error { return nil }

func (Nop) Close() error { return nil }

// KafkaNotifier publishes message events keyed by room, so one room's
// messages stay ordered within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Error("Kafka delivery failed for %d message(s): %v", len(messages), err)
				}
			},
		},
	}
}

// Notify enqueues ev. The writer is async, so broker errors surface through
// the completion callback rather than here.
func (n *KafkaNotifier) Notify(ctx context.Context, ev models.MessageEvent) error {
	msg, err := encodeMessage(ev)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", ev.MessageID, err)
	}
	return nil
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func encodeMessage(ev models.MessageEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode message %s: %w", ev.MessageID, err)
	}
	return kafka.Message{
		Key:   []byte(ev.RoomID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type())},
			{Key: "sender-id", Value: []byte(ev.SenderID)},
		},
	}, nil
}
