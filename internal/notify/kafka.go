package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/events"
	"meetbook/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes the event payload to "<prefix><event_type>" for
// the external notification service. Messages are keyed by booking id.
type KafkaNotifier struct {
	writer      messageWriter
	topicPrefix string
	now         func() time.Time
}

func NewKafkaNotifier(cfg config.KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{writer: writer, topicPrefix: cfg.TopicPrefix, now: time.Now}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, eventType string, b *models.Booking) error {
	value, err := json.Marshal(events.PayloadFromBooking(b, "", n.now()))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Topic: n.topicPrefix + eventType,
		Key:   []byte(b.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
