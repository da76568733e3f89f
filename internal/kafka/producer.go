package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"resource-service/internal/event"

	"github.com/IBM/sarama"
)

// Producer publishes events to a single topic keyed by event type.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

var _ event.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string, logger *slog.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic", topic)

	return newWithSyncProducer(producer, topic, logger), nil
}

func newWithSyncProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *Producer) Publish(ctx context.Context, ev event.Event) error {
	valueBytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Type),
		Value: sarama.ByteEncoder(valueBytes),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message to kafka: %w", err)
	}

	p.logger.DebugContext(ctx, "event sent to kafka", "topic", p.topic, "partition", partition, "offset", offset, "key", ev.Type)
	return nil
}

func (p *Producer) Name() string {
	return "kafka"
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
