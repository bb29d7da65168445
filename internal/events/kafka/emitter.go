// Package kafka emits change events to a Kafka topic through the
// confluent producer, waiting for per-message delivery reports so failed
// deliveries surface as errors instead of vanishing into the producer queue.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"data-engine/internal/common/factory"
	"data-engine/internal/events"
)

// Emitter publishes serialized events to Kafka
type Emitter struct {
	config   *Config
	producer *kafka.Producer
}

func NewEmitter(config *Config) (*Emitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(config.configMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Emitter{config: config, producer: producer}, nil
}

func (e *Emitter) Name() string {
	return "kafka"
}

func (e *Emitter) Emit(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		topic = e.config.Topic
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Value:     payload,
		Timestamp: time.Now(),
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := e.producer.Produce(msg, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case event := <-deliveryChan:
		delivered, ok := event.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", event)
		}
		if delivered.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", delivered.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) Health(ctx context.Context) error {
	if _, err := e.producer.GetMetadata(nil, false, int(e.config.Timeout.Milliseconds())); err != nil {
		return fmt.Errorf("kafka metadata probe failed: %w", err)
	}
	return nil
}

func (e *Emitter) Close() error {
	e.producer.Flush(int(e.config.Timeout.Milliseconds()))
	e.producer.Close()
	return nil
}

func init() {
	if err := events.Register(factory.NewFactory("kafka", func(config *Config) (events.Emitter, error) {
		return NewEmitter(config)
	})); err != nil {
		panic(err)
	}
}
