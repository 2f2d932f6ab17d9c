package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflow-go/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Message is one record handed to the bus. Value is already serialized.
type Message struct {
	Key     string
	Type    string
	Value   []byte
	Headers map[string]string
}

// Publisher is the write side of the event bus
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type KafkaEventBus struct {
	config KafkaConfig
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaEventBus builds an asynchronous writer. Publish only enqueues;
// delivery failures are reported to log once per failed batch.
func NewKafkaEventBus(config KafkaConfig, log logger.Logger) (*KafkaEventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}

	bus := &KafkaEventBus{
		config: config,
		logger: log,
	}
	bus.writer = &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   bus.completed,
	}
	return bus, nil
}

func (k *KafkaEventBus) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	k.logger.Warn("Failed to deliver events to Kafka",
		"topic", k.config.Topic,
		"messages", len(messages),
		"error", err,
	)
}

// Publish enqueues one message. The key keeps all events of one execution on
// one partition, so they stay ordered for consumers.
func (k *KafkaEventBus) Publish(ctx context.Context, msg Message) error {
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(msg.Type)},
	}
	for key, value := range msg.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}
	return nil
}

func (k *KafkaEventBus) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}
