// Package events publishes relayed outbox events.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher connects a synchronous producer that waits for all
// in-sync replicas.
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	slog.Debug("event published", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher stands in when no brokers are configured: events are logged
// and marked sent.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	slog.Debug("event", "topic", topic, "key", key, "payload", string(payload))
	return nil
}

func (LogPublisher) Close() error { return nil }
