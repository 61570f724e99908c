package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes events to a Kafka topic, keyed by contract address so
// each contract's events stay ordered within a partition.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
	now      func() time.Time
}

// NewKafkaSink dials brokers with a reliability-oriented producer config.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "mevguard"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, producer: p, now: time.Now}
}

func (s *KafkaSink) Emit(ctx context.Context, eventType, key string, payload interface{}) (err error) {
	defer func() { observe("kafka", err) }()

	// SyncProducer has no context; honour cancellation before sending.
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := encode(eventType, key, payload, s.now())
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
