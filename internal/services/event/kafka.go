package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paygate/internal/domain/event"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher writes events to one topic keyed by order id, so the events of
// a single order keep their order within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducerConfig returns the sarama settings the publisher relies on.
func NewKafkaProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 10 * time.Second
	return cfg
}

// NewKafkaPublisher dials the brokers and returns a ready publisher.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "paygate"
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher ready")
	return NewKafkaPublisherFromProducer(p, cfg.Topic), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(evt.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send event %s: %w", evt.ID, err)
	}
	log.Debug().
		Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
