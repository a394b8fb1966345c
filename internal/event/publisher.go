// Package event publishes document lifecycle events to Kafka.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"docvault/internal/config"
	"docvault/internal/model"
)

// Publisher delivers staged outbox events to the bus. Implementations must
// confirm delivery before returning nil; the dispatcher deletes the outbox
// row on a nil return.
type Publisher interface {
	Publish(ctx context.Context, evt model.OutboxEvent) error
	Close()
}

// Envelope is the wire shape of a published event. Consumers de-duplicate
// on event_id since delivery is at-least-once.
type Envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Service   string          `json:"service"`
	Data      json.RawMessage `json:"data"`
}

type kafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafka builds a Kafka publisher. The producer requires acks from all
// in-sync replicas, which also enables idempotent production in franz-go.
func NewKafka(cfg config.KafkaConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			return backoff
		}),
		kgo.RequestRetries(5),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &kafkaPublisher{client: client, topic: cfg.Topic}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, evt model.OutboxEvent) error {
	env := Envelope{
		EventID:   evt.EventID,
		EventType: evt.EventType,
		Timestamp: evt.CreatedAt,
		Service:   "docvault",
		Data:      json.RawMessage(evt.Payload),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		// Keying on the document keeps one document's lifecycle ordered
		// within a partition.
		Key:   []byte(fmt.Sprintf("doc:%s", evt.DocumentID)),
		Value: value,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish %s: %w", evt.EventType, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() {
	p.client.Close()
}
