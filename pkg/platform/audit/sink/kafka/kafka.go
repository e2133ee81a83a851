// Package kafka streams audit events to a Kafka topic for downstream
// compliance and SIEM consumers. The outbox store stays the system of record;
// this sink is best effort by contract.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"cardvault/pkg/platform/audit"
)

const DefaultTopic = "cardvault.audit"

type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects to the brokers and ensures the audit topic exists.
func New(ctx context.Context, brokers []string, topic string) (*Sink, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// Already-exists is the normal steady state.
		if !errors.Is(err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
	}
	return &Sink{client: client, topic: topic}, nil
}

type wireEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Subject   string    `json:"subject"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Nonce     uint64    `json:"nonce"`
	Reference string    `json:"reference,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Publish produces one event, keyed by subject so per-account ordering holds.
func (s *Sink) Publish(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(wireEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Category:  string(event.Category()),
		Action:    string(event.Action),
		Actor:     event.Actor.String(),
		Subject:   event.Subject.String(),
		Asset:     event.Asset.String(),
		Amount:    event.Amount,
		Nonce:     event.Nonce,
		Reference: event.Reference,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: payload,
	}
	return s.client.ProduceSync(ctx, record).FirstErr()
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
