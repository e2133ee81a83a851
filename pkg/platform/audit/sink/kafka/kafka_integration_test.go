//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"cardvault/pkg/domain"
	"cardvault/pkg/platform/audit"
	"cardvault/pkg/platform/audit/sink/kafka"
	"cardvault/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	ctx      context.Context
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
	s.ctx = context.Background()
}

func (s *KafkaSinkSuite) mustAddress() domain.Address {
	address, err := domain.NewAddress()
	s.Require().NoError(err)
	return address
}

func (s *KafkaSinkSuite) consumeOne(topic string) *kgo.Record {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().NotEmpty(records)
	return records[0]
}

func (s *KafkaSinkSuite) TestPublishRoundTrip() {
	topic := "cardvault.audit.test." + uuid.NewString()
	sink, err := kafka.New(s.ctx, []string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	defer sink.Close()

	event := audit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Action:    audit.ActionDebit,
		Actor:     s.mustAddress(),
		Subject:   s.mustAddress(),
		Asset:     domain.AssetID(7),
		Amount:    12_500,
		Nonce:     3,
		Reference: "tx-42",
		RequestID: uuid.NewString(),
	}
	s.Require().NoError(sink.Publish(s.ctx, event))

	record := s.consumeOne(topic)
	s.Equal(string(event.Subject), string(record.Key), "records are keyed by subject for per-account ordering")

	var wire struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Category  string    `json:"category"`
		Action    string    `json:"action"`
		Actor     string    `json:"actor"`
		Subject   string    `json:"subject"`
		Asset     string    `json:"asset"`
		Amount    uint64    `json:"amount"`
		Nonce     uint64    `json:"nonce"`
		Reference string    `json:"reference"`
		RequestID string    `json:"request_id"`
	}
	s.Require().NoError(json.Unmarshal(record.Value, &wire))
	s.Equal(event.ID, wire.ID)
	s.Equal("compliance", wire.Category)
	s.Equal("debit", wire.Action)
	s.Equal(event.Actor.String(), wire.Actor)
	s.Equal(event.Subject.String(), wire.Subject)
	s.Equal("7", wire.Asset)
	s.Equal(uint64(12_500), wire.Amount)
	s.Equal(uint64(3), wire.Nonce)
	s.Equal("tx-42", wire.Reference)
	s.Equal(event.RequestID, wire.RequestID)
	s.True(event.Timestamp.Equal(wire.Timestamp))
}

func (s *KafkaSinkSuite) TestNewToleratesAnExistingTopic() {
	topic := "cardvault.audit.test." + uuid.NewString()
	first, err := kafka.New(s.ctx, []string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	s.Require().NoError(first.Close())

	second, err := kafka.New(s.ctx, []string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	s.Require().NoError(second.Close())
}
