// Package kafka publishes mapped ledger events to a Kafka/Redpanda topic so
// services outside this process can consume the same stream the in-process
// subscribers see.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/recolist/ledger-adapter/internal/ledger"
)

// TopicLedgerEvents is the default topic mapped events are produced to.
const TopicLedgerEvents = "ledger-events"

// SinkConfig holds broker settings for the event sink.
type SinkConfig struct {
	Addresses []string `yaml:"addresses"`
	Topic     string   `yaml:"topic"`
}

// Sink produces ChainEvents to a broker topic. Publish failures are the
// caller's to log; they must never gate the poll cursor.
type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewSink connects a producer to the configured brokers.
func NewSink(cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("no broker addresses configured")
	}

	brokerList := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		brokerList[i] = strings.TrimSpace(addr)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokerList...),
		kgo.MaxProduceRequestsInflightPerBroker(1),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = TopicLedgerEvents
	}

	logger.Info("connected to message broker", "brokers", brokerList, "topic", topic)
	return &Sink{
		client: client,
		topic:  topic,
		logger: logger.With("component", "kafka-sink"),
	}, nil
}

// Publish produces one event, keyed by object type so per-object ordering is
// preserved within a partition.
func (s *Sink) Publish(ctx context.Context, event ledger.ChainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.ObjectType),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "commit_number", Value: []byte(fmt.Sprintf("%d", event.CommitNumber))},
		},
	}

	results := s.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}

// Close flushes pending records and releases the producer.
func (s *Sink) Close() {
	s.client.Flush(context.Background())
	s.client.Close()
}
