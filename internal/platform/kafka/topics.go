package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicSpec describes the events topic when the adapter has to create it.
type TopicSpec struct {
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       int64
}

// DefaultTopicSpec sizes the events topic for a single adapter instance.
// Events are keyed by object type, so a handful of partitions preserves
// per-object ordering while allowing consumer parallelism.
func DefaultTopicSpec() TopicSpec {
	return TopicSpec{
		Partitions:        6,
		ReplicationFactor: 1,
		RetentionMs:       7 * 24 * 60 * 60 * 1000,
	}
}

// EnsureTopic creates the configured events topic if it does not exist yet.
// Safe to call on every startup; an existing topic is left untouched.
func EnsureTopic(ctx context.Context, cfg SinkConfig, spec TopicSpec) error {
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("no broker addresses configured")
	}

	brokerList := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		brokerList[i] = strings.TrimSpace(addr)
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokerList...))
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()
	admin := kadm.NewClient(client)

	topic := cfg.Topic
	if topic == "" {
		topic = TopicLedgerEvents
	}

	existing, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if t, ok := existing[topic]; ok && t.Err == nil {
		return nil
	}

	retention := fmt.Sprintf("%d", spec.RetentionMs)
	resp, err := admin.CreateTopics(ctx, spec.Partitions, spec.ReplicationFactor,
		map[string]*string{
			"retention.ms": &retention,
		},
		topic,
	)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
