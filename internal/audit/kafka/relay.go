// Package kafka relays audit records from the transactional outbox to a
// Kafka topic.
//
// The outbox keeps audit appends atomic with module state changes; the
// relay moves committed rows to Kafka afterwards. At-least-once delivery:
// a crash between produce and mark re-sends the batch, so consumers must
// dedupe on record ID.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	auditpg "orthoplus/internal/audit/store/postgres"
)

// OutboxSource is the slice of the audit store the relay needs. RelayPending
// claims a batch, runs the publish callback, and marks the batch published
// only when the callback succeeds.
type OutboxSource interface {
	RelayPending(ctx context.Context, limit int, publish func(entries []auditpg.OutboxEntry) error) (int, error)
}

// Relay polls the outbox and produces pending entries to Kafka.
type Relay struct {
	source   OutboxSource
	client   *kgo.Client
	topic    string
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

type RelayOption func(r *Relay)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize overrides how many outbox rows one poll moves.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batch = n }
}

// NewRelay connects to the brokers and ensures the topic exists.
func NewRelay(brokers []string, topic string, source OutboxSource, logger *slog.Logger, opts ...RelayOption) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	if err := ensureTopic(context.Background(), client, topic); err != nil {
		client.Close()
		return nil, err
	}

	r := &Relay{
		source:   source,
		client:   client,
		topic:    topic,
		logger:   logger,
		interval: 2 * time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Run polls until the context ends. Errors are logged and retried on the
// next tick rather than stopping the relay.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.relayOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WarnContext(ctx, "audit relay pass failed", "error", err)
			}
		}
	}
}

// relayOnce moves one batch of outbox entries to Kafka. The source holds the
// batch claimed for the whole pass, so the mark only lands when the produce
// succeeded.
func (r *Relay) relayOnce(ctx context.Context) error {
	n, err := r.source.RelayPending(ctx, r.batch, func(entries []auditpg.OutboxEntry) error {
		records := make([]*kgo.Record, len(entries))
		for i, e := range entries {
			records[i] = &kgo.Record{
				Topic: r.topic,
				Key:   []byte(e.Key),
				Value: e.Payload,
			}
		}
		if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return fmt.Errorf("produce audit batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if n > 0 {
		r.logger.DebugContext(ctx, "audit records relayed", "count", n)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (r *Relay) Close() {
	r.client.Close()
}
