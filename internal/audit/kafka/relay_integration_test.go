//go:build integration

package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	auditpg "orthoplus/internal/audit/store/postgres"
	"orthoplus/pkg/testutil/containers"
)

// fakeOutbox hands out queued entries and remembers what was marked
// published. A publish failure leaves the batch pending, mirroring the
// transactional store.
type fakeOutbox struct {
	mu        sync.Mutex
	pending   []auditpg.OutboxEntry
	published []uuid.UUID
}

func (f *fakeOutbox) RelayPending(_ context.Context, limit int, publish func(entries []auditpg.OutboxEntry) error) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	batch := append([]auditpg.OutboxEntry(nil), f.pending[:limit]...)

	if err := publish(batch); err != nil {
		return 0, err
	}

	for _, e := range batch {
		f.published = append(f.published, e.ID)
	}
	f.pending = f.pending[limit:]
	return len(batch), nil
}

func TestRelayMovesOutboxToKafka(t *testing.T) {
	ctx := context.Background()
	rp := containers.GetManager().GetRedpanda(t)
	topic := "orthoplus.module-audit-test-" + uuid.NewString()[:8]

	tenantKey := uuid.NewString()
	source := &fakeOutbox{
		pending: []auditpg.OutboxEntry{
			{ID: uuid.New(), EventType: "module.activate", Key: tenantKey, Payload: []byte(`{"module_key":"PACIENTES"}`)},
			{ID: uuid.New(), EventType: "module.deactivate", Key: tenantKey, Payload: []byte(`{"module_key":"ESTOQUE"}`)},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay, err := NewRelay(rp.Brokers, topic, source, logger,
		WithInterval(200*time.Millisecond),
	)
	require.NoError(t, err)
	defer relay.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = relay.Run(runCtx) }()

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.published) == 2
	}, 15*time.Second, 200*time.Millisecond)

	// The records are consumable from the topic, keyed by tenant.
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 15*time.Second)
	defer fetchCancel()

	var records []*kgo.Record
	for len(records) < 2 {
		fetches := consumer.PollFetches(fetchCtx)
		require.NoError(t, fetches.Err())
		records = append(records, fetches.Records()...)
	}

	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, tenantKey, string(rec.Key))
	}
}

func TestRelayIdlesOnEmptyOutbox(t *testing.T) {
	rp := containers.GetManager().GetRedpanda(t)
	topic := "orthoplus.module-audit-test-" + uuid.NewString()[:8]

	source := &fakeOutbox{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay, err := NewRelay(rp.Brokers, topic, source, logger,
		WithInterval(100*time.Millisecond),
	)
	require.NoError(t, err)
	defer relay.Close()

	runCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = relay.Run(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Empty(t, source.published)
}
