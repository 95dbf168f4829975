package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orthoplus/internal/audit"
	"orthoplus/internal/audit/store/memory"
	id "orthoplus/pkg/domain"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	record := audit.Record{
		TenantID:  tenantID,
		ModuleKey: id.ModuleFinanceiro,
		Action:    audit.ActionActivate,
		Outcome:   audit.OutcomeApplied,
	}

	err := pub.Emit(context.Background(), record)
	require.NoError(t, err)

	records, err := pub.List(context.Background(), tenantID, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.ActionActivate, records[0].Action)
	assert.NotEqual(t, uuid.Nil, records[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, audit.WithAsyncBuffer(10))
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	record := audit.Record{
		TenantID:  tenantID,
		ModuleKey: id.ModuleCRM,
		Action:    audit.ActionActivate,
		Outcome:   audit.OutcomeRejected,
		Reason:    "UNMET_DEPENDENCY",
	}

	err := pub.Emit(context.Background(), record)
	require.NoError(t, err)

	// Wait for async processing
	time.Sleep(100 * time.Millisecond)

	records, err := pub.List(context.Background(), tenantID, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeRejected, records[0].Outcome)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, audit.WithAsyncBuffer(100))

	tenantID := id.TenantID(uuid.New())

	for range 10 {
		record := audit.Record{
			TenantID:  tenantID,
			ModuleKey: id.ModuleAgenda,
			Action:    audit.ActionActivate,
			Outcome:   audit.OutcomeApplied,
		}
		err := pub.Emit(context.Background(), record)
		require.NoError(t, err)
	}

	// Close should drain all records
	pub.Close()

	records, err := store.ListByTenant(context.Background(), tenantID, audit.Query{})
	require.NoError(t, err)
	assert.Len(t, records, 10, "all records should be drained on close")
}

func TestPublisher_BufferFull_DropsRecord(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, audit.WithAsyncBuffer(1))
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())

	// Fill the buffer with concurrent writes
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := audit.Record{
				TenantID:  tenantID,
				ModuleKey: id.ModuleEstoque,
				Action:    audit.ActionActivate,
				Outcome:   audit.OutcomeApplied,
			}
			_ = pub.Emit(context.Background(), record)
		}()
	}
	wg.Wait()

	// Some records may have been dropped (buffer size 1)
	// Just verify no panic and publisher still works
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	record := audit.Record{
		TenantID:  tenantID,
		ModuleKey: id.ModulePacientes,
		Action:    audit.ActionSubscribe,
		Outcome:   audit.OutcomeApplied,
		// OccurredAt not set
	}

	before := time.Now()
	err := pub.Emit(context.Background(), record)
	require.NoError(t, err)
	after := time.Now()

	records, err := pub.List(context.Background(), tenantID, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, !records[0].OccurredAt.Before(before), "timestamp should be >= before")
	assert.True(t, !records[0].OccurredAt.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	customTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	record := audit.Record{
		TenantID:   tenantID,
		ModuleKey:  id.ModulePacientes,
		Action:     audit.ActionSubscribe,
		Outcome:    audit.OutcomeApplied,
		OccurredAt: customTime,
	}

	err := pub.Emit(context.Background(), record)
	require.NoError(t, err)

	records, err := pub.List(context.Background(), tenantID, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, customTime, records[0].OccurredAt)
}

func TestPublisher_DifferentTenants(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	tenant1 := id.TenantID(uuid.New())
	tenant2 := id.TenantID(uuid.New())

	err := pub.Emit(context.Background(), audit.Record{
		TenantID:  tenant1,
		ModuleKey: id.ModuleFinanceiro,
		Action:    audit.ActionActivate,
		Outcome:   audit.OutcomeApplied,
	})
	require.NoError(t, err)

	err = pub.Emit(context.Background(), audit.Record{
		TenantID:  tenant2,
		ModuleKey: id.ModuleFinanceiro,
		Action:    audit.ActionDeactivate,
		Outcome:   audit.OutcomeRejected,
	})
	require.NoError(t, err)

	records1, err := pub.List(context.Background(), tenant1, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records1, 1)
	assert.Equal(t, audit.ActionActivate, records1[0].Action)

	records2, err := pub.List(context.Background(), tenant2, audit.Query{})
	require.NoError(t, err)
	require.Len(t, records2, 1)
	assert.Equal(t, audit.ActionDeactivate, records2[0].Action)
}

func TestPublisher_ListRecentRespectsLimit(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		err := pub.Emit(context.Background(), audit.Record{
			TenantID:   id.TenantID(uuid.New()),
			ModuleKey:  id.ModuleAgenda,
			Action:     audit.ActionActivate,
			Outcome:    audit.OutcomeApplied,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	records, err := pub.ListRecent(context.Background(), audit.Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, base.Add(4*time.Minute), records[0].OccurredAt, "newest first")
}

func TestPublisher_ListFiltersTimeRange(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		err := pub.Emit(context.Background(), audit.Record{
			TenantID:   tenantID,
			ModuleKey:  id.ModuleAgenda,
			Action:     audit.ActionActivate,
			Outcome:    audit.OutcomeApplied,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	records, err := pub.List(context.Background(), tenantID, audit.Query{
		From: base.Add(time.Hour),
		To:   base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, base.Add(3*time.Hour), records[0].OccurredAt)
	assert.Equal(t, base.Add(time.Hour), records[2].OccurredAt)

	// An open-ended lower bound keeps everything at or after it.
	records, err = pub.List(context.Background(), tenantID, audit.Query{From: base.Add(4 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
}
