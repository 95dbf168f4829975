package memory

import (
	"context"
	"sort"
	"sync"

	"orthoplus/internal/audit"
	id "orthoplus/pkg/domain"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.TenantID][]audit.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.TenantID][]audit.Record)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[id.TenantID][]audit.Record)
}

func (s *InMemoryStore) Append(_ context.Context, record audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.TenantID] = append(s.records[record.TenantID], record)
	return nil
}

// ListByTenant returns the tenant's records inside the query's time range,
// newest first.
func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := filter(s.records[tenantID], q)
	sortNewestFirst(records)
	return clamp(records, q.Limit), nil
}

// ListRecent returns the most recent records across all tenants.
func (s *InMemoryStore) ListRecent(_ context.Context, q audit.Query) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Record
	for _, tenantRecords := range s.records {
		all = append(all, filter(tenantRecords, q)...)
	}
	sortNewestFirst(all)
	return clamp(all, q.Limit), nil
}

func filter(records []audit.Record, q audit.Query) []audit.Record {
	out := make([]audit.Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

func sortNewestFirst(records []audit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredAt.After(records[j].OccurredAt)
	})
}

func clamp(records []audit.Record, limit int) []audit.Record {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
