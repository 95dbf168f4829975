package state

import (
	"context"
	"sync"

	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
)

// InMemory is the in-memory state store used in unit tests and local
// development. Execute serializes per tenant with a tenant-scoped mutex,
// mirroring the row locks the Postgres store takes.
type InMemory struct {
	mu      sync.Mutex
	tenants map[id.TenantID]*tenantEntry
}

type tenantEntry struct {
	mu       sync.Mutex
	snapshot *models.TenantModules
}

func NewInMemory() *InMemory {
	return &InMemory{tenants: make(map[id.TenantID]*tenantEntry)}
}

func (s *InMemory) entry(tenantID id.TenantID) *tenantEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tenants[tenantID]
	if !ok {
		e = &tenantEntry{snapshot: models.NewTenantModules(tenantID)}
		s.tenants[tenantID] = e
	}
	return e
}

// Load returns a copy of the tenant's snapshot. Tenants with no rows yet get
// an empty snapshot, not an error; an unprovisioned tenant simply has no
// modules.
func (s *InMemory) Load(ctx context.Context, tenantID id.TenantID) (*models.TenantModules, error) {
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySnapshot(e.snapshot), nil
}

// Execute runs validate then mutate while holding the tenant's lock, so no
// concurrent toggle can interleave between the dependency check and the
// write. The snapshot passed to the callbacks is a private copy; it only
// replaces the stored state if both callbacks succeed.
func (s *InMemory) Execute(
	ctx context.Context,
	tenantID id.TenantID,
	validate func(tm *models.TenantModules) error,
	mutate func(txCtx context.Context, tm *models.TenantModules) error,
) (*models.TenantModules, error) {
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	work := copySnapshot(e.snapshot)
	if err := validate(work); err != nil {
		return nil, err
	}
	if err := mutate(ctx, work); err != nil {
		return nil, err
	}

	e.snapshot = copySnapshot(work)
	return work, nil
}

func copySnapshot(tm *models.TenantModules) *models.TenantModules {
	out := models.NewTenantModules(tm.TenantID)
	for key, st := range tm.States {
		if st.ActivatedAt != nil {
			at := *st.ActivatedAt
			st.ActivatedAt = &at
		}
		out.States[key] = st
	}
	return out
}
