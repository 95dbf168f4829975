package accessgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orthoplus/internal/registry"
	id "orthoplus/pkg/domain"
	dErrors "orthoplus/pkg/domain-errors"
)

type fakeReader struct {
	active []id.ModuleKey
	err    error
	calls  int
}

func (r *fakeReader) ActiveModules(_ context.Context, _ id.TenantID) ([]id.ModuleKey, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.active, nil
}

type mapCache struct {
	entries map[id.TenantID][]id.ModuleKey
	getErr  error
	setErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[id.TenantID][]id.ModuleKey)}
}

func (c *mapCache) Get(_ context.Context, tenantID id.TenantID) ([]id.ModuleKey, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	keys, ok := c.entries[tenantID]
	return keys, ok, nil
}

func (c *mapCache) Set(_ context.Context, tenantID id.TenantID, keys []id.ModuleKey, _ time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[tenantID] = keys
	return nil
}

func (c *mapCache) Delete(_ context.Context, tenantID id.TenantID) error {
	delete(c.entries, tenantID)
	return nil
}

func TestCheckAllowsActiveModule(t *testing.T) {
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes, id.ModuleAgenda}}
	gate := New(registry.MustLoadCatalog(), reader)

	allowed, err := gate.Check(context.Background(), id.TenantID(uuid.New()), id.ModuleAgenda)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckDeniesInactiveModule(t *testing.T) {
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes}}
	gate := New(registry.MustLoadCatalog(), reader)

	allowed, err := gate.Check(context.Background(), id.TenantID(uuid.New()), id.ModuleFinanceiro)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckUnknownModuleDeniesWithoutError(t *testing.T) {
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes}}
	gate := New(registry.MustLoadCatalog(), reader)

	// A stale or mistyped key denies; it must never break the caller.
	allowed, err := gate.Check(context.Background(), id.TenantID(uuid.New()), "IMAGING")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, reader.calls, "unknown keys are settled without a storage read")
}

func TestActiveModulesServedFromCache(t *testing.T) {
	tenantID := id.TenantID(uuid.New())
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes}}
	cache := newMapCache()
	gate := New(registry.MustLoadCatalog(), reader, WithCache(cache, time.Minute))

	ctx := context.Background()
	_, err := gate.ActiveModules(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, reader.calls)

	// Second lookup hits the cache.
	keys, err := gate.ActiveModules(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, []id.ModuleKey{id.ModulePacientes}, keys)
}

func TestCacheFailureDegradesToReader(t *testing.T) {
	reader := &fakeReader{active: []id.ModuleKey{id.ModuleEstoque}}
	cache := newMapCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	gate := New(registry.MustLoadCatalog(), reader, WithCache(cache, time.Minute))

	allowed, err := gate.Check(context.Background(), id.TenantID(uuid.New()), id.ModuleEstoque)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInvalidateDropsCachedSet(t *testing.T) {
	tenantID := id.TenantID(uuid.New())
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes}}
	cache := newMapCache()
	gate := New(registry.MustLoadCatalog(), reader, WithCache(cache, time.Minute))

	ctx := context.Background()
	_, err := gate.ActiveModules(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, 1, reader.calls)

	require.NoError(t, gate.Invalidate(ctx, tenantID))

	_, err = gate.ActiveModules(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls, "invalidation must force a fresh read")
}

func TestReaderErrorSurfacesAsInternal(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	gate := New(registry.MustLoadCatalog(), reader)

	_, err := gate.Check(context.Background(), id.TenantID(uuid.New()), id.ModulePacientes)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestVisibleRoutesFollowActiveModules(t *testing.T) {
	tenantID := id.TenantID(uuid.New())
	reader := &fakeReader{active: []id.ModuleKey{id.ModulePacientes, id.ModuleAgenda}}
	gate := New(registry.MustLoadCatalog(), reader)

	routes, err := gate.VisibleRoutes(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Contains(t, routes, "/pacientes")
	assert.Contains(t, routes, "/agenda")
	assert.NotContains(t, routes, "/financeiro")
}

func TestVisibleRoutesEmptyForIdleTenant(t *testing.T) {
	gate := New(registry.MustLoadCatalog(), &fakeReader{})

	routes, err := gate.VisibleRoutes(context.Background(), id.TenantID(uuid.New()))
	require.NoError(t, err)
	assert.Empty(t, routes)
}
