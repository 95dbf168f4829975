// Package accessgate answers "may this tenant use this module right now" on
// the hot path, without consulting the activation service.
//
// The gate reads the set of active modules from a replica-friendly reader
// and caches it in Redis with a short TTL. The activation service
// invalidates the cache after every applied change, so the TTL only bounds
// staleness when an invalidation is lost.
package accessgate

import (
	"context"
	"log/slog"
	"time"

	"orthoplus/internal/registry"
	id "orthoplus/pkg/domain"
	dErrors "orthoplus/pkg/domain-errors"
)

// StateReader loads the tenant's active module keys from storage.
type StateReader interface {
	ActiveModules(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, error)
}

// Cache holds per-tenant active sets. Implementations must treat a miss as
// (nil, false, nil), not an error.
type Cache interface {
	Get(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, bool, error)
	Set(ctx context.Context, tenantID id.TenantID, keys []id.ModuleKey, ttl time.Duration) error
	Delete(ctx context.Context, tenantID id.TenantID) error
}

// Gate is the module access checker.
type Gate struct {
	registry *registry.Registry
	reader   StateReader
	cache    Cache
	ttl      time.Duration
	logger   *slog.Logger
}

type Option func(g *Gate)

// WithCache attaches a cache in front of the reader.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(g *Gate) {
		g.cache = cache
		g.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func New(reg *registry.Registry, reader StateReader, opts ...Option) *Gate {
	g := &Gate{
		registry: reg,
		reader:   reader,
		ttl:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reports whether the tenant may use the module. Only an active module
// is allowed; subscribed-but-inactive counts as denied. An unknown key denies
// and logs rather than erroring, so menu composition over a stale key list
// never breaks a page render.
func (g *Gate) Check(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (bool, error) {
	if !g.registry.Contains(key) {
		if g.logger != nil {
			g.logger.WarnContext(ctx, "access check for unknown module key",
				"module_key", key,
				"tenant_id", tenantID,
			)
		}
		return false, nil
	}

	active, err := g.ActiveModules(ctx, tenantID)
	if err != nil {
		return false, err
	}
	for _, k := range active {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// ActiveModules returns the tenant's active module keys, served from cache
// when possible. Cache failures degrade to a storage read.
func (g *Gate) ActiveModules(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, error) {
	if g.cache != nil {
		keys, ok, err := g.cache.Get(ctx, tenantID)
		if err != nil {
			g.warn(ctx, "gate cache read failed", err, tenantID)
		} else if ok {
			return keys, nil
		}
	}

	keys, err := g.reader.ActiveModules(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active modules")
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, tenantID, keys, g.ttl); err != nil {
			g.warn(ctx, "gate cache write failed", err, tenantID)
		}
	}
	return keys, nil
}

// VisibleRoutes returns the menu routes of the tenant's active modules, in
// catalog order. The web shell renders its navigation from this.
func (g *Gate) VisibleRoutes(ctx context.Context, tenantID id.TenantID) ([]string, error) {
	active, err := g.ActiveModules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[id.ModuleKey]bool, len(active))
	for _, k := range active {
		activeSet[k] = true
	}

	var routes []string
	for _, key := range g.registry.Keys() {
		if !activeSet[key] {
			continue
		}
		def, _ := g.registry.Definition(key)
		routes = append(routes, def.MenuRoutes...)
	}
	return routes, nil
}

// Invalidate drops the tenant's cached active set. The activation service
// calls this after every applied change.
func (g *Gate) Invalidate(ctx context.Context, tenantID id.TenantID) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Delete(ctx, tenantID)
}

func (g *Gate) warn(ctx context.Context, msg string, err error, tenantID id.TenantID) {
	if g.logger == nil {
		return
	}
	g.logger.WarnContext(ctx, msg, "error", err, "tenant_id", tenantID)
}
