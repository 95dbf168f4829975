// Package resolver evaluates dependency rules over a tenant's module
// snapshot.
//
// The resolver is pure: it reads the registry graph and a snapshot and
// renders verdicts. It never touches storage, which keeps every rule
// testable with literal snapshots.
package resolver

import (
	"orthoplus/internal/modules/models"
	"orthoplus/internal/registry"
	id "orthoplus/pkg/domain"
)

type Resolver struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// UnmetDependencies returns the transitive dependencies of key that are not
// active for this tenant, sorted. Empty means the module may activate as far
// as dependencies are concerned.
func (r *Resolver) UnmetDependencies(tm *models.TenantModules, key id.ModuleKey) []id.ModuleKey {
	var unmet []id.ModuleKey
	for _, dep := range r.registry.TransitiveDependenciesOf(key) {
		if !tm.Active(dep) {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// BlockingDependents returns the transitive dependents of key that are
// currently active for this tenant, sorted. Empty means the module may
// deactivate without stranding anything.
func (r *Resolver) BlockingDependents(tm *models.TenantModules, key id.ModuleKey) []id.ModuleKey {
	var blocking []id.ModuleKey
	for _, dep := range r.registry.TransitiveDependentsOf(key) {
		if tm.Active(dep) {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// CheckActivate validates that key may be switched on for this tenant.
// Returns a RejectionError naming the rule that refused.
func (r *Resolver) CheckActivate(tm *models.TenantModules, key id.ModuleKey) error {
	if !r.registry.Contains(key) {
		return &models.RejectionError{Reason: models.ReasonUnknownModule, Module: key}
	}
	if !tm.Subscribed(key) {
		return &models.RejectionError{Reason: models.ReasonNotSubscribed, Module: key}
	}
	if unmet := r.UnmetDependencies(tm, key); len(unmet) > 0 {
		return &models.RejectionError{
			Reason:  models.ReasonUnmetDependency,
			Module:  key,
			Modules: unmet,
		}
	}
	return nil
}

// CheckDeactivate validates that key may be switched off for this tenant.
func (r *Resolver) CheckDeactivate(tm *models.TenantModules, key id.ModuleKey) error {
	if !r.registry.Contains(key) {
		return &models.RejectionError{Reason: models.ReasonUnknownModule, Module: key}
	}
	if blocking := r.BlockingDependents(tm, key); len(blocking) > 0 {
		return &models.RejectionError{
			Reason:  models.ReasonBlockingDependents,
			Module:  key,
			Modules: blocking,
		}
	}
	return nil
}

// CheckUnsubscribe validates that key may be removed from the plan. An
// active module must be deactivated first, and deactivation rules apply.
func (r *Resolver) CheckUnsubscribe(tm *models.TenantModules, key id.ModuleKey) error {
	if !r.registry.Contains(key) {
		return &models.RejectionError{Reason: models.ReasonUnknownModule, Module: key}
	}
	if tm.Active(key) {
		return r.CheckDeactivate(tm, key)
	}
	return nil
}

// BuildViews renders the settings-screen listing: one entry per catalog
// module in catalog order, with action hints precomputed so the UI never
// re-implements dependency rules.
func (r *Resolver) BuildViews(tm *models.TenantModules) []models.ModuleView {
	keys := r.registry.Keys()
	views := make([]models.ModuleView, 0, len(keys))
	for _, key := range keys {
		def, _ := r.registry.Definition(key)

		unmet := r.UnmetDependencies(tm, key)
		blocking := r.BlockingDependents(tm, key)
		active := tm.Active(key)
		subscribed := tm.Subscribed(key)

		view := models.ModuleView{
			Key:                  key,
			Name:                 def.Name,
			Category:             def.Category,
			Subscribed:           subscribed,
			Active:               active,
			CanActivate:          !active && subscribed && len(unmet) == 0,
			CanDeactivate:        active && len(blocking) == 0,
			UnmetDependencies:    unmet,
			BlockingDependencies: blocking,
		}
		if active {
			view.MenuRoutes = append([]string(nil), def.MenuRoutes...)
		}
		views = append(views, view)
	}
	return views
}
