// Package models holds the per-tenant module state aggregate and the typed
// rejection errors the resolver produces.
package models

import (
	"fmt"
	"strings"
	"time"

	id "orthoplus/pkg/domain"
)

// ModuleState is one (tenant, module) row.
//
// Invariants:
//   - Active implies Subscribed
//   - ActivatedAt is set while Active and cleared on deactivation
type ModuleState struct {
	Key         id.ModuleKey `json:"key"`
	Subscribed  bool         `json:"subscribed"`
	Active      bool         `json:"active"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
	UpdatedBy   id.ActorID   `json:"updated_by,omitempty"`
}

// TenantModules is the full module snapshot for one tenant. It is the unit
// the store loads and the resolver evaluates, so every dependency decision
// sees one consistent view of the tenant.
type TenantModules struct {
	TenantID id.TenantID                  `json:"tenant_id"`
	States   map[id.ModuleKey]ModuleState `json:"states"`
}

// NewTenantModules returns an empty snapshot for a tenant.
func NewTenantModules(tenantID id.TenantID) *TenantModules {
	return &TenantModules{
		TenantID: tenantID,
		States:   make(map[id.ModuleKey]ModuleState),
	}
}

// Subscribed reports whether the tenant's plan includes the module.
func (tm *TenantModules) Subscribed(key id.ModuleKey) bool {
	return tm.States[key].Subscribed
}

// Active reports whether the module is currently switched on.
func (tm *TenantModules) Active(key id.ModuleKey) bool {
	return tm.States[key].Active
}

// ActiveKeys returns the keys of all active modules, sorted.
func (tm *TenantModules) ActiveKeys() []id.ModuleKey {
	var keys []id.ModuleKey
	for key, st := range tm.States {
		if st.Active {
			keys = append(keys, key)
		}
	}
	return id.SortModuleKeys(keys)
}

// ApplySubscribe marks the module as part of the tenant's plan.
func (tm *TenantModules) ApplySubscribe(key id.ModuleKey, actor id.ActorID, now time.Time) {
	st := tm.States[key]
	st.Key = key
	st.Subscribed = true
	st.UpdatedAt = now
	st.UpdatedBy = actor
	tm.States[key] = st
}

// ApplyUnsubscribe removes the module from the plan. Callers must have
// validated that the module is inactive first.
func (tm *TenantModules) ApplyUnsubscribe(key id.ModuleKey, actor id.ActorID, now time.Time) {
	st := tm.States[key]
	st.Key = key
	st.Subscribed = false
	st.Active = false
	st.ActivatedAt = nil
	st.UpdatedAt = now
	st.UpdatedBy = actor
	tm.States[key] = st
}

// ApplyActivate switches the module on. Callers must have validated
// subscription and dependencies first.
func (tm *TenantModules) ApplyActivate(key id.ModuleKey, actor id.ActorID, now time.Time) {
	st := tm.States[key]
	st.Key = key
	st.Active = true
	st.ActivatedAt = &now
	st.UpdatedAt = now
	st.UpdatedBy = actor
	tm.States[key] = st
}

// ApplyDeactivate switches the module off. Callers must have validated that
// no active dependents remain.
func (tm *TenantModules) ApplyDeactivate(key id.ModuleKey, actor id.ActorID, now time.Time) {
	st := tm.States[key]
	st.Key = key
	st.Active = false
	st.ActivatedAt = nil
	st.UpdatedAt = now
	st.UpdatedBy = actor
	tm.States[key] = st
}

// ToggleAction names the state change an operation performed, as recorded in
// the audit trail.
type ToggleAction string

const (
	ActionActivated    ToggleAction = "activated"
	ActionDeactivated  ToggleAction = "deactivated"
	ActionNoChange     ToggleAction = "no_change"
	ActionSubscribed   ToggleAction = "subscribed"
	ActionUnsubscribed ToggleAction = "unsubscribed"
	ActionRejected     ToggleAction = "rejected"
)

// ToggleResult reports the outcome of a toggle or explicit activation call.
type ToggleResult struct {
	Key     id.ModuleKey `json:"key"`
	Active  bool         `json:"active"`
	Action  ToggleAction `json:"action"`
	Changed bool         `json:"changed"`
}

// RejectionReason classifies why a state change was refused.
type RejectionReason string

const (
	ReasonNotSubscribed      RejectionReason = "NOT_SUBSCRIBED"
	ReasonUnmetDependency    RejectionReason = "UNMET_DEPENDENCY"
	ReasonBlockingDependents RejectionReason = "BLOCKING_DEPENDENTS"
	ReasonUnknownModule      RejectionReason = "UNKNOWN_MODULE"
)

// RejectionError is returned when a toggle is refused by a dependency or
// subscription rule. Modules carries the offending keys so the UI can name
// exactly what to fix.
type RejectionError struct {
	Reason  RejectionReason
	Module  id.ModuleKey
	Modules []id.ModuleKey
}

func (e *RejectionError) Error() string {
	if len(e.Modules) == 0 {
		return fmt.Sprintf("%s: %s", e.Reason, e.Module)
	}
	parts := make([]string, len(e.Modules))
	for i, k := range e.Modules {
		parts[i] = string(k)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Reason, e.Module, strings.Join(parts, ", "))
}

// ModuleView is the per-module listing entry for the settings screen. It
// combines catalog data with tenant state and precomputed action hints.
type ModuleView struct {
	Key                  id.ModuleKey   `json:"key"`
	Name                 string         `json:"name"`
	Category             string         `json:"category"`
	Subscribed           bool           `json:"subscribed"`
	Active               bool           `json:"active"`
	CanActivate          bool           `json:"can_activate"`
	CanDeactivate        bool           `json:"can_deactivate"`
	UnmetDependencies    []id.ModuleKey `json:"unmet_dependencies"`
	BlockingDependencies []id.ModuleKey `json:"blocking_dependencies"`
	MenuRoutes           []string       `json:"menu_routes,omitempty"`
}
