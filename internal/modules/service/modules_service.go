package service

import (
	"context"
	"errors"
	"time"

	"orthoplus/internal/audit"
	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
	dErrors "orthoplus/pkg/domain-errors"
	"orthoplus/pkg/platform/sentinel"
	"orthoplus/pkg/requestcontext"
)

type changeMode int

const (
	modeToggle changeMode = iota
	modeActivate
	modeDeactivate
)

// Toggle flips the module's activation for the tenant: an active module is
// deactivated, an inactive one activated. Dependency rules apply to
// whichever direction the flip takes.
func (s *Service) Toggle(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error) {
	return s.change(ctx, tenantID, key, modeToggle)
}

// Activate switches the module on. Activating an already-active module is a
// no-op that still lands in the audit trail.
func (s *Service) Activate(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error) {
	return s.change(ctx, tenantID, key, modeActivate)
}

// Deactivate switches the module off. Deactivating an already-inactive
// module is a no-op that still lands in the audit trail.
func (s *Service) Deactivate(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error) {
	return s.change(ctx, tenantID, key, modeDeactivate)
}

func (s *Service) change(ctx context.Context, tenantID id.TenantID, key id.ModuleKey, mode changeMode) (*models.ToggleResult, error) {
	start := time.Now()
	defer s.observeToggle(start)

	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if !s.registry.Contains(key) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown module "+string(key))
	}

	for attempt := 0; ; attempt++ {
		result, err := s.tryChange(ctx, tenantID, key, mode)
		if err != nil && errors.Is(err, sentinel.ErrConflict) && attempt < s.retries {
			s.incrementConflict()
			continue
		}
		if err != nil && errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "module state was modified concurrently, please retry")
		}
		return result, err
	}
}

// tryChange runs one attempt of a state change. Validation, mutation, and
// the success audit record all happen under the store's per-tenant
// serialization; a rejected change rolls back and is audited outside it.
func (s *Service) tryChange(ctx context.Context, tenantID id.TenantID, key id.ModuleKey, mode changeMode) (*models.ToggleResult, error) {
	now := requestcontext.Now(ctx)
	actor := requestcontext.ActorID(ctx)
	var result *models.ToggleResult

	_, err := s.states.Execute(ctx, tenantID,
		func(tm *models.TenantModules) error {
			var desired bool
			switch mode {
			case modeToggle:
				desired = !tm.Active(key)
			case modeActivate:
				desired = true
			case modeDeactivate:
				desired = false
			}

			if tm.Active(key) == desired {
				result = &models.ToggleResult{Key: key, Active: desired, Action: models.ActionNoChange}
				return nil
			}

			if desired {
				if err := s.resolver.CheckActivate(tm, key); err != nil {
					return err
				}
				result = &models.ToggleResult{Key: key, Active: true, Action: models.ActionActivated, Changed: true}
			} else {
				if err := s.resolver.CheckDeactivate(tm, key); err != nil {
					return err
				}
				result = &models.ToggleResult{Key: key, Active: false, Action: models.ActionDeactivated, Changed: true}
			}
			return nil
		},
		func(txCtx context.Context, tm *models.TenantModules) error {
			if result.Changed {
				if result.Active {
					tm.ApplyActivate(key, actor, now)
				} else {
					tm.ApplyDeactivate(key, actor, now)
				}
			}

			record := s.newRecord(txCtx, tenantID, key, changeAction(result.Active), changeOutcome(result.Changed))
			if s.auditor == nil {
				return nil
			}
			// Audit failure aborts the change; an unaudited state change is
			// worse than a failed toggle.
			return s.auditor.Emit(txCtx, record)
		},
	)
	if err != nil {
		return nil, s.refused(ctx, tenantID, key, modeAction(mode), err)
	}

	if result.Changed {
		s.invalidateGate(ctx, tenantID)
		s.countChange(result.Active)
	}
	s.logAudit(ctx, "module."+string(result.Action),
		"tenant_id", tenantID,
		"module_key", key,
		"active", result.Active,
	)
	return result, nil
}

// refused translates an Execute failure: rejections are audited and carried
// through typed, conflicts pass for the retry loop, everything else wraps
// as internal.
func (s *Service) refused(ctx context.Context, tenantID id.TenantID, key id.ModuleKey, action audit.Action, err error) error {
	var rejection *models.RejectionError
	if errors.As(err, &rejection) {
		record := s.newRecord(ctx, tenantID, key, action, audit.OutcomeRejected)
		record.Reason = string(rejection.Reason)
		record.RelatedModules = rejection.Modules
		s.emitRejection(ctx, record)
		s.incrementRejection(string(rejection.Reason))

		if s.logger != nil {
			s.logger.WarnContext(ctx, "module change refused",
				"tenant_id", tenantID,
				"module_key", key,
				"reason", rejection.Reason,
				"modules", rejection.Modules,
			)
		}
		return dErrors.Wrap(rejection, dErrors.CodeConflict, rejection.Error())
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to change module state")
}

// Subscribe adds the module to the tenant's plan. Idempotent; repeated
// calls audit as no-ops.
func (s *Service) Subscribe(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if !s.registry.Contains(key) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown module "+string(key))
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.ActorID(ctx)
	var result *models.ToggleResult

	_, err := s.states.Execute(ctx, tenantID,
		func(tm *models.TenantModules) error {
			if tm.Subscribed(key) {
				result = &models.ToggleResult{Key: key, Action: models.ActionNoChange}
			} else {
				result = &models.ToggleResult{Key: key, Action: models.ActionSubscribed, Changed: true}
			}
			return nil
		},
		func(txCtx context.Context, tm *models.TenantModules) error {
			if result.Changed {
				tm.ApplySubscribe(key, actor, now)
			}
			if s.auditor == nil {
				return nil
			}
			return s.auditor.Emit(txCtx, s.newRecord(txCtx, tenantID, key, audit.ActionSubscribe, changeOutcome(result.Changed)))
		},
	)
	if err != nil {
		return nil, s.refused(ctx, tenantID, key, audit.ActionSubscribe, err)
	}

	s.logAudit(ctx, "module.subscribed", "tenant_id", tenantID, "module_key", key)
	return result, nil
}

// Unsubscribe removes the module from the plan, deactivating it on the way
// out. Refused while active dependents need it.
func (s *Service) Unsubscribe(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if !s.registry.Contains(key) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown module "+string(key))
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.ActorID(ctx)
	var result *models.ToggleResult

	_, err := s.states.Execute(ctx, tenantID,
		func(tm *models.TenantModules) error {
			if !tm.Subscribed(key) {
				result = &models.ToggleResult{Key: key, Action: models.ActionNoChange}
				return nil
			}
			if err := s.resolver.CheckUnsubscribe(tm, key); err != nil {
				return err
			}
			result = &models.ToggleResult{Key: key, Action: models.ActionUnsubscribed, Changed: true}
			return nil
		},
		func(txCtx context.Context, tm *models.TenantModules) error {
			if result.Changed {
				tm.ApplyUnsubscribe(key, actor, now)
			}
			if s.auditor == nil {
				return nil
			}
			return s.auditor.Emit(txCtx, s.newRecord(txCtx, tenantID, key, audit.ActionUnsubscribe, changeOutcome(result.Changed)))
		},
	)
	if err != nil {
		return nil, s.refused(ctx, tenantID, key, audit.ActionUnsubscribe, err)
	}

	if result.Changed {
		s.invalidateGate(ctx, tenantID)
	}
	s.logAudit(ctx, "module.unsubscribed", "tenant_id", tenantID, "module_key", key)
	return result, nil
}

// Provision subscribes a tenant to a set of modules in one step, typically
// at onboarding. Idempotent; already-subscribed modules are left alone.
func (s *Service) Provision(ctx context.Context, tenantID id.TenantID, keys []id.ModuleKey) error {
	if err := requireTenantID(tenantID); err != nil {
		return err
	}
	for _, key := range keys {
		if !s.registry.Contains(key) {
			return dErrors.New(dErrors.CodeNotFound, "unknown module "+string(key))
		}
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.ActorID(ctx)
	_, err := s.states.Execute(ctx, tenantID,
		func(tm *models.TenantModules) error { return nil },
		func(txCtx context.Context, tm *models.TenantModules) error {
			for _, key := range keys {
				if !tm.Subscribed(key) {
					tm.ApplySubscribe(key, actor, now)
				}
			}
			if s.auditor == nil {
				return nil
			}
			record := s.newRecord(txCtx, tenantID, "", audit.ActionProvision, audit.OutcomeApplied)
			record.RelatedModules = id.SortModuleKeys(append([]id.ModuleKey(nil), keys...))
			return s.auditor.Emit(txCtx, record)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "tenant is being modified concurrently, please retry")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to provision tenant")
	}

	s.logAudit(ctx, "tenant.provisioned", "tenant_id", tenantID, "modules", keys)
	return nil
}

// ListModules renders the settings-screen listing for the tenant.
func (s *Service) ListModules(ctx context.Context, tenantID id.TenantID) ([]models.ModuleView, error) {
	start := time.Now()
	defer s.observeList(start)

	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}

	tm, err := s.states.Load(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load module state")
	}
	return s.resolver.BuildViews(tm), nil
}

// AuditTrail returns the tenant's audit records inside the query's time
// range, newest first.
func (s *Service) AuditTrail(ctx context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if s.auditor == nil {
		return nil, nil
	}
	records, err := s.auditor.List(ctx, tenantID, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return records, nil
}

// RecentAudit returns the most recent records across all tenants, for the
// back office.
func (s *Service) RecentAudit(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	if s.auditor == nil {
		return nil, nil
	}
	records, err := s.auditor.ListRecent(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit records")
	}
	return records, nil
}

func requireTenantID(tenantID id.TenantID) error {
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "tenant is required")
	}
	return nil
}

func changeAction(active bool) audit.Action {
	if active {
		return audit.ActionActivate
	}
	return audit.ActionDeactivate
}

func modeAction(mode changeMode) audit.Action {
	if mode == modeDeactivate {
		return audit.ActionDeactivate
	}
	return audit.ActionActivate
}

func changeOutcome(changed bool) audit.Outcome {
	if changed {
		return audit.OutcomeApplied
	}
	return audit.OutcomeNoChange
}

func (s *Service) observeToggle(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveToggle(start)
	}
}

func (s *Service) observeList(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveList(start)
	}
}

func (s *Service) countChange(active bool) {
	if s.metrics == nil {
		return
	}
	if active {
		s.metrics.IncrementActivated()
	} else {
		s.metrics.IncrementDeactivated()
	}
}

func (s *Service) incrementRejection(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementRejection(reason)
	}
}

func (s *Service) incrementConflict() {
	if s.metrics != nil {
		s.metrics.IncrementConflict()
	}
}
