// Package audit records every module state change request, applied or
// refused, in an append-only trail.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "orthoplus/pkg/domain"
)

// Action names the operation that was requested.
type Action string

const (
	ActionActivate    Action = "module.activate"
	ActionDeactivate  Action = "module.deactivate"
	ActionSubscribe   Action = "module.subscribe"
	ActionUnsubscribe Action = "module.unsubscribe"
	ActionProvision   Action = "tenant.provision"
)

// Outcome classifies what happened to the request.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoChange Outcome = "no_change"
	OutcomeRejected Outcome = "rejected"
)

// Record is one audit trail entry. Rejections carry the reason and the
// modules that caused them; successful changes carry the modules they
// touched.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       id.TenantID    `json:"tenant_id"`
	ActorID        id.ActorID     `json:"actor_id"`
	ModuleKey      id.ModuleKey   `json:"module_key"`
	Action         Action         `json:"action"`
	Outcome        Outcome        `json:"outcome"`
	Reason         string         `json:"reason,omitempty"`
	RelatedModules []id.ModuleKey `json:"related_modules,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	Device         string         `json:"device,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	SpanID         string         `json:"span_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Query narrows an audit listing. A zero Limit falls back to the store
// default and zero From/To leave that side of the range open.
type Query struct {
	Limit int
	From  time.Time
	To    time.Time
}

// Matches reports whether the record falls inside the query's time range.
func (q Query) Matches(r Record) bool {
	if !q.From.IsZero() && r.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.OccurredAt.After(q.To) {
		return false
	}
	return true
}

// Store persists audit records. Append must honor a transaction riding in
// the context so records land atomically with the state change they
// describe.
type Store interface {
	Append(ctx context.Context, record Record) error
	ListByTenant(ctx context.Context, tenantID id.TenantID, q Query) ([]Record, error)
	ListRecent(ctx context.Context, q Query) ([]Record, error)
}
