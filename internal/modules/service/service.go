package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"orthoplus/internal/audit"
	modulemetrics "orthoplus/internal/modules/metrics"
	"orthoplus/internal/modules/models"
	"orthoplus/internal/modules/resolver"
	"orthoplus/internal/registry"
	id "orthoplus/pkg/domain"
	"orthoplus/pkg/requestcontext"
)

// StateStore persists per-tenant module snapshots. Execute must serialize
// concurrent calls for the same tenant and run both callbacks under that
// serialization; the context handed to mutate carries the transaction when
// the store is transactional.
type StateStore interface {
	Load(ctx context.Context, tenantID id.TenantID) (*models.TenantModules, error)
	Execute(
		ctx context.Context,
		tenantID id.TenantID,
		validate func(tm *models.TenantModules) error,
		mutate func(txCtx context.Context, tm *models.TenantModules) error,
	) (*models.TenantModules, error)
}

// AuditPublisher records module state changes and refusals.
type AuditPublisher interface {
	Emit(ctx context.Context, record audit.Record) error
	List(ctx context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error)
	ListRecent(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// GateInvalidator drops cached access decisions for a tenant after a state
// change so the gate never serves a stale allow or deny past the change.
type GateInvalidator interface {
	Invalidate(ctx context.Context, tenantID id.TenantID) error
}

// Service orchestrates module subscription and activation for tenants.
type Service struct {
	registry *registry.Registry
	resolver *resolver.Resolver
	states   StateStore

	logger  *slog.Logger
	auditor AuditPublisher
	metrics *modulemetrics.Metrics
	gate    GateInvalidator
	retries int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *modulemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithGateInvalidator(gate GateInvalidator) Option {
	return func(s *Service) {
		s.gate = gate
	}
}

// WithRetries sets how many times a change is retried after losing a
// serialization conflict.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// New constructs a Service over the given registry and state store.
func New(reg *registry.Registry, states StateStore, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		resolver: resolver.New(reg),
		states:   states,
		retries:  3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newRecord builds an audit record enriched with everything the request
// context knows: actor, client metadata, request ID, and the active trace.
func (s *Service) newRecord(
	ctx context.Context,
	tenantID id.TenantID,
	key id.ModuleKey,
	action audit.Action,
	outcome audit.Outcome,
) audit.Record {
	record := audit.Record{
		TenantID:   tenantID,
		ActorID:    requestcontext.ActorID(ctx),
		ModuleKey:  key,
		Action:     action,
		Outcome:    outcome,
		ClientIP:   requestcontext.ClientIP(ctx),
		Device:     requestcontext.Device(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		OccurredAt: requestcontext.Now(ctx),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.TraceID = sc.TraceID().String()
		record.SpanID = sc.SpanID().String()
	}
	return record
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// emitRejection records a refused change. Best effort: a failed rejection
// write is logged, not surfaced, because the caller already holds the real
// error.
func (s *Service) emitRejection(ctx context.Context, record audit.Record) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, record); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record rejection audit", "error", err)
	}
}

func (s *Service) invalidateGate(ctx context.Context, tenantID id.TenantID) {
	if s.gate == nil {
		return
	}
	if err := s.gate.Invalidate(ctx, tenantID); err != nil && s.logger != nil {
		// The cache TTL bounds how long a stale decision can live.
		s.logger.WarnContext(ctx, "failed to invalidate access gate cache",
			"error", err,
			"tenant_id", tenantID,
		)
	}
}
