package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"orthoplus/internal/audit"
	id "orthoplus/pkg/domain"
	txcontext "orthoplus/pkg/platform/tx"
)

// Store persists audit records in module_audit_log and mirrors each record
// into the outbox table for the Kafka relay.
//
// Append picks the transaction from context when one is present, so a
// record emitted inside a toggle commits or rolls back with the state
// change it describes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes the record to the audit log and the outbox in one executor.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	logQuery := `
		INSERT INTO module_audit_log (
			id, tenant_id, actor_id, module_key, action, outcome,
			reason, related_modules, client_ip, device, request_id,
			trace_id, span_id, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var actorID *uuid.UUID
	if !record.ActorID.IsNil() {
		aid := uuid.UUID(record.ActorID)
		actorID = &aid
	}

	related := make([]string, len(record.RelatedModules))
	for i, k := range record.RelatedModules {
		related[i] = string(k)
	}

	execer := s.execer(ctx)
	_, err := execer.ExecContext(ctx, logQuery,
		record.ID,
		uuid.UUID(record.TenantID),
		actorID,
		string(record.ModuleKey),
		string(record.Action),
		string(record.Outcome),
		record.Reason,
		pq.Array(related),
		record.ClientIP,
		record.Device,
		record.RequestID,
		record.TraceID,
		record.SpanID,
		record.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = execer.ExecContext(ctx, outboxQuery,
		uuid.New(), // outbox entry ID
		"tenant_modules",
		uuid.UUID(record.TenantID).String(),
		string(record.Action),
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByTenant returns the tenant's records inside the query's time range,
// newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error) {
	query := `
		SELECT id, tenant_id, actor_id, module_key, action, outcome,
			   reason, related_modules, client_ip, device, request_id,
			   trace_id, span_id, occurred_at
		FROM module_audit_log
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at DESC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query,
		uuid.UUID(tenantID), nullableTime(q.From), nullableTime(q.To), normalizeLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListRecent returns the most recent records across all tenants.
func (s *Store) ListRecent(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	query := `
		SELECT id, tenant_id, actor_id, module_key, action, outcome,
			   reason, related_modules, client_ip, device, request_id,
			   trace_id, span_id, occurred_at
		FROM module_audit_log
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		ORDER BY occurred_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query,
		nullableTime(q.From), nullableTime(q.To), normalizeLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record

	for rows.Next() {
		var (
			record    audit.Record
			tenantID  uuid.UUID
			actorID   *uuid.UUID
			moduleKey string
			action    string
			outcome   string
			related   []string
		)

		err := rows.Scan(
			&record.ID,
			&tenantID,
			&actorID,
			&moduleKey,
			&action,
			&outcome,
			&record.Reason,
			pq.Array(&related),
			&record.ClientIP,
			&record.Device,
			&record.RequestID,
			&record.TraceID,
			&record.SpanID,
			&record.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		record.TenantID = id.TenantID(tenantID)
		if actorID != nil {
			record.ActorID = id.ActorID(*actorID)
		}
		record.ModuleKey = id.ModuleKey(moduleKey)
		record.Action = audit.Action(action)
		record.Outcome = audit.Outcome(outcome)
		for _, k := range related {
			record.RelatedModules = append(record.RelatedModules, id.ModuleKey(k))
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// OutboxEntry is one unpublished row awaiting relay to Kafka.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Key       string
	Payload   []byte
}

type dbQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOutbox(ctx context.Context, q dbQueryer, query string, limit int) ([]OutboxEntry, error) {
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Key, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// FetchUnpublished returns up to limit unpublished outbox rows in insertion
// order. It takes no locks; use RelayPending to claim rows for delivery.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, event_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	return queryOutbox(ctx, s.db, query, limit)
}

// RelayPending claims up to limit unpublished outbox rows, hands them to
// publish, and stamps them published, all inside one transaction. The row
// locks hold until commit, so a concurrent relay skips the batch instead of
// re-sending it. A publish error rolls back and leaves the rows pending.
func (s *Store) RelayPending(ctx context.Context, limit int, publish func(entries []OutboxEntry) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, event_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	entries, err := queryOutbox(ctx, tx, query, limit)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := publish(entries); err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	mark := `UPDATE outbox SET published_at = $1 WHERE id = ANY($2)`
	if _, err := tx.ExecContext(ctx, mark, time.Now(), pq.Array(ids)); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return len(entries), nil
}

// MarkPublished stamps outbox rows as relayed.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox SET published_at = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, time.Now(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
