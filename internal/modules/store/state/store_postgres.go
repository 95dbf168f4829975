package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
	"orthoplus/pkg/platform/sentinel"
	txcontext "orthoplus/pkg/platform/tx"
)

// Postgres persists per-tenant module state in the tenant_module_state
// table.
//
// Execute opens a transaction, takes a per-tenant advisory lock, and runs
// the validate-then-mutate callbacks while the lock is held. The advisory
// lock rather than plain row locks is what serializes the first write for a
// tenant, when no rows exist yet to lock. The transaction rides into the
// mutate callback via context so audit appends land atomically with the
// state change.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Load reads the tenant's snapshot outside any transaction. Tenants with no
// rows get an empty snapshot.
func (s *Postgres) Load(ctx context.Context, tenantID id.TenantID) (*models.TenantModules, error) {
	query := `
		SELECT module_key, subscribed, active, activated_at, updated_at, updated_by
		FROM tenant_module_state
		WHERE tenant_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("query module state: %w", err)
	}
	defer rows.Close()

	return scanSnapshot(tenantID, rows)
}

// Execute runs validate then mutate inside one transaction, serialized per
// tenant. A validation error rolls everything back and is returned
// unchanged so rejection types survive to the service layer.
func (s *Postgres) Execute(
	ctx context.Context,
	tenantID id.TenantID,
	validate func(tm *models.TenantModules) error,
	mutate func(txCtx context.Context, tm *models.TenantModules) error,
) (*models.TenantModules, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin module state tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize all writers for this tenant, including the first write when
	// no rows exist yet. The lock releases automatically at commit/rollback.
	lockQuery := `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`
	if _, err := tx.ExecContext(ctx, lockQuery, uuid.UUID(tenantID).String()); err != nil {
		return nil, mapLockErr(err)
	}

	selectQuery := `
		SELECT module_key, subscribed, active, activated_at, updated_at, updated_by
		FROM tenant_module_state
		WHERE tenant_id = $1
		FOR UPDATE
	`
	rows, err := tx.QueryContext(ctx, selectQuery, uuid.UUID(tenantID))
	if err != nil {
		return nil, mapLockErr(err)
	}
	snapshot, err := scanSnapshot(tenantID, rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := validate(snapshot); err != nil {
		return nil, err
	}

	txCtx := txcontext.WithTx(ctx, tx)
	if err := mutate(txCtx, snapshot); err != nil {
		return nil, err
	}

	upsertQuery := `
		INSERT INTO tenant_module_state (tenant_id, module_key, subscribed, active, activated_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, module_key) DO UPDATE SET
			subscribed = EXCLUDED.subscribed,
			active = EXCLUDED.active,
			activated_at = EXCLUDED.activated_at,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	for _, st := range snapshot.States {
		var updatedBy *uuid.UUID
		if !st.UpdatedBy.IsNil() {
			u := uuid.UUID(st.UpdatedBy)
			updatedBy = &u
		}
		_, err := tx.ExecContext(ctx, upsertQuery,
			uuid.UUID(tenantID),
			string(st.Key),
			st.Subscribed,
			st.Active,
			st.ActivatedAt,
			st.UpdatedAt,
			updatedBy,
		)
		if err != nil {
			return nil, mapLockErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapLockErr(err)
	}
	return snapshot, nil
}

func scanSnapshot(tenantID id.TenantID, rows *sql.Rows) (*models.TenantModules, error) {
	snapshot := models.NewTenantModules(tenantID)
	for rows.Next() {
		var st models.ModuleState
		var key string
		var updatedBy *uuid.UUID
		if err := rows.Scan(&key, &st.Subscribed, &st.Active, &st.ActivatedAt, &st.UpdatedAt, &updatedBy); err != nil {
			return nil, fmt.Errorf("scan module state: %w", err)
		}
		st.Key = id.ModuleKey(key)
		if updatedBy != nil {
			st.UpdatedBy = id.ActorID(*updatedBy)
		}
		snapshot.States[st.Key] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module state: %w", err)
	}
	return snapshot, nil
}

// mapLockErr converts Postgres serialization and deadlock failures into
// sentinel.ErrConflict so the service can retry them.
func mapLockErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("module state contention: %w", sentinel.ErrConflict)
		}
	}
	return fmt.Errorf("module state tx: %w", err)
}
