package accessgate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	id "orthoplus/pkg/domain"
)

// PostgresReader loads active sets through a pgx pool, so the gate's read
// traffic can point at a replica while toggles go to the primary.
type PostgresReader struct {
	pool *pgxpool.Pool
}

func NewPostgresReader(pool *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{pool: pool}
}

func (r *PostgresReader) ActiveModules(ctx context.Context, tenantID id.TenantID) ([]id.ModuleKey, error) {
	query := `
		SELECT module_key
		FROM tenant_module_state
		WHERE tenant_id = $1 AND active
		ORDER BY module_key
	`
	rows, err := r.pool.Query(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("query active modules: %w", err)
	}
	defer rows.Close()

	var keys []id.ModuleKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan active module: %w", err)
		}
		keys = append(keys, id.ModuleKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active modules: %w", err)
	}
	return keys, nil
}
