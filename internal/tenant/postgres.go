package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a database-backed tenant store.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{
		pool: pool,
	}
}

func (s *postgresStore) CountActive(ctx context.Context) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM tenants t
		JOIN tenant_sync_configs c ON c.tenant_id = t.id
		WHERE c.status = 'active'`

	var count int
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active tenants: %w", err)
	}
	return count, nil
}

// ListActivePage orders by tenant ID so that pagination is stable for the
// duration of a run; batch slices depend on this.
func (s *postgresStore) ListActivePage(ctx context.Context, offset, limit int) ([]Tenant, error) {
	const query = `
		SELECT t.id, t.name
		FROM tenants t
		JOIN tenant_sync_configs c ON c.tenant_id = t.id
		WHERE c.status = 'active'
		ORDER BY t.id
		OFFSET $1 LIMIT $2`

	rows, err := s.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func (s *postgresStore) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	const query = `SELECT id, name FROM tenants WHERE id = $1`

	var t Tenant
	err := s.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	return t, nil
}
