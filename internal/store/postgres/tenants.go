package postgres

import (
	"context"
	"fmt"
	"strings"

	"sellerpilot/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ListAll returns tenants matching the filter, ordered by creation time.
func (s *Store) ListAll(ctx context.Context, filter store.TenantFilter) ([]store.Tenant, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ActiveOnly {
		conds = append(conds, "active = TRUE")
	}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	query := "SELECT id, name, active, created_at FROM tenants"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []store.Tenant
	for rows.Next() {
		var t store.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	query := "SELECT id, name, active, created_at FROM tenants WHERE id = $1"

	var t store.Tenant

	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}
