package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
)

// CreateTenant inserts a tenant row for branchID.
func (s *Store) CreateTenant(ctx context.Context, branchID, name, shard string) (*Tenant, error) {
	now := nowString()
	t := &Tenant{
		ID:        uuid.NewString(),
		BranchID:  branchID,
		Name:      name,
		Shard:     shard,
		Metadata:  "{}",
		CreatedAt: mustParse(now),
		UpdatedAt: mustParse(now),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, branch_id, name, shard, materialized, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '{}', ?, ?)
	`, t.ID, t.BranchID, t.Name, t.Shard, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, cinchdberr.AlreadyExists("tenant", name)
		}
		return nil, cinchdberr.WrapCatalog("create tenant", err)
	}
	return t, nil
}

// GetTenant returns the tenant named name within branchID, or nil.
func (s *Store) GetTenant(ctx context.Context, branchID, name string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, name, shard, materialized, metadata, created_at, updated_at
		FROM tenants WHERE branch_id = ? AND name = ?
	`, branchID, name)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get tenant", err)
	}
	return t, nil
}

// ListTenants returns tenants of branchID ordered by name. If
// includeSystem is false, the __empty__ tenant is omitted (spec.md §4.6).
func (s *Store) ListTenants(ctx context.Context, branchID string, includeSystem bool) ([]*Tenant, error) {
	q := `
		SELECT id, branch_id, name, shard, materialized, metadata, created_at, updated_at
		FROM tenants WHERE branch_id = ?`
	if !includeSystem {
		q += ` AND name != '__empty__'`
	}
	q += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, q, branchID)
	if err != nil {
		return nil, cinchdberr.WrapCatalog("list tenants", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, cinchdberr.WrapCatalog("scan tenant", err)
		}
		out = append(out, t)
	}
	return out, cinchdberr.WrapCatalog("iterate tenants", rows.Err())
}

// MarkTenantMaterialized sets materialized = 1. Idempotent.
func (s *Store) MarkTenantMaterialized(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET materialized = 1, updated_at = ? WHERE id = ?
	`, nowString(), tenantID)
	return cinchdberr.WrapCatalog("mark tenant materialized", err)
}

// RenameTenant updates a tenant's name and shard.
func (s *Store) RenameTenant(ctx context.Context, branchID, oldName, newName, newShard string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET name = ?, shard = ?, updated_at = ? WHERE branch_id = ? AND name = ?
	`, newName, newShard, nowString(), branchID, oldName)
	return cinchdberr.WrapCatalog("rename tenant", err)
}

// DeleteTenant removes a tenant's catalog row.
func (s *Store) DeleteTenant(ctx context.Context, branchID, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE branch_id = ? AND name = ?`, branchID, name)
	return cinchdberr.WrapCatalog("delete tenant", err)
}

func scanTenant(row interface{ Scan(...interface{}) error }) (*Tenant, error) {
	var t Tenant
	var materialized int
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.BranchID, &t.Name, &t.Shard, &materialized, &t.Metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Materialized = materialized != 0
	t.CreatedAt = mustParse(createdAt)
	t.UpdatedAt = mustParse(updatedAt)
	return &t, nil
}
