package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
)

// CreateBranch inserts a branch row for databaseID. parentBranch is the
// empty string for the root "main" branch.
func (s *Store) CreateBranch(ctx context.Context, databaseID, name, parentBranch string) (*Branch, error) {
	now := nowString()
	b := &Branch{
		ID:            uuid.NewString(),
		DatabaseID:    databaseID,
		Name:          name,
		ParentBranch:  parentBranch,
		SchemaVersion: "1",
		Metadata:      "{}",
		CreatedAt:     mustParse(now),
		UpdatedAt:     mustParse(now),
	}
	var parent interface{}
	if parentBranch != "" {
		parent = parentBranch
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, database_id, name, parent_branch, schema_version, materialized, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, '1', 0, '{}', ?, ?)
	`, b.ID, b.DatabaseID, b.Name, parent, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, cinchdberr.AlreadyExists("branch", name)
		}
		return nil, cinchdberr.WrapCatalog("create branch", err)
	}
	return b, nil
}

// GetBranch returns the active (non-archived) branch named name within
// databaseID, or nil if none exists.
func (s *Store) GetBranch(ctx context.Context, databaseID, name string) (*Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_id, name, COALESCE(parent_branch, ''), schema_version,
		       materialized, maintenance_mode, COALESCE(maintenance_reason, ''),
		       maintenance_started_at, cdc_enabled, archived_at, metadata, created_at, updated_at
		FROM branches WHERE database_id = ? AND name = ? AND archived_at IS NULL
	`, databaseID, name)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get branch", err)
	}
	return b, nil
}

// GetBranchByID returns a branch by its primary key, regardless of
// archived state (used by cascades that must see branches mid-archival).
func (s *Store) GetBranchByID(ctx context.Context, id string) (*Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_id, name, COALESCE(parent_branch, ''), schema_version,
		       materialized, maintenance_mode, COALESCE(maintenance_reason, ''),
		       maintenance_started_at, cdc_enabled, archived_at, metadata, created_at, updated_at
		FROM branches WHERE id = ?
	`, id)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get branch by id", err)
	}
	return b, nil
}

// ListBranches returns every active branch of databaseID ordered by name.
func (s *Store) ListBranches(ctx context.Context, databaseID string) ([]*Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, database_id, name, COALESCE(parent_branch, ''), schema_version,
		       materialized, maintenance_mode, COALESCE(maintenance_reason, ''),
		       maintenance_started_at, cdc_enabled, archived_at, metadata, created_at, updated_at
		FROM branches WHERE database_id = ? AND archived_at IS NULL ORDER BY name ASC
	`, databaseID)
	if err != nil {
		return nil, cinchdberr.WrapCatalog("list branches", err)
	}
	defer rows.Close()

	var out []*Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, cinchdberr.WrapCatalog("scan branch", err)
		}
		out = append(out, b)
	}
	return out, cinchdberr.WrapCatalog("iterate branches", rows.Err())
}

// MarkBranchMaterialized sets materialized = 1. Idempotent.
func (s *Store) MarkBranchMaterialized(ctx context.Context, branchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE branches SET materialized = 1, updated_at = ? WHERE id = ?
	`, nowString(), branchID)
	return cinchdberr.WrapCatalog("mark branch materialized", err)
}

// SetBranchMaintenanceMode sets or clears maintenance mode for a branch.
func (s *Store) SetBranchMaintenanceMode(ctx context.Context, branchID string, enabled bool, reason string) error {
	now := nowString()
	var startedAt interface{}
	if enabled {
		startedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE branches
		SET maintenance_mode = ?, maintenance_reason = ?, maintenance_started_at = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(enabled), reason, startedAt, now, branchID)
	return cinchdberr.WrapCatalog("set branch maintenance mode", err)
}

// ArchiveBranch sets archived_at and hard-deletes the branch's tenant rows
// in a single transaction (spec.md §4.4). DeleteBranch is an alias.
func (s *Store) ArchiveBranch(ctx context.Context, branchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cinchdberr.WrapCatalog("archive branch: begin tx", err)
	}
	defer tx.Rollback()

	now := nowString()
	if _, err := tx.ExecContext(ctx, `UPDATE branches SET archived_at = ?, updated_at = ? WHERE id = ?`, now, now, branchID); err != nil {
		return cinchdberr.WrapCatalog("archive branch: update", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE branch_id = ?`, branchID); err != nil {
		return cinchdberr.WrapCatalog("archive branch: delete tenants", err)
	}
	if err := tx.Commit(); err != nil {
		return cinchdberr.WrapCatalog("archive branch: commit", err)
	}
	return nil
}

// DeleteBranch is an alias for ArchiveBranch (spec.md §4.4).
func (s *Store) DeleteBranch(ctx context.Context, branchID string) error {
	return s.ArchiveBranch(ctx, branchID)
}

func scanBranch(row interface{ Scan(...interface{}) error }) (*Branch, error) {
	var b Branch
	var materialized, maintenance, cdc int
	var startedAt, archivedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&b.ID, &b.DatabaseID, &b.Name, &b.ParentBranch, &b.SchemaVersion,
		&materialized, &maintenance, &b.MaintenanceReason, &startedAt, &cdc, &archivedAt,
		&b.Metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Materialized = materialized != 0
	b.MaintenanceMode = maintenance != 0
	b.CDCEnabled = cdc != 0
	if startedAt.Valid {
		t := mustParse(startedAt.String)
		b.MaintenanceStartedAt = &t
	}
	if archivedAt.Valid {
		t := mustParse(archivedAt.String)
		b.ArchivedAt = &t
	}
	b.CreatedAt = mustParse(createdAt)
	b.UpdatedAt = mustParse(updatedAt)
	return &b, nil
}
