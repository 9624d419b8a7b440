package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
)

// CreateChange inserts an immutable change row (spec.md §3). It does not
// link the change to any branch; call LinkChangeToBranch for that.
func (s *Store) CreateChange(ctx context.Context, databaseID, originBranchID, originBranchName string,
	typ ChangeType, entityType EntityType, entityName, details, sqlText string) (*Change, error) {
	now := nowString()
	c := &Change{
		ID:               uuid.NewString(),
		DatabaseID:       databaseID,
		OriginBranchID:   originBranchID,
		OriginBranchName: originBranchName,
		Type:             typ,
		EntityType:       entityType,
		EntityName:       entityName,
		Details:          details,
		SQL:              sqlText,
		CreatedAt:        mustParse(now),
		UpdatedAt:        mustParse(now),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changes (id, database_id, origin_branch_id, origin_branch_name, type, entity_type, entity_name, details, sql, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.DatabaseID, nullableString(c.OriginBranchID), nullableString(c.OriginBranchName),
		string(c.Type), string(c.EntityType), c.EntityName, c.Details, c.SQL, now, now)
	if err != nil {
		return nil, cinchdberr.WrapCatalog("create change", err)
	}
	return c, nil
}

// GetChange returns a change by id, or nil if it does not exist.
func (s *Store) GetChange(ctx context.Context, id string) (*Change, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_id, COALESCE(origin_branch_id, ''), COALESCE(origin_branch_name, ''),
		       type, entity_type, entity_name, details, sql, created_at, updated_at
		FROM changes WHERE id = ?
	`, id)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get change", err)
	}
	return c, nil
}

// nextAppliedOrder returns max(applied_order)+1 for branchID, 0 if empty.
func (s *Store) nextAppliedOrder(ctx context.Context, tx *sql.Tx, branchID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(applied_order) FROM branch_changes WHERE branch_id = ?`, branchID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// LinkChangeToBranch attaches changeID to branchID as unapplied, assigning
// the next dense applied_order (spec.md §4.5).
func (s *Store) LinkChangeToBranch(ctx context.Context, branchID, branchName, changeID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, cinchdberr.WrapCatalog("link change: begin tx", err)
	}
	defer tx.Rollback()

	order, err := s.nextAppliedOrder(ctx, tx, branchID)
	if err != nil {
		return 0, cinchdberr.WrapCatalog("link change: next order", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branch_changes (branch_id, branch_name, change_id, applied, applied_order)
		VALUES (?, ?, ?, 0, ?)
	`, branchID, branchName, changeID, order)
	if err != nil {
		return 0, cinchdberr.WrapCatalog("link change: insert", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, cinchdberr.WrapCatalog("link change: commit", err)
	}
	return order, nil
}

// GetChanges returns every change linked to branchID, strictly ordered by
// applied_order (spec.md §4.5 ordering invariant).
func (s *Store) GetChanges(ctx context.Context, branchID string) ([]*BranchChangeView, error) {
	return s.queryBranchChanges(ctx, `
		SELECT c.id, c.database_id, COALESCE(c.origin_branch_id, ''), COALESCE(c.origin_branch_name, ''),
		       c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at, c.updated_at,
		       bc.applied, bc.applied_order
		FROM branch_changes bc JOIN changes c ON c.id = bc.change_id
		WHERE bc.branch_id = ?
		ORDER BY bc.applied_order ASC
	`, branchID)
}

// GetUnappliedChanges returns branchID's unapplied changes in order.
func (s *Store) GetUnappliedChanges(ctx context.Context, branchID string) ([]*BranchChangeView, error) {
	return s.queryBranchChanges(ctx, `
		SELECT c.id, c.database_id, COALESCE(c.origin_branch_id, ''), COALESCE(c.origin_branch_name, ''),
		       c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at, c.updated_at,
		       bc.applied, bc.applied_order
		FROM branch_changes bc JOIN changes c ON c.id = bc.change_id
		WHERE bc.branch_id = ? AND bc.applied = 0
		ORDER BY bc.applied_order ASC
	`, branchID)
}

// GetChangesSince returns branchID's changes with applied_order strictly
// greater than the order of sinceChangeID, in order.
func (s *Store) GetChangesSince(ctx context.Context, branchID, sinceChangeID string) ([]*BranchChangeView, error) {
	return s.queryBranchChanges(ctx, `
		SELECT c.id, c.database_id, COALESCE(c.origin_branch_id, ''), COALESCE(c.origin_branch_name, ''),
		       c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at, c.updated_at,
		       bc.applied, bc.applied_order
		FROM branch_changes bc JOIN changes c ON c.id = bc.change_id
		WHERE bc.branch_id = ? AND bc.applied_order > (
			SELECT applied_order FROM branch_changes WHERE branch_id = ? AND change_id = ?
		)
		ORDER BY bc.applied_order ASC
	`, branchID, branchID, sinceChangeID)
}

// GetBranchChange returns the single branch_changes row joined with its
// change for (branchID, changeID), or nil if no such link exists.
func (s *Store) GetBranchChange(ctx context.Context, branchID, changeID string) (*BranchChangeView, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.database_id, COALESCE(c.origin_branch_id, ''), COALESCE(c.origin_branch_name, ''),
		       c.type, c.entity_type, c.entity_name, c.details, c.sql, c.created_at, c.updated_at,
		       bc.applied, bc.applied_order
		FROM branch_changes bc JOIN changes c ON c.id = bc.change_id
		WHERE bc.branch_id = ? AND bc.change_id = ?
	`, branchID, changeID)

	var c Change
	var applied int
	var order int
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.DatabaseID, &c.OriginBranchID, &c.OriginBranchName,
		&c.Type, &c.EntityType, &c.EntityName, &c.Details, &c.SQL, &createdAt, &updatedAt,
		&applied, &order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cinchdberr.WrapCatalog("get branch change", err)
	}
	c.CreatedAt = mustParse(createdAt)
	c.UpdatedAt = mustParse(updatedAt)
	return &BranchChangeView{Change: c, Applied: applied != 0, AppliedOrder: order}, nil
}

func (s *Store) queryBranchChanges(ctx context.Context, q string, args ...interface{}) ([]*BranchChangeView, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, cinchdberr.WrapCatalog("query branch changes", err)
	}
	defer rows.Close()

	var out []*BranchChangeView
	for rows.Next() {
		var c Change
		var applied int
		var order int
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.DatabaseID, &c.OriginBranchID, &c.OriginBranchName,
			&c.Type, &c.EntityType, &c.EntityName, &c.Details, &c.SQL, &createdAt, &updatedAt,
			&applied, &order); err != nil {
			return nil, cinchdberr.WrapCatalog("scan branch change", err)
		}
		c.CreatedAt = mustParse(createdAt)
		c.UpdatedAt = mustParse(updatedAt)
		out = append(out, &BranchChangeView{Change: c, Applied: applied != 0, AppliedOrder: order})
	}
	return out, cinchdberr.WrapCatalog("iterate branch changes", rows.Err())
}

// BranchChangeView joins a Change with its branch-specific applied state.
type BranchChangeView struct {
	Change
	Applied      bool
	AppliedOrder int
}

// MarkChangeApplied sets the applied flag for (branchID, changeID).
func (s *Store) MarkChangeApplied(ctx context.Context, branchID, changeID string, applied bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE branch_changes SET applied = ? WHERE branch_id = ? AND change_id = ?
	`, boolToInt(applied), branchID, changeID)
	return cinchdberr.WrapCatalog("mark change applied", err)
}

// UpdateChangeAppliedStatus is an alias for MarkChangeApplied kept for
// parity with spec.md §4.4's named operation.
func (s *Store) UpdateChangeAppliedStatus(ctx context.Context, branchID, changeID string, applied bool) error {
	return s.MarkChangeApplied(ctx, branchID, changeID, applied)
}

// RemoveChange unlinks changeID from branchID (catalog row only; does not
// undo already-applied DDL — spec.md §9 Open Question).
func (s *Store) RemoveChange(ctx context.Context, branchID, changeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM branch_changes WHERE branch_id = ? AND change_id = ?`, branchID, changeID)
	return cinchdberr.WrapCatalog("remove change", err)
}

// CopyBranchChanges copies every branch_changes row from sourceBranchID to
// targetBranchID in applied_order sequence, preserving the applied flag
// and stamping copied_from (spec.md §3 BranchChange invariant, §4.4).
func (s *Store) CopyBranchChanges(ctx context.Context, sourceBranchID, sourceBranchName, targetBranchID, targetBranchName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_changes (branch_id, branch_name, change_id, applied, applied_order, copied_from_branch_id, copied_from_branch_name)
		SELECT ?, ?, change_id, applied, applied_order, ?, ?
		FROM branch_changes
		WHERE branch_id = ?
		ORDER BY applied_order ASC
	`, targetBranchID, targetBranchName, sourceBranchID, sourceBranchName, sourceBranchID)
	return cinchdberr.WrapCatalog("copy branch changes", err)
}

func scanChange(row interface{ Scan(...interface{}) error }) (*Change, error) {
	var c Change
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.DatabaseID, &c.OriginBranchID, &c.OriginBranchName,
		&c.Type, &c.EntityType, &c.EntityName, &c.Details, &c.SQL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = mustParse(createdAt)
	c.UpdatedAt = mustParse(updatedAt)
	return &c, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
