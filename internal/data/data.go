package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

// Manager performs parameterized CRUD against one tenant of one branch.
type Manager struct {
	store     *catalog.Store
	tenantMgr *tenant.Manager
	layout    *layout.Project
	pool      *sqlitedb.Pool
}

// New returns a Manager wired to the given catalog, tenant manager, path
// layout, and connection pool.
func New(store *catalog.Store, tenantMgr *tenant.Manager, proj *layout.Project, pool *sqlitedb.Pool) *Manager {
	return &Manager{store: store, tenantMgr: tenantMgr, layout: proj, pool: pool}
}

// writeDB resolves tenant's db handle for a write: it materializes lazy
// tenants and refuses if the branch is under maintenance (spec.md §4.12,
// §5's "DML writers MUST check for its presence").
func (m *Manager) writeDB(ctx context.Context, database, branch, branchID, tenantName string) (*sql.DB, error) {
	b, err := m.store.GetBranchByID(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, cinchdberr.NotFound("branch", branchID)
	}
	if b.MaintenanceMode {
		return nil, cinchdberr.MaintenanceMode(b.Name, b.MaintenanceReason)
	}

	path, err := m.tenantMgr.GetTenantDBPathForOperation(ctx, database, branch, branchID, tenantName, true)
	if err != nil {
		return nil, err
	}
	return m.pool.Get(path)
}

// readDB resolves tenant's db handle for a read, directed to the
// __empty__ template file if tenantName is still lazy.
func (m *Manager) readDB(ctx context.Context, database, branch, branchID, tenantName string) (*sql.DB, error) {
	path, err := m.tenantMgr.GetTenantDBPathForOperation(ctx, database, branch, branchID, tenantName, false)
	if err != nil {
		return nil, err
	}
	return m.pool.Get(path)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateFromDict inserts one row into table, auto-generating id and
// stamping created_at/updated_at.
func (m *Manager) CreateFromDict(ctx context.Context, database, branch, branchID, tenantName, table string, values map[string]interface{}) (string, error) {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := nowISO()
	cols := []string{"id", "created_at", "updated_at"}
	args := []interface{}{id, now, now}
	for k, v := range values {
		cols = append(cols, k)
		args = append(args, v)
	}

	placeholders := ""
	colList := ""
	for i, c := range cols {
		if i > 0 {
			placeholders += ", "
			colList += ", "
		}
		placeholders += "?"
		colList += c
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, placeholders)
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return "", err
	}
	return id, nil
}

// BulkCreateFromDict inserts every row in one transaction; any row that
// violates a UNIQUE constraint rolls back the entire batch.
func (m *Manager) BulkCreateFromDict(ctx context.Context, database, branch, branchID, tenantName, table string, rows []map[string]interface{}) ([]string, error) {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := nowISO()
	ids := make([]string, 0, len(rows))
	for _, values := range rows {
		id := uuid.NewString()
		cols := []string{"id", "created_at", "updated_at"}
		args := []interface{}{id, now, now}
		for k, v := range values {
			cols = append(cols, k)
			args = append(args, v)
		}
		placeholders := ""
		colList := ""
		for i, c := range cols {
			if i > 0 {
				placeholders += ", "
				colList += ", "
			}
			placeholders += "?"
			colList += c
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, placeholders)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// FindByID returns one row by primary key, or nil if not found.
func (m *Manager) FindByID(ctx context.Context, database, branch, branchID, tenantName, table, id string) (map[string]interface{}, error) {
	db, err := m.readDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Select returns up to limit rows (offset-paginated) matching filters,
// combined with logic.
func (m *Manager) Select(ctx context.Context, database, branch, branchID, tenantName, table string, limit, offset int, filters []Predicate, logic Logic) ([]map[string]interface{}, error) {
	db, err := m.readDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return nil, err
	}
	where, args, err := compileWhere(filters, logic)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s%s LIMIT ? OFFSET ?", table, where)
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Count returns the number of rows matching filters.
func (m *Manager) Count(ctx context.Context, database, branch, branchID, tenantName, table string, filters []Predicate, logic Logic) (int, error) {
	db, err := m.readDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return 0, err
	}
	where, args, err := compileWhere(filters, logic)
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where), args...).Scan(&count)
	return count, err
}

// UpdateByID updates one row's columns by primary key and refreshes
// updated_at.
func (m *Manager) UpdateByID(ctx context.Context, database, branch, branchID, tenantName, table, id string, values map[string]interface{}) error {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return err
	}
	set, args := updateSet(values)
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, set)
	_, err = db.ExecContext(ctx, q, args...)
	return err
}

// UpdateWhere updates every row matching filters and returns the number of
// rows affected.
func (m *Manager) UpdateWhere(ctx context.Context, database, branch, branchID, tenantName, table string, values map[string]interface{}, filters []Predicate, logic Logic) (int64, error) {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return 0, err
	}
	set, setArgs := updateSet(values)
	where, whereArgs, err := compileWhere(filters, logic)
	if err != nil {
		return 0, err
	}
	args := append(setArgs, whereArgs...)
	q := fmt.Sprintf("UPDATE %s SET %s%s", table, set, where)
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByID deletes one row by primary key.
func (m *Manager) DeleteByID(ctx context.Context, database, branch, branchID, tenantName, table, id string) error {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	return err
}

// DeleteWhere deletes every row matching filters and returns the number of
// rows affected.
func (m *Manager) DeleteWhere(ctx context.Context, database, branch, branchID, tenantName, table string, filters []Predicate, logic Logic) (int64, error) {
	db, err := m.writeDB(ctx, database, branch, branchID, tenantName)
	if err != nil {
		return 0, err
	}
	where, args, err := compileWhere(filters, logic)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", table, where), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func updateSet(values map[string]interface{}) (string, []interface{}) {
	set := "updated_at = ?"
	args := []interface{}{nowISO()}
	for k, v := range values {
		set += fmt.Sprintf(", %s = ?", k)
		args = append(args, v)
	}
	return set, args
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
