package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/apply"
	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changeexec"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

// Manager builds and applies table, column, view, and index changes for one
// branch. Introspection (table/column existence checks for foreign keys and
// drop-column recipes) reads the branch's main tenant, which spec.md's
// Tenant invariants guarantee is always materialized and schema-current.
type Manager struct {
	tracker   *changes.Tracker
	applier   *apply.Engine
	tenantMgr *tenant.Manager
	layout    *layout.Project
	pool      *sqlitedb.Pool
}

// New returns a Manager wired to the given change tracker, applier, tenant
// manager, path layout, and connection pool.
func New(tracker *changes.Tracker, applier *apply.Engine, tenantMgr *tenant.Manager, proj *layout.Project, pool *sqlitedb.Pool) *Manager {
	return &Manager{tracker: tracker, applier: applier, tenantMgr: tenantMgr, layout: proj, pool: pool}
}

func (m *Manager) mainDB(database, branch string) (*sql.DB, error) {
	return m.pool.Get(m.layout.TenantPath(database, branch, layout.MainTenant))
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func columnNullable(db *sql.DB, table, column string) (bool, bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, false, err
		}
		if name == column {
			return true, notnull == 0, nil
		}
	}
	return false, false, rows.Err()
}

func hasNullValues(db *sql.DB, table, column string) (bool, error) {
	var count int
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", table, column)).Scan(&count)
	return count > 0, err
}

func allColumns(db *sql.DB, table string) ([]string, error) {
	infos, err := tableColumnInfo(db, table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(infos))
	for i, c := range infos {
		cols[i] = c.name
	}
	return cols, nil
}

// columnInfo is one row of `PRAGMA table_info`, carrying enough of a
// column's declared constraints (type, NOT NULL, default, primary-key
// position) to reconstruct it verbatim in a rebuilt table.
type columnInfo struct {
	name    string
	ctype   string
	notNull bool
	dflt    sql.NullString
	pk      int
}

// tableColumnInfo reads table's current column definitions directly from
// SQLite, so a temp-table rebuild (drop/alter/modify column) can declare
// every retained column explicitly instead of relying on `CREATE TABLE ...
// AS SELECT`, which drops NOT NULL/PRIMARY KEY/DEFAULT from the source.
func tableColumnInfo(db *sql.DB, table string) ([]columnInfo, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var infos []columnInfo
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		infos = append(infos, columnInfo{name: name, ctype: ctype, notNull: notnull != 0, dflt: dflt, pk: pk})
	}
	return infos, rows.Err()
}

// record creates a change against branchID's origin and applies it to
// every tenant, returning once applied or on first failure.
func (m *Manager) record(ctx context.Context, database, branch, databaseID, branchID string,
	typ catalog.ChangeType, entityType catalog.EntityType, entityName, details, sqlText string) (*changes.Record, error) {
	r, err := m.tracker.AddChange(ctx, databaseID, branchID, branch, typ, entityType, entityName, details, sqlText)
	if err != nil {
		return nil, err
	}
	if err := m.applier.ApplyChange(ctx, database, branch, branchID, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateTable builds CREATE TABLE DDL for name with CinchDB's three
// automatic columns prepended, validates every user column and its
// optional foreign key, and applies the change.
func (m *Manager) CreateTable(ctx context.Context, database, branch, databaseID, branchID, name string, columns []Column) (*changes.Record, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}

	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}

	defs := []string{
		"id TEXT PRIMARY KEY UNIQUE NOT NULL",
		"created_at TEXT NOT NULL",
		"updated_at TEXT",
	}
	var fks []string
	for _, c := range columns {
		ddl, err := c.columnDDL()
		if err != nil {
			return nil, err
		}
		defs = append(defs, ddl)
		if c.ForeignKey != nil {
			exists, err := tableExists(db, c.ForeignKey.Table)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("schema: foreign key references unknown table %q", c.ForeignKey.Table)
			}
			hasCol, err := columnExists(db, c.ForeignKey.Table, c.ForeignKey.Column)
			if err != nil {
				return nil, err
			}
			if !hasCol {
				return nil, fmt.Errorf("schema: foreign key references unknown column %q.%q", c.ForeignKey.Table, c.ForeignKey.Column)
			}
			fks = append(fks, c.foreignKeyDDL())
		}
	}
	defs = append(defs, fks...)

	sqlText := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", name, strings.Join(defs, ",\n  "))
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeCreateTable, catalog.EntityTable, name, "{}", sqlText)
}

// DropTable drops name.
func (m *Manager) DropTable(ctx context.Context, database, branch, databaseID, branchID, name string) (*changes.Record, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf("DROP TABLE %s", name)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeDropTable, catalog.EntityTable, name, "{}", sqlText)
}

// RenameTable renames oldName to newName.
func (m *Manager) RenameTable(ctx context.Context, database, branch, databaseID, branchID, oldName, newName string) (*changes.Record, error) {
	if err := validateTableName(oldName); err != nil {
		return nil, err
	}
	if err := validateTableName(newName); err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", oldName, newName)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeRenameTable, catalog.EntityTable, oldName, "{}", sqlText)
}

// CopyTable creates targetTable as a structural duplicate of sourceTable —
// same columns, same NOT NULL/DEFAULT/PRIMARY KEY constraints — optionally
// carrying over its rows. This is the table-copy execution form spec.md
// §4.7 documents (`details.copy_sql`): the change's own SQL is the new
// table's CREATE TABLE, and, when copyData is true, details.copy_sql is an
// INSERT ... SELECT populating it in the same transaction.
func (m *Manager) CopyTable(ctx context.Context, database, branch, databaseID, branchID, sourceTable, targetTable string, copyData bool) (*changes.Record, error) {
	if err := validateTableName(targetTable); err != nil {
		return nil, err
	}
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}
	exists, err := tableExists(db, sourceTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("schema: source table %q does not exist", sourceTable)
	}
	targetExists, err := tableExists(db, targetTable)
	if err != nil {
		return nil, err
	}
	if targetExists {
		return nil, fmt.Errorf("schema: target table %q already exists", targetTable)
	}

	cols, err := tableColumnInfo(db, sourceTable)
	if err != nil {
		return nil, err
	}
	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = columnInfoDDL(c)
		names[i] = c.name
	}
	sqlText := fmt.Sprintf("CREATE TABLE %s (%s)", targetTable, strings.Join(defs, ", "))

	var copySQL string
	if copyData {
		colList := strings.Join(names, ", ")
		copySQL = fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", targetTable, colList, colList, sourceTable)
	}
	details, err := json.Marshal(changeexec.Details{CopySQL: copySQL})
	if err != nil {
		return nil, err
	}
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeCreateTable, catalog.EntityTable, targetTable, string(details), sqlText)
}
