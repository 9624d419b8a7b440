package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
)

// IndexInfo describes one index as reported by ListIndexes/IndexInfoOp.
type IndexInfo struct {
	Name    string
	Table   string
	Unique  bool
	Columns []string
}

// indexName auto-generates idx_<table>_<cols> when name is empty.
func indexName(table string, columns []string, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("idx_%s_%s", table, strings.Join(columns, "_"))
}

// CreateIndex creates an index over table's columns, auto-naming it
// idx_<table>_<cols> when name is empty, with CREATE INDEX IF NOT EXISTS so
// repeated application against tenants is safe.
func (m *Manager) CreateIndex(ctx context.Context, database, branch, databaseID, branchID, table, name string, columns []string, unique bool) (*changes.Record, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema: create index on %q requires at least one column", table)
	}
	idxName := indexName(table, columns, name)

	uniqueKW := ""
	if unique {
		uniqueKW = "UNIQUE "
	}
	sqlText := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", uniqueKW, idxName, table, strings.Join(columns, ", "))
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeCreateIndex, catalog.EntityIndex, idxName, "{}", sqlText)
}

// DropIndex drops index name.
func (m *Manager) DropIndex(ctx context.Context, database, branch, databaseID, branchID, name string) (*changes.Record, error) {
	sqlText := fmt.Sprintf("DROP INDEX IF EXISTS %s", name)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeDropIndex, catalog.EntityIndex, name, "{}", sqlText)
}

// ListIndexes returns every index defined on the branch's main tenant,
// optionally filtered to one table (empty string lists all).
func (m *Manager) ListIndexes(ctx context.Context, database, branch, table string) ([]IndexInfo, error) {
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}

	query := `SELECT name, tbl_name FROM sqlite_master WHERE type = 'index' AND name NOT LIKE 'sqlite_%'`
	args := []interface{}{}
	if table != "" {
		query += ` AND tbl_name = ?`
		args = append(args, table)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []IndexInfo
	for rows.Next() {
		var name, tbl string
		if err := rows.Scan(&name, &tbl); err != nil {
			return nil, err
		}
		info, err := indexInfoFor(db, name, tbl)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// IndexInfoOp returns details for a single index by name.
func (m *Manager) IndexInfoOp(ctx context.Context, database, branch, name string) (*IndexInfo, error) {
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}
	var tbl string
	err = db.QueryRowContext(ctx, `SELECT tbl_name FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&tbl)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schema: index %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	info, err := indexInfoFor(db, name, tbl)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func indexInfoFor(db *sql.DB, name, table string) (IndexInfo, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_info(%s)", name))
	if err != nil {
		return IndexInfo{}, err
	}
	defer rows.Close()

	unique, err := indexIsUnique(db, table, name)
	if err != nil {
		return IndexInfo{}, err
	}

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString
		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return IndexInfo{}, err
		}
		if colName.Valid {
			cols = append(cols, colName.String)
		}
	}
	return IndexInfo{Name: name, Table: table, Unique: unique, Columns: cols}, rows.Err()
}

func indexIsUnique(db *sql.DB, table, indexName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if name == indexName {
			return unique != 0, nil
		}
	}
	return false, rows.Err()
}
