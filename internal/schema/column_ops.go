package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changeexec"
	"github.com/cinchdb/cinchdb/internal/changes"
)

// AddColumn adds col to table, recording details.table so the applier's
// ADD_COLUMN validation (internal/apply.ValidateChange) can check it.
func (m *Manager) AddColumn(ctx context.Context, database, branch, databaseID, branchID, table string, col Column) (*changes.Record, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	ddl, err := col.columnDDL()
	if err != nil {
		return nil, err
	}
	details, err := json.Marshal(changeexec.Details{Table: table})
	if err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, ddl)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeAddColumn, catalog.EntityColumn, col.Name, string(details), sqlText)
}

// DropColumn removes column from table using the create-temp/copy/drop/
// rename recipe (spec.md §4.11), packaged as a multi-statement change. The
// temp table's columns are declared explicitly (type, NOT NULL, DEFAULT,
// PRIMARY KEY) from the live table's own PRAGMA table_info, rather than via
// `CREATE TABLE ... AS SELECT`, which carries over none of that — including
// the protected id column's PRIMARY KEY/NOT NULL.
func (m *Manager) DropColumn(ctx context.Context, database, branch, databaseID, branchID, table, column string) (*changes.Record, error) {
	if err := validateColumnName(column); err != nil {
		return nil, err
	}
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}
	cols, err := tableColumnInfo(db, table)
	if err != nil {
		return nil, err
	}
	remaining := make([]columnInfo, 0, len(cols))
	for _, c := range cols {
		if c.name != column {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == len(cols) {
		return nil, fmt.Errorf("schema: table %q has no column %q", table, column)
	}

	statements := tempTableRecipe(table, remaining, nil)
	details, err := json.Marshal(changeexec.Details{Statements: statements})
	if err != nil {
		return nil, err
	}
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeDropColumn, catalog.EntityColumn, column, string(details), statements[0].SQL)
}

// tempTableRecipe builds the create-temp/copy/drop/rename statements shared
// by DropColumn, AlterColumnNullable, and ModifyColumn: an explicit
// CREATE TABLE (so every retained column keeps its type, NOT NULL, DEFAULT,
// and PRIMARY KEY), then an INSERT ... SELECT copy, then the drop and
// rename. selectExprs overrides the SELECT-side expression for columns by
// name (used for AlterColumnNullable's COALESCE fill); columns absent from
// it are copied as-is.
func tempTableRecipe(table string, cols []columnInfo, selectExprs map[string]string) []changeexec.Statement {
	tmp := table + "_temp"
	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	selects := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = columnInfoDDL(c)
		names[i] = c.name
		if expr, ok := selectExprs[c.name]; ok {
			selects[i] = expr
		} else {
			selects[i] = c.name
		}
	}
	colList := strings.Join(names, ", ")
	return []changeexec.Statement{
		{Label: "create_temp", SQL: fmt.Sprintf("CREATE TABLE %s (%s)", tmp, strings.Join(defs, ", "))},
		{Label: "copy_data", SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", tmp, colList, strings.Join(selects, ", "), table)},
		{Label: "drop_original", SQL: fmt.Sprintf("DROP TABLE %s", table)},
		{Label: "rename_temp", SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, table)},
	}
}

// RenameColumn renames oldName to newName on table.
func (m *Manager) RenameColumn(ctx context.Context, database, branch, databaseID, branchID, table, oldName, newName string) (*changes.Record, error) {
	if err := validateColumnName(newName); err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, oldName, newName)
	details, err := json.Marshal(changeexec.Details{Table: table})
	if err != nil {
		return nil, err
	}
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeRenameColumn, catalog.EntityColumn, oldName, string(details), sqlText)
}

// AlterColumnNullable flips column's NULL/NOT NULL constraint on table
// using the same create-temp/copy/drop/rename recipe as DropColumn.
// Transitioning to NOT NULL with existing NULL values is refused unless
// fillValue is supplied, in which case the copy step applies
// COALESCE(col, fillValue) (spec.md §4.11).
func (m *Manager) AlterColumnNullable(ctx context.Context, database, branch, databaseID, branchID, table, column string, nullable bool, fillValue string) (*changes.Record, error) {
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}
	exists, currentlyNullable, err := columnNullable(db, table, column)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("schema: table %q has no column %q", table, column)
	}
	if !nullable && currentlyNullable {
		hasNulls, err := hasNullValues(db, table, column)
		if err != nil {
			return nil, err
		}
		if hasNulls && fillValue == "" {
			return nil, fmt.Errorf("schema: column %q has existing NULL values; supply a fill value to make it NOT NULL", column)
		}
	}

	cols, err := tableColumnInfo(db, table)
	if err != nil {
		return nil, err
	}
	for i, c := range cols {
		if c.name == column {
			cols[i].notNull = !nullable
		}
	}
	var selectExprs map[string]string
	if !nullable && fillValue != "" {
		selectExprs = map[string]string{column: fmt.Sprintf("COALESCE(%s, %s)", column, fillValue)}
	}
	statements := tempTableRecipe(table, cols, selectExprs)
	details, err := json.Marshal(changeexec.Details{Statements: statements})
	if err != nil {
		return nil, err
	}
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeAlterColumnNull, catalog.EntityColumn, column, string(details), statements[0].SQL)
}

// ModifyColumn changes column's declared type on table, using the same
// create-temp/copy/drop/rename recipe. SQLite does not enforce column
// types strictly, so existing values are copied unchanged; only the new
// table's declared type (and, consequently, its affinity) differs.
func (m *Manager) ModifyColumn(ctx context.Context, database, branch, databaseID, branchID, table, column, newType string) (*changes.Record, error) {
	db, err := m.mainDB(database, branch)
	if err != nil {
		return nil, err
	}
	cols, err := tableColumnInfo(db, table)
	if err != nil {
		return nil, err
	}
	found := false
	for i, c := range cols {
		if c.name == column {
			cols[i].ctype = newType
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("schema: table %q has no column %q", table, column)
	}

	statements := tempTableRecipe(table, cols, nil)
	details, err := json.Marshal(changeexec.Details{Statements: statements})
	if err != nil {
		return nil, err
	}
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeModifyColumn, catalog.EntityColumn, column, string(details), statements[0].SQL)
}
