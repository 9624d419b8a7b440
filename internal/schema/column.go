// Package schema implements the table, column, view, and index builders:
// each translates a high-level request into a Change record plus the SQL
// the change applier will run against every tenant (spec.md §4.11). None
// of these managers write a tenant file directly; they open the branch's
// main tenant only to introspect its current schema.
package schema

import (
	"fmt"
	"strings"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/names"
)

// protectedColumnNames cannot be used as user column names in any create,
// add, drop, rename, or alter request.
var protectedColumnNames = map[string]bool{
	"id": true, "created_at": true, "updated_at": true,
}

// protectedTablePrefixes cannot begin a user table name.
var protectedTablePrefixes = []string{"__", "sqlite_"}

// Column describes one user-defined column of a table create request.
type Column struct {
	Name       string
	Type       string // TEXT, INTEGER, REAL, BLOB, NUMERIC
	Nullable   bool
	Unique     bool
	Default    string // raw SQL literal/expression, empty for none
	ForeignKey *ForeignKey
}

// ForeignKey references another table's column.
type ForeignKey struct {
	Table  string
	Column string
}

func validateTableName(name string) error {
	if err := names.ValidateSQLName(name); err != nil {
		return err
	}
	for _, prefix := range protectedTablePrefixes {
		if strings.HasPrefix(name, prefix) {
			return cinchdberr.ProtectedEntity(fmt.Sprintf("table name %q cannot begin with %q", name, prefix))
		}
	}
	return nil
}

func validateColumnName(name string) error {
	if err := names.ValidateSQLName(name); err != nil {
		return err
	}
	if protectedColumnNames[name] {
		return cinchdberr.ProtectedEntity(fmt.Sprintf("column name %q is reserved", name))
	}
	return nil
}

func (c Column) columnDDL() (string, error) {
	if err := validateColumnName(c.Name); err != nil {
		return "", err
	}
	if c.Type == "" {
		return "", fmt.Errorf("schema: column %q missing type", c.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Name, c.Type)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if c.Default != "" {
		fmt.Fprintf(&b, " DEFAULT %s", c.Default)
	}
	return b.String(), nil
}

// columnInfoDDL renders an existing column's definition from its
// introspected PRAGMA table_info row, the way columnDDL renders one from a
// user-supplied Column: declared type, PRIMARY KEY (id is also marked
// UNIQUE, matching CreateTable's automatic id column), NOT NULL, and
// DEFAULT. Used to rebuild a temp table's column list verbatim for
// DROP COLUMN, ALTER COLUMN NULLABLE, and MODIFY COLUMN, so those
// operations don't silently drop the constraints CTAS can't carry over.
func columnInfoDDL(c columnInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.name, c.ctype)
	if c.pk > 0 {
		b.WriteString(" PRIMARY KEY")
	}
	if c.name == "id" {
		b.WriteString(" UNIQUE")
	}
	if c.notNull {
		b.WriteString(" NOT NULL")
	}
	if c.dflt.Valid {
		fmt.Fprintf(&b, " DEFAULT %s", c.dflt.String)
	}
	return b.String()
}

func (c Column) foreignKeyDDL() string {
	if c.ForeignKey == nil {
		return ""
	}
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", c.Name, c.ForeignKey.Table, c.ForeignKey.Column)
}
