// Package changeexec implements the one piece of execution logic that must
// behave identically no matter which tenant file it runs against: given a
// Change, pick the right one of spec.md §4.7's four execution forms and run
// it in a transaction. internal/apply calls this for every materialized
// tenant; internal/tenant calls it again while replaying a branch's full
// history onto a freshly emptied __empty__ file. Sharing the dispatch (and
// not just the idea of it) is what keeps __empty__ bit-for-bit in sync with
// every other tenant after a DROP COLUMN, ALTER COLUMN NULLABLE, MODIFY
// COLUMN, table-copy, or view-update change.
package changeexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/catalog"
)

// Statement is one labeled step of a multi-statement change (spec.md §4.7),
// used for DROP COLUMN, ALTER COLUMN NULLABLE, and MODIFY COLUMN's
// create-temp / copy / drop / rename recipe.
type Statement struct {
	Label string `json:"label"`
	SQL   string `json:"sql"`
}

// Details is the parsed form of a Change's raw JSON details column. Which
// fields are populated determines which of the four execution forms
// spec.md §4.7 applies.
type Details struct {
	// Table names the target table; required for ADD_COLUMN.
	Table string `json:"table,omitempty"`
	// Statements, when non-empty, selects the multi-statement execution
	// form: every entry runs in order inside one transaction.
	Statements []Statement `json:"statements,omitempty"`
	// CopySQL, when non-empty, selects the table-copy execution form: the
	// change's own SQL creates the new table, then CopySQL (an
	// INSERT ... SELECT) populates it, both inside one transaction.
	CopySQL string `json:"copy_sql,omitempty"`
}

// ParseDetails decodes a Change's raw Details JSON column.
func ParseDetails(raw string) (*Details, error) {
	if raw == "" || raw == "{}" {
		return &Details{}, nil
	}
	var d Details
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Execute runs one Change against db using whichever of the four execution
// forms spec.md §4.7 selects, inside a single transaction.
func Execute(ctx context.Context, db *sql.DB, c *catalog.Change) error {
	details, err := ParseDetails(c.Details)
	if err != nil {
		return fmt.Errorf("changeexec: parse details for change %s: %w", c.ID, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("changeexec: begin tx: %w", err)
	}
	defer tx.Rollback()

	switch {
	case len(details.Statements) > 0:
		for _, stmt := range details.Statements {
			if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
				return fmt.Errorf("changeexec: statement %q: %w", stmt.Label, err)
			}
		}
	case details.CopySQL != "":
		if _, err := tx.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("changeexec: create table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, details.CopySQL); err != nil {
			return fmt.Errorf("changeexec: copy rows: %w", err)
		}
	case c.Type == catalog.ChangeUpdateView:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", c.EntityName)); err != nil {
			return fmt.Errorf("changeexec: drop view %s: %w", c.EntityName, err)
		}
		if _, err := tx.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("changeexec: create view %s: %w", c.EntityName, err)
		}
	default:
		if _, err := tx.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("changeexec: exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("changeexec: commit: %w", err)
	}
	return nil
}
