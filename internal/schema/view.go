package schema

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/names"
)

// CreateView creates a view named name with the given SELECT body.
func (m *Manager) CreateView(ctx context.Context, database, branch, databaseID, branchID, name, selectSQL string) (*changes.Record, error) {
	if err := names.ValidateSQLName(name); err != nil {
		return nil, err
	}
	sqlText := fmt.Sprintf("CREATE VIEW %s AS %s", name, selectSQL)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeCreateView, catalog.EntityView, name, "{}", sqlText)
}

// DropView drops view name.
func (m *Manager) DropView(ctx context.Context, database, branch, databaseID, branchID, name string) (*changes.Record, error) {
	sqlText := fmt.Sprintf("DROP VIEW %s", name)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeDropView, catalog.EntityView, name, "{}", sqlText)
}

// UpdateView replaces view name's body. The applier executes UPDATE_VIEW
// changes as DROP VIEW IF EXISTS followed by the change's own CREATE VIEW
// SQL (spec.md §4.7, §4.11).
func (m *Manager) UpdateView(ctx context.Context, database, branch, databaseID, branchID, name, selectSQL string) (*changes.Record, error) {
	sqlText := fmt.Sprintf("CREATE VIEW %s AS %s", name, selectSQL)
	return m.record(ctx, database, branch, databaseID, branchID, catalog.ChangeUpdateView, catalog.EntityView, name, "{}", sqlText)
}
