package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changeexec"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

type testEnv struct {
	mgr        *Manager
	store      *catalog.Store
	tracker    *changes.Tracker
	proj       *layout.Project
	database   string
	databaseID string
	branchID   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	proj := layout.NewProject(root)

	store, err := catalog.Open(proj.MetadataDBPath(), sqlitedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := sqlitedb.NewPool(sqlitedb.Options{})
	t.Cleanup(func() { _ = pool.Close() })

	tracker := changes.New(store)
	mgr := New(store, tracker, proj, pool)

	ctx := context.Background()
	d, err := store.CreateDatabase(ctx, "acme", "")
	require.NoError(t, err)
	b, err := store.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)
	require.NoError(t, mgr.CreateSystemTenants(ctx, b.ID))
	require.NoError(t, mgr.EnsureEmptyTenant(ctx, "acme", "main", b.ID))

	return &testEnv{mgr: mgr, store: store, tracker: tracker, proj: proj, database: "acme", databaseID: d.ID, branchID: b.ID}
}

func TestCreateTenantLazyDoesNotWriteFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tn, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "customer-1", true)
	require.NoError(t, err)
	require.False(t, tn.Materialized)

	path := env.proj.TenantPath(env.database, "main", "customer-1")
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCreateTenantForbidsReservedNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "__empty__", true)
	require.Error(t, err)

	_, err = env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "main", true)
	require.Error(t, err)
}

func TestEnsureEmptyTenantReplaysAppliedChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r, err := env.tracker.AddChange(ctx, env.databaseID, env.branchID, "main",
		catalog.ChangeCreateTable, catalog.EntityTable, "widgets", "{}",
		"CREATE TABLE widgets (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, env.tracker.MarkChangeApplied(ctx, env.branchID, r.ID))

	require.NoError(t, env.mgr.EnsureEmptyTenant(ctx, env.database, "main", env.branchID))

	path := env.proj.EmptyTenantPath(env.database, "main")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestEnsureEmptyTenantReplaysMultiStatementAndViewChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	addApplied := func(typ catalog.ChangeType, entityType catalog.EntityType, entityName, details, sqlText string) {
		r, err := env.tracker.AddChange(ctx, env.databaseID, env.branchID, "main",
			typ, entityType, entityName, details, sqlText)
		require.NoError(t, err)
		require.NoError(t, env.tracker.MarkChangeApplied(ctx, env.branchID, r.ID))
	}

	addApplied(catalog.ChangeCreateTable, catalog.EntityTable, "widgets", "{}",
		"CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT NOT NULL, legacy TEXT)")

	// A DROP_COLUMN-style multi-statement recipe: this is the change form
	// whose bare c.SQL (just "create_temp") would leave a dangling
	// "widgets_temp" table if replayed as a single statement instead of
	// through changeexec's Statements dispatch.
	dropDetails, err := json.Marshal(changeexec.Details{Statements: []changeexec.Statement{
		{Label: "create_temp", SQL: "CREATE TABLE widgets_temp (id TEXT PRIMARY KEY, name TEXT NOT NULL)"},
		{Label: "copy_data", SQL: "INSERT INTO widgets_temp (id, name) SELECT id, name FROM widgets"},
		{Label: "drop_original", SQL: "DROP TABLE widgets"},
		{Label: "rename_temp", SQL: "ALTER TABLE widgets_temp RENAME TO widgets"},
	}})
	require.NoError(t, err)
	addApplied(catalog.ChangeDropColumn, catalog.EntityColumn, "legacy", string(dropDetails),
		"CREATE TABLE widgets_temp (id TEXT PRIMARY KEY, name TEXT NOT NULL)")

	addApplied(catalog.ChangeCreateView, catalog.EntityView, "widget_names", "{}",
		"CREATE VIEW widget_names AS SELECT id, name FROM widgets")

	// A second UPDATE_VIEW change against the same view: its SQL is a bare
	// CREATE VIEW with no DROP VIEW IF EXISTS, so replaying it without the
	// changeexec.Execute's drop-then-create dispatch fails outright on the
	// already-existing view.
	addApplied(catalog.ChangeUpdateView, catalog.EntityView, "widget_names", "{}",
		"CREATE VIEW widget_names AS SELECT id, name, 1 AS active FROM widgets")

	require.NoError(t, env.mgr.EnsureEmptyTenant(ctx, env.database, "main", env.branchID))

	path := env.proj.EmptyTenantPath(env.database, "main")
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	require.NoError(t, err)
	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	require.Contains(t, tables, "widgets")
	require.NotContains(t, tables, "widgets_temp")

	viewCols, err := db.QueryContext(ctx, "PRAGMA table_info(widget_names)")
	require.NoError(t, err)
	var colNames []string
	for viewCols.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		require.NoError(t, viewCols.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk))
		colNames = append(colNames, name)
	}
	require.NoError(t, viewCols.Err())
	require.Contains(t, colNames, "active")
}

func TestMaterializeTenantCopiesEmptyTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r, err := env.tracker.AddChange(ctx, env.databaseID, env.branchID, "main",
		catalog.ChangeCreateTable, catalog.EntityTable, "widgets", "{}",
		"CREATE TABLE widgets (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, env.tracker.MarkChangeApplied(ctx, env.branchID, r.ID))
	require.NoError(t, env.mgr.EnsureEmptyTenant(ctx, env.database, "main", env.branchID))

	_, err = env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "customer-1", true)
	require.NoError(t, err)

	require.NoError(t, env.mgr.MaterializeTenant(ctx, env.database, "main", env.branchID, "customer-1"))

	lazy, err := env.mgr.IsTenantLazy(ctx, env.branchID, "customer-1")
	require.NoError(t, err)
	require.False(t, lazy)

	srcInfo, err := os.Stat(env.proj.EmptyTenantPath(env.database, "main"))
	require.NoError(t, err)
	dstInfo, err := os.Stat(env.proj.TenantPath(env.database, "main", "customer-1"))
	require.NoError(t, err)
	require.Equal(t, srcInfo.Size(), dstInfo.Size())
}

func TestGetTenantDBPathForOperationReadThroughEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "customer-1", true)
	require.NoError(t, err)

	readPath, err := env.mgr.GetTenantDBPathForOperation(ctx, env.database, "main", env.branchID, "customer-1", false)
	require.NoError(t, err)
	require.Equal(t, env.proj.EmptyTenantPath(env.database, "main"), readPath)

	writePath, err := env.mgr.GetTenantDBPathForOperation(ctx, env.database, "main", env.branchID, "customer-1", true)
	require.NoError(t, err)
	require.Equal(t, env.proj.TenantPath(env.database, "main", "customer-1"), writePath)

	lazy, err := env.mgr.IsTenantLazy(ctx, env.branchID, "customer-1")
	require.NoError(t, err)
	require.False(t, lazy)
}

func TestDeleteTenantForbidsReservedNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.Error(t, env.mgr.DeleteTenant(ctx, env.database, "main", env.branchID, "main"))
	require.Error(t, env.mgr.DeleteTenant(ctx, env.database, "main", env.branchID, "__empty__"))
}

func TestRenameTenantMovesMaterializedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "old-name", false)
	require.NoError(t, err)

	require.NoError(t, env.mgr.RenameTenant(ctx, env.database, "main", env.branchID, "old-name", "new-name"))

	_, err = os.Stat(env.proj.TenantPath(env.database, "main", "old-name"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(env.proj.TenantPath(env.database, "main", "new-name"))
	require.NoError(t, err)
}

func TestCopyTenantLazySourceProducesLazyTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "source", true)
	require.NoError(t, err)

	target, err := env.mgr.CopyTenant(ctx, env.database, "main", env.branchID, "source", "target")
	require.NoError(t, err)
	require.False(t, target.Materialized)
}

func TestGetAllTenantSizesIncludesEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateTenant(ctx, env.database, "main", env.branchID, "customer-1", false)
	require.NoError(t, err)

	sizes, err := env.mgr.GetAllTenantSizes(ctx, env.database, "main", env.branchID)
	require.NoError(t, err)
	require.Contains(t, sizes, "customer-1")
	require.Contains(t, sizes, "__empty__")
	require.Contains(t, sizes, "main")
}

func TestTenantPathsAreShardedConsistently(t *testing.T) {
	env := newTestEnv(t)
	path := env.proj.TenantPath(env.database, "main", "customer-1")
	require.Contains(t, filepath.ToSlash(path), layout.ShardOf("customer-1"))
}
