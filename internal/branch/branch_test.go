package branch

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

type testEnv struct {
	mgr        *Manager
	store      *catalog.Store
	tracker    *changes.Tracker
	tenantMgr  *tenant.Manager
	database   string
	databaseID string
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
	tenantMgr := tenant.New(store, tracker, proj, pool)
	mgr := New(store, tracker, tenantMgr, proj)

	ctx := context.Background()
	d, err := store.CreateDatabase(ctx, "acme", "")
	require.NoError(t, err)
	main, err := store.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)
	require.NoError(t, tenantMgr.CreateSystemTenants(ctx, main.ID))
	require.NoError(t, tenantMgr.EnsureEmptyTenant(ctx, "acme", "main", main.ID))

	return &testEnv{mgr: mgr, store: store, tracker: tracker, tenantMgr: tenantMgr, database: "acme", databaseID: d.ID}
}

func TestCreateBranchCopiesParentHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.GetBranch(ctx, env.databaseID, "main")
	require.NoError(t, err)
	r, err := env.tracker.AddChange(ctx, env.databaseID, main.ID, main.Name,
		catalog.ChangeCreateTable, catalog.EntityTable, "widgets", "{}",
		"CREATE TABLE widgets (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, env.tracker.MarkChangeApplied(ctx, main.ID, r.ID))

	feature, err := env.mgr.CreateBranch(ctx, env.database, env.databaseID, "main", "feature")
	require.NoError(t, err)
	require.Equal(t, "main", feature.ParentBranch)

	history, err := env.tracker.GetChanges(ctx, feature.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Applied)

	tenants, err := env.tenantMgr.ListTenants(ctx, feature.ID, true)
	require.NoError(t, err)
	names := make([]string, len(tenants))
	for i, tn := range tenants {
		names[i] = tn.Name
	}
	require.Contains(t, names, layout.MainTenant)
	require.Contains(t, names, layout.EmptyTenant)
}

func TestCreateBranchRejectsUnknownParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateBranch(ctx, env.database, env.databaseID, "does-not-exist", "feature")
	require.Error(t, err)
}

func TestDeleteBranchForbidsMain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.mgr.DeleteBranch(ctx, env.database, env.databaseID, "main")
	require.Error(t, err)
}

func TestDeleteBranchArchivesAndPurgesDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.CreateBranch(ctx, env.database, env.databaseID, "main", "feature")
	require.NoError(t, err)

	require.NoError(t, env.mgr.DeleteBranch(ctx, env.database, env.databaseID, "feature"))

	exists, err := env.mgr.BranchExists(ctx, env.databaseID, "feature")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCreateBranchThenDeleteRemovesDirectoryFromDisk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	feature, err := env.mgr.CreateBranch(ctx, env.database, env.databaseID, "main", "feature")
	require.NoError(t, err)
	require.NotEmpty(t, feature.ID)

	require.NoError(t, env.mgr.DeleteBranch(ctx, env.database, env.databaseID, "feature"))

	_, statErr := os.Stat(env.mgr.proj.BranchDir(env.database, "feature"))
	require.True(t, os.IsNotExist(statErr))
}

func TestBranchExists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exists, err := env.mgr.BranchExists(ctx, env.databaseID, "main")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = env.mgr.BranchExists(ctx, env.databaseID, "nope")
	require.NoError(t, err)
	require.False(t, exists)
}
