package compare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

type testEnv struct {
	cmp        *Comparator
	tracker    *changes.Tracker
	store      *catalog.Store
	databaseID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	proj := layout.NewProject(t.TempDir())
	store, err := catalog.Open(proj.MetadataDBPath(), sqlitedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tracker := changes.New(store)
	d, err := store.CreateDatabase(context.Background(), "acme", "")
	require.NoError(t, err)

	return &testEnv{cmp: New(tracker), tracker: tracker, store: store, databaseID: d.ID}
}

func (e *testEnv) addChange(t *testing.T, branchID, branchName, entity string) *changes.Record {
	t.Helper()
	r, err := e.tracker.AddChange(context.Background(), e.databaseID, branchID, branchName,
		catalog.ChangeCreateTable, catalog.EntityTable, entity, "{}", "CREATE TABLE "+entity+" (id TEXT)")
	require.NoError(t, err)
	return r
}

func TestGetDivergentChangesAndCommonAncestor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.CreateBranch(ctx, env.databaseID, "main", "")
	require.NoError(t, err)
	shared := env.addChange(t, main.ID, main.Name, "widgets")

	feature, err := env.store.CreateBranch(ctx, env.databaseID, "feature", "main")
	require.NoError(t, err)
	require.NoError(t, env.tracker.CopyBranchChanges(ctx, main.ID, main.Name, feature.ID, feature.Name))

	featureOnly := env.addChange(t, feature.ID, feature.Name, "gadgets")
	mainOnly := env.addChange(t, main.ID, main.Name, "gizmos")

	sourceOnly, targetOnly, err := env.cmp.GetDivergentChanges(ctx, feature.ID, main.ID)
	require.NoError(t, err)
	require.Len(t, sourceOnly, 1)
	require.Equal(t, featureOnly.ID, sourceOnly[0].ID)
	require.Len(t, targetOnly, 1)
	require.Equal(t, mainOnly.ID, targetOnly[0].ID)

	ancestor, err := env.cmp.FindCommonAncestor(ctx, feature.ID, main.ID)
	require.NoError(t, err)
	require.Equal(t, shared.ID, ancestor)
}

func TestCanFastForwardMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.CreateBranch(ctx, env.databaseID, "main", "")
	require.NoError(t, err)
	env.addChange(t, main.ID, main.Name, "widgets")

	feature, err := env.store.CreateBranch(ctx, env.databaseID, "feature", "main")
	require.NoError(t, err)
	require.NoError(t, env.tracker.CopyBranchChanges(ctx, main.ID, main.Name, feature.ID, feature.Name))
	env.addChange(t, feature.ID, feature.Name, "gadgets")

	canFF, err := env.cmp.CanFastForwardMerge(ctx, feature.ID, main.ID)
	require.NoError(t, err)
	require.True(t, canFF)

	env.addChange(t, main.ID, main.Name, "gizmos")
	canFF, err = env.cmp.CanFastForwardMerge(ctx, feature.ID, main.ID)
	require.NoError(t, err)
	require.False(t, canFF)
}

func TestDetectConflictsFlagsSameEntity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.CreateBranch(ctx, env.databaseID, "main", "")
	require.NoError(t, err)
	feature, err := env.store.CreateBranch(ctx, env.databaseID, "feature", "main")
	require.NoError(t, err)

	sourceChange := env.addChange(t, feature.ID, feature.Name, "widgets")
	targetChange := env.addChange(t, main.ID, main.Name, "widgets")

	conflicts := DetectConflicts([]*changes.Record{sourceChange}, []*changes.Record{targetChange})
	require.Len(t, conflicts, 1)
	require.Contains(t, conflicts[0], "widgets")
}

func TestDetectConflictsIgnoresDistinctEntities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.CreateBranch(ctx, env.databaseID, "main", "")
	require.NoError(t, err)
	feature, err := env.store.CreateBranch(ctx, env.databaseID, "feature", "main")
	require.NoError(t, err)

	sourceChange := env.addChange(t, feature.ID, feature.Name, "widgets")
	targetChange := env.addChange(t, main.ID, main.Name, "gadgets")

	conflicts := DetectConflicts([]*changes.Record{sourceChange}, []*changes.Record{targetChange})
	require.Empty(t, conflicts)
}

func TestGetMergeOrderSortsByAppliedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	main, err := env.store.CreateBranch(ctx, env.databaseID, "main", "")
	require.NoError(t, err)
	a := env.addChange(t, main.ID, main.Name, "a")
	b := env.addChange(t, main.ID, main.Name, "b")
	c := env.addChange(t, main.ID, main.Name, "c")

	history, err := env.tracker.GetChanges(ctx, main.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	shuffled := []*changes.Record{history[2], history[0], history[1]}
	ordered := GetMergeOrder(shuffled)
	require.Equal(t, []string{a.ID, b.ID, c.ID}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}
