package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedDatabase(t *testing.T, s *Store, name string) *Database {
	t.Helper()
	d, err := s.CreateDatabase(context.Background(), name, "")
	require.NoError(t, err)
	return d
}

func TestCreateAndGetBranch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")

	main, err := s.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)
	require.Empty(t, main.ParentBranch)

	feature, err := s.CreateBranch(ctx, d.ID, "feature", "main")
	require.NoError(t, err)
	require.Equal(t, "main", feature.ParentBranch)

	got, err := s.GetBranch(ctx, d.ID, "feature")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, feature.ID, got.ID)
}

func TestGetBranchExcludesArchived(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")
	b, err := s.CreateBranch(ctx, d.ID, "feature", "main")
	require.NoError(t, err)

	require.NoError(t, s.ArchiveBranch(ctx, b.ID))

	got, err := s.GetBranch(ctx, d.ID, "feature")
	require.NoError(t, err)
	require.Nil(t, got)

	byID, err := s.GetBranchByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.NotNil(t, byID.ArchivedAt)
}

func TestArchiveBranchNameIsReusable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")

	first, err := s.CreateBranch(ctx, d.ID, "feature", "main")
	require.NoError(t, err)
	require.NoError(t, s.ArchiveBranch(ctx, first.ID))

	second, err := s.CreateBranch(ctx, d.ID, "feature", "main")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestArchiveBranchDeletesItsTenants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")
	b, err := s.CreateBranch(ctx, d.ID, "feature", "main")
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, b.ID, "__empty__", "aa")
	require.NoError(t, err)

	require.NoError(t, s.ArchiveBranch(ctx, b.ID))

	tenants, err := s.ListTenants(ctx, b.ID, true)
	require.NoError(t, err)
	require.Empty(t, tenants)
}

func TestListBranchesOrderedByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")

	for _, name := range []string{"zeta", "alpha", "main"} {
		_, err := s.CreateBranch(ctx, d.ID, name, "main")
		require.NoError(t, err)
	}

	got, err := s.ListBranches(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"alpha", "main", "zeta"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

func TestSetBranchMaintenanceMode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := seedDatabase(t, s, "acme")
	b, err := s.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)

	require.NoError(t, s.SetBranchMaintenanceMode(ctx, b.ID, true, "apply in progress"))
	got, err := s.GetBranchByID(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.MaintenanceMode)
	require.Equal(t, "apply in progress", got.MaintenanceReason)
}
