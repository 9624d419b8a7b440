package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.db")
	s, err := Open(path, sqlitedb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetDatabase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDatabase(ctx, "acme", "primary tenant database")
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)
	require.False(t, d.Materialized)

	got, err := s.GetDatabase(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, d.ID, got.ID)
	require.Equal(t, "primary tenant database", got.Description)
}

func TestGetDatabaseMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetDatabase(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateDatabaseDuplicateNameRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateDatabase(ctx, "acme", "")
	require.NoError(t, err)

	_, err = s.CreateDatabase(ctx, "acme", "")
	require.Error(t, err)
}

func TestListDatabasesMaterializedOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateDatabase(ctx, "a", "")
	require.NoError(t, err)
	_, err = s.CreateDatabase(ctx, "b", "")
	require.NoError(t, err)
	require.NoError(t, s.MarkDatabaseMaterialized(ctx, a.Name))

	all, err := s.ListDatabases(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	materialized, err := s.ListDatabases(ctx, true)
	require.NoError(t, err)
	require.Len(t, materialized, 1)
	require.Equal(t, "a", materialized[0].Name)
}

func TestSetDatabaseMaintenanceMode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateDatabase(ctx, "acme", "")
	require.NoError(t, err)

	require.NoError(t, s.SetDatabaseMaintenanceMode(ctx, "acme", true, "applying change"))
	got, err := s.GetDatabase(ctx, "acme")
	require.NoError(t, err)
	require.True(t, got.MaintenanceMode)
	require.Equal(t, "applying change", got.MaintenanceReason)
	require.NotNil(t, got.MaintenanceStartedAt)

	require.NoError(t, s.SetDatabaseMaintenanceMode(ctx, "acme", false, ""))
	got, err = s.GetDatabase(ctx, "acme")
	require.NoError(t, err)
	require.False(t, got.MaintenanceMode)
}

func TestDeleteDatabaseCascadesBranchesAndTenants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDatabase(ctx, "acme", "")
	require.NoError(t, err)
	b, err := s.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, b.ID, "main", "ab")
	require.NoError(t, err)

	require.NoError(t, s.DeleteDatabase(ctx, "acme"))

	gotBranch, err := s.GetBranchByID(ctx, b.ID)
	require.NoError(t, err)
	require.Nil(t, gotBranch)

	tenants, err := s.ListTenants(ctx, b.ID, true)
	require.NoError(t, err)
	require.Empty(t, tenants)
}
