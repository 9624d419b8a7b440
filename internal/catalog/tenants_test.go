package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedBranch(t *testing.T, s *Store, databaseName string) *Branch {
	t.Helper()
	ctx := context.Background()
	d := seedDatabase(t, s, databaseName)
	b, err := s.CreateBranch(ctx, d.ID, "main", "")
	require.NoError(t, err)
	return b
}

func TestCreateAndGetTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")

	tenant, err := s.CreateTenant(ctx, b.ID, "customer-1", "ab")
	require.NoError(t, err)
	require.False(t, tenant.Materialized)

	got, err := s.GetTenant(ctx, b.ID, "customer-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, tenant.ID, got.ID)
}

func TestCreateTenantDuplicateNameRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")

	_, err := s.CreateTenant(ctx, b.ID, "customer-1", "ab")
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, b.ID, "customer-1", "ab")
	require.Error(t, err)
}

func TestListTenantsExcludesEmptyByDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")

	_, err := s.CreateTenant(ctx, b.ID, "__empty__", "aa")
	require.NoError(t, err)
	_, err = s.CreateTenant(ctx, b.ID, "main", "bb")
	require.NoError(t, err)

	visible, err := s.ListTenants(ctx, b.ID, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "main", visible[0].Name)

	all, err := s.ListTenants(ctx, b.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMarkTenantMaterialized(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")
	tenant, err := s.CreateTenant(ctx, b.ID, "main", "bb")
	require.NoError(t, err)

	require.NoError(t, s.MarkTenantMaterialized(ctx, tenant.ID))
	got, err := s.GetTenant(ctx, b.ID, "main")
	require.NoError(t, err)
	require.True(t, got.Materialized)
}

func TestRenameTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")
	_, err := s.CreateTenant(ctx, b.ID, "old-name", "aa")
	require.NoError(t, err)

	require.NoError(t, s.RenameTenant(ctx, b.ID, "old-name", "new-name", "bb"))

	gone, err := s.GetTenant(ctx, b.ID, "old-name")
	require.NoError(t, err)
	require.Nil(t, gone)

	got, err := s.GetTenant(ctx, b.ID, "new-name")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "bb", got.Shard)
}

func TestDeleteTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := seedBranch(t, s, "acme")
	_, err := s.CreateTenant(ctx, b.ID, "main", "bb")
	require.NoError(t, err)

	require.NoError(t, s.DeleteTenant(ctx, b.ID, "main"))

	got, err := s.GetTenant(ctx, b.ID, "main")
	require.NoError(t, err)
	require.Nil(t, got)
}
