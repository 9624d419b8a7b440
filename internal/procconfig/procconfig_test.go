package procconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindProjectRootWalksUpDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ProjectDirName), 0o755))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestFindProjectRootErrorsWhenMissing(t *testing.T) {
	_, err := FindProjectRoot(t.TempDir())
	require.Error(t, err)
}

func TestLoadReturnsDefaultsWithoutConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ProjectDirName), 0o755))

	id, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "main", id.Branch)
	require.Equal(t, "main", id.Tenant)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, Save(root, &Identity{Database: "acme", Branch: "feature", Tenant: "customer-1"}))

	id, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "acme", id.Database)
	require.Equal(t, "feature", id.Branch)
	require.Equal(t, "customer-1", id.Tenant)
}

func TestLoadEnvOverridesConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Save(root, &Identity{Database: "acme", Branch: "main", Tenant: "main"}))

	t.Setenv("CINCHDB_BRANCH", "staging")

	id, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, "staging", id.Branch)
	require.Equal(t, "acme", id.Database)
}
