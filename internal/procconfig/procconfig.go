// Package procconfig resolves the process-level identity a CinchDB process
// needs to operate: the active database, branch, and tenant names, and an
// optional encryption key (spec.md §6). It layers a project-local
// config.yaml (via viper) under environment variable overrides, the way
// the teacher's internal/config layers config.yaml under CLI flags.
package procconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ProjectDirName is the directory every CinchDB project keeps at its root.
const ProjectDirName = ".cinchdb"

// ConfigFileName is the YAML file holding process identity defaults.
const ConfigFileName = "config.yaml"

// Identity is the resolved active database/branch/tenant plus optional
// encryption key for a process.
type Identity struct {
	Database      string `yaml:"database" mapstructure:"database"`
	Branch        string `yaml:"branch" mapstructure:"branch"`
	Tenant        string `yaml:"tenant" mapstructure:"tenant"`
	EncryptionKey string `yaml:"encryption_key,omitempty" mapstructure:"encryption_key"`
}

// defaultIdentity matches spec.md's "main"/"main" defaults for branch and
// tenant when config.yaml omits them.
func defaultIdentity() Identity {
	return Identity{Branch: "main", Tenant: "main"}
}

// FindProjectRoot walks up from startDir (os.Getwd() if empty) looking for
// a .cinchdb directory, returning the directory that contains it.
func FindProjectRoot(startDir string) (string, error) {
	dir := startDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("procconfig: get working directory: %w", err)
		}
		dir = cwd
	}

	for {
		candidate := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("procconfig: no %s directory found above %q", ProjectDirName, startDir)
		}
		dir = parent
	}
}

// Load resolves process identity for projectRoot: config.yaml defaults,
// overridden by CINCHDB_DATABASE / CINCHDB_BRANCH / CINCHDB_TENANT /
// CINCHDB_ENCRYPTION_KEY environment variables.
func Load(projectRoot string) (*Identity, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectRoot, ProjectDirName))

	v.SetEnvPrefix("cinchdb")
	v.AutomaticEnv()

	id := defaultIdentity()
	v.SetDefault("database", id.Database)
	v.SetDefault("branch", id.Branch)
	v.SetDefault("tenant", id.Tenant)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("procconfig: read config.yaml: %w", err)
		}
	}

	resolved := Identity{
		Database:      v.GetString("database"),
		Branch:        v.GetString("branch"),
		Tenant:        v.GetString("tenant"),
		EncryptionKey: v.GetString("encryption_key"),
	}
	return &resolved, nil
}

// Save writes identity to projectRoot's config.yaml, creating the
// .cinchdb directory if needed.
func Save(projectRoot string, identity *Identity) error {
	dir := filepath.Join(projectRoot, ProjectDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("procconfig: create %s: %w", ProjectDirName, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("database", identity.Database)
	v.Set("branch", identity.Branch)
	v.Set("tenant", identity.Tenant)
	if identity.EncryptionKey != "" {
		v.Set("encryption_key", identity.EncryptionKey)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("procconfig: write %s: %w", ConfigFileName, err)
	}
	return nil
}
