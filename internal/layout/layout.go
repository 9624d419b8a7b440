// Package layout resolves CinchDB's on-disk project structure and the
// hash-sharded tenant file paths described in spec.md §4.1 and §6:
//
//	<project>/.cinchdb/
//	  metadata.db
//	  <database>-<branch>/metadata.json
//	  <database>-<branch>/changes.json
//	  <database>-<branch>/.maintenance_mode
//	  <database>-<branch>/.change_backups/<change_id>/<tenant>.db[-wal|-shm]
//	  <database>-<branch>/<shard>/<tenant>.db
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmptyTenant is the name of the hidden per-branch template tenant.
const EmptyTenant = "__empty__"

// MainTenant and MainBranch are the protected, always-materialized names.
const (
	MainTenant = "main"
	MainBranch = "main"
)

const pathCacheCapacity = 10000

// Project resolves paths rooted at a CinchDB project directory.
type Project struct {
	Root  string // the directory containing .cinchdb/
	cache *lru.Cache[string, string]
}

// NewProject creates a Project rooted at root. root should be the
// directory that contains (or will contain) .cinchdb/, not .cinchdb
// itself.
func NewProject(root string) *Project {
	cache, err := lru.New[string, string](pathCacheCapacity)
	if err != nil {
		// lru.New only fails for non-positive size, which pathCacheCapacity
		// never is; a panic here would indicate a programming error.
		panic(fmt.Sprintf("layout: failed to create path cache: %v", err))
	}
	return &Project{Root: root, cache: cache}
}

// CinchDir returns <root>/.cinchdb.
func (p *Project) CinchDir() string {
	return filepath.Join(p.Root, ".cinchdb")
}

// MetadataDBPath returns the path to the catalog database.
func (p *Project) MetadataDBPath() string {
	return filepath.Join(p.CinchDir(), "metadata.db")
}

// BranchDir returns <root>/.cinchdb/<database>-<branch>.
func (p *Project) BranchDir(database, branch string) string {
	return filepath.Join(p.CinchDir(), database+"-"+branch)
}

// BranchMetadataPath returns the path to a branch's metadata.json.
func (p *Project) BranchMetadataPath(database, branch string) string {
	return filepath.Join(p.BranchDir(database, branch), "metadata.json")
}

// BranchChangesLogPath returns the path to a branch's legacy changes.json.
// The catalog is authoritative; this file is cosmetic (spec.md §9).
func (p *Project) BranchChangesLogPath(database, branch string) string {
	return filepath.Join(p.BranchDir(database, branch), "changes.json")
}

// MaintenanceSentinelPath returns the path to a branch's maintenance-mode
// marker file.
func (p *Project) MaintenanceSentinelPath(database, branch string) string {
	return filepath.Join(p.BranchDir(database, branch), ".maintenance_mode")
}

// ChangeBackupDir returns the per-change snapshot directory for a branch.
func (p *Project) ChangeBackupDir(database, branch, changeID string) string {
	return filepath.Join(p.BranchDir(database, branch), ".change_backups", changeID)
}

// ShardOf returns the 2-hex-character shard bucket for a tenant name, per
// spec.md §4.1: hex(sha256(utf8(tenant_name)))[0:2].
func ShardOf(tenantName string) string {
	sum := sha256.Sum256([]byte(tenantName))
	return hex.EncodeToString(sum[:1])
}

// TenantPath returns the on-disk path of a tenant's SQLite file, using
// (and populating) the bounded path cache.
func (p *Project) TenantPath(database, branch, tenant string) string {
	key := database + "\x00" + branch + "\x00" + tenant
	if cached, ok := p.cache.Get(key); ok {
		return cached
	}
	shard := ShardOf(tenant)
	path := filepath.Join(p.BranchDir(database, branch), shard, tenant+".db")
	p.cache.Add(key, path)
	return path
}

// InvalidateTenant drops the cached path for a tenant, e.g. after a
// rename or delete.
func (p *Project) InvalidateTenant(database, branch, tenant string) {
	key := database + "\x00" + branch + "\x00" + tenant
	p.cache.Remove(key)
}

// EmptyTenantPath returns the path of a branch's __empty__ template file.
func (p *Project) EmptyTenantPath(database, branch string) string {
	return p.TenantPath(database, branch, EmptyTenant)
}
