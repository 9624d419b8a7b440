// Package tenant manages per-branch tenant lifecycle: lazy creation,
// materialization from the branch's __empty__ template, rename, copy,
// and deletion (spec.md §4.6).
package tenant

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changeexec"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/names"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
)

// Manager implements the tenant lifecycle operations of spec.md §4.6.
type Manager struct {
	store   *catalog.Store
	tracker *changes.Tracker
	layout  *layout.Project
	pool    *sqlitedb.Pool
}

// New returns a Manager wired to the given catalog, change tracker, path
// layout, and connection pool.
func New(store *catalog.Store, tracker *changes.Tracker, proj *layout.Project, pool *sqlitedb.Pool) *Manager {
	return &Manager{store: store, tracker: tracker, layout: proj, pool: pool}
}

// ListTenants returns branchID's tenants ordered by name. __empty__ is
// omitted unless includeSystem is true.
func (m *Manager) ListTenants(ctx context.Context, branchID string, includeSystem bool) ([]*catalog.Tenant, error) {
	return m.store.ListTenants(ctx, branchID, includeSystem)
}

func forbidReservedTenant(name string) error {
	if name == layout.MainTenant {
		return cinchdberr.ProtectedEntity("the main tenant cannot be created, renamed, or deleted directly")
	}
	if name == layout.EmptyTenant {
		return cinchdberr.ProtectedEntity("__empty__ is a reserved system tenant")
	}
	return nil
}

// CreateTenant validates name, inserts its catalog row, and materializes
// it immediately unless lazy is true.
func (m *Manager) CreateTenant(ctx context.Context, database, branch, branchID, name string, lazy bool) (*catalog.Tenant, error) {
	if err := forbidReservedTenant(name); err != nil {
		return nil, err
	}
	if err := names.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	shard := layout.ShardOf(name)
	t, err := m.store.CreateTenant(ctx, branchID, name, shard)
	if err != nil {
		return nil, err
	}
	if !lazy {
		if err := m.MaterializeTenant(ctx, database, branch, branchID, name); err != nil {
			return nil, err
		}
		t.Materialized = true
	}
	return t, nil
}

// createSystemTenant registers main or __empty__ without the reserved-name
// check CreateTenant applies to user tenants. Used by the branch manager
// when it stands up a new branch.
func (m *Manager) createSystemTenant(ctx context.Context, branchID, name string) (*catalog.Tenant, error) {
	return m.store.CreateTenant(ctx, branchID, name, layout.ShardOf(name))
}

// CreateSystemTenants registers the main and __empty__ tenant rows for a
// freshly created branch (spec.md §4.8).
func (m *Manager) CreateSystemTenants(ctx context.Context, branchID string) error {
	if _, err := m.createSystemTenant(ctx, branchID, layout.EmptyTenant); err != nil {
		return err
	}
	if _, err := m.createSystemTenant(ctx, branchID, layout.MainTenant); err != nil {
		return err
	}
	return nil
}

// MaterializeTenant copies the branch's __empty__ file onto the tenant's
// shard path and marks it materialized. Idempotent: a tenant that is
// already materialized is left untouched.
func (m *Manager) MaterializeTenant(ctx context.Context, database, branch, branchID, name string) error {
	t, err := m.store.GetTenant(ctx, branchID, name)
	if err != nil {
		return err
	}
	if t == nil {
		return cinchdberr.NotFound("tenant", name)
	}
	if t.Materialized {
		return nil
	}

	src := m.layout.EmptyTenantPath(database, branch)
	dst := m.layout.TenantPath(database, branch, name)
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := m.store.MarkTenantMaterialized(ctx, t.ID); err != nil {
		return err
	}
	return nil
}

// EnsureEmptyTenant rebuilds the branch's __empty__ file by replaying its
// full applied change history against a fresh SQLite file (spec.md §4.6).
// Call before any lazy read and after every successfully committed change.
//
// Each change is replayed through changeexec.Execute, the same execution-
// form dispatch the change applier runs for every materialized tenant
// (single statement, multi-statement recipe, table copy, or view replace).
// Replaying only a change's bare SQL would, for example, leave a dangling
// "<table>_temp" table behind for a DROP COLUMN change (whose SQL is just
// the recipe's first statement) or fail outright on a second UPDATE_VIEW
// replay (whose SQL has no DROP VIEW IF EXISTS) — __empty__ has to see the
// exact same statements every other tenant saw.
func (m *Manager) EnsureEmptyTenant(ctx context.Context, database, branch, branchID string) error {
	path := m.layout.EmptyTenantPath(database, branch)

	if err := m.pool.Evict(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}

	db, err := m.pool.Get(path)
	if err != nil {
		return err
	}

	history, err := m.tracker.GetChanges(ctx, branchID)
	if err != nil {
		return err
	}
	for _, c := range history {
		if !c.Applied {
			continue
		}
		if err := changeexec.Execute(ctx, db, &c.Change); err != nil {
			return cinchdberr.NewChangeError(c.ID, layout.EmptyTenant, err)
		}
	}
	// Auto-checkpoint is off, so move the replayed schema out of the WAL
	// into the main file, which is all MaterializeTenant copies.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}

	t, err := m.store.GetTenant(ctx, branchID, layout.EmptyTenant)
	if err != nil {
		return err
	}
	if t == nil {
		if _, err := m.createSystemTenant(ctx, branchID, layout.EmptyTenant); err != nil {
			return err
		}
		t, err = m.store.GetTenant(ctx, branchID, layout.EmptyTenant)
		if err != nil {
			return err
		}
	}
	return m.store.MarkTenantMaterialized(ctx, t.ID)
}

// DeleteTenant removes a tenant's catalog row and, if materialized, its
// on-disk file. main and __empty__ cannot be deleted.
func (m *Manager) DeleteTenant(ctx context.Context, database, branch, branchID, name string) error {
	if err := forbidReservedTenant(name); err != nil {
		return err
	}

	path := m.layout.TenantPath(database, branch, name)
	if err := m.pool.Evict(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	m.layout.InvalidateTenant(database, branch, name)

	return m.store.DeleteTenant(ctx, branchID, name)
}

// RenameTenant moves a tenant's file (if materialized) to its new shard
// path and updates the catalog row. main cannot be renamed.
func (m *Manager) RenameTenant(ctx context.Context, database, branch, branchID, oldName, newName string) error {
	if oldName == layout.MainTenant || oldName == layout.EmptyTenant {
		return cinchdberr.ProtectedEntity("main and __empty__ cannot be renamed")
	}
	if err := names.ValidateIdentifier(newName); err != nil {
		return err
	}

	t, err := m.store.GetTenant(ctx, branchID, oldName)
	if err != nil {
		return err
	}
	if t == nil {
		return cinchdberr.NotFound("tenant", oldName)
	}

	newShard := layout.ShardOf(newName)
	if t.Materialized {
		oldPath := m.layout.TenantPath(database, branch, oldName)
		newPath := m.layout.TenantPath(database, branch, newName)
		if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return err
		}
		if err := m.pool.Evict(oldPath); err != nil {
			return err
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return err
		}
	}
	m.layout.InvalidateTenant(database, branch, oldName)
	m.layout.InvalidateTenant(database, branch, newName)

	return m.store.RenameTenant(ctx, branchID, oldName, newName, newShard)
}

// CopyTenant creates a new tenant named targetName with sourceName's data.
// If sourceName is lazy, the copy is created lazy too (both then read
// through the same __empty__ template until one materializes).
func (m *Manager) CopyTenant(ctx context.Context, database, branch, branchID, sourceName, targetName string) (*catalog.Tenant, error) {
	if err := names.ValidateIdentifier(targetName); err != nil {
		return nil, err
	}
	src, err := m.store.GetTenant(ctx, branchID, sourceName)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, cinchdberr.NotFound("tenant", sourceName)
	}

	target, err := m.store.CreateTenant(ctx, branchID, targetName, layout.ShardOf(targetName))
	if err != nil {
		return nil, err
	}
	if src.Materialized {
		srcPath := m.layout.TenantPath(database, branch, sourceName)
		dstPath := m.layout.TenantPath(database, branch, targetName)
		if err := copyFile(srcPath, dstPath); err != nil {
			return nil, err
		}
		if err := m.store.MarkTenantMaterialized(ctx, target.ID); err != nil {
			return nil, err
		}
		target.Materialized = true
	}
	return target, nil
}

// IsTenantLazy reports whether name has not yet been materialized.
func (m *Manager) IsTenantLazy(ctx context.Context, branchID, name string) (bool, error) {
	t, err := m.store.GetTenant(ctx, branchID, name)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, cinchdberr.NotFound("tenant", name)
	}
	return !t.Materialized, nil
}

// GetTenantDBPathForOperation returns the SQLite file path a caller should
// open for name: for writes, the tenant is materialized first and its own
// path returned; for reads of a lazy tenant, the branch's __empty__ path
// is returned instead (spec.md §4.6 read-through rule).
func (m *Manager) GetTenantDBPathForOperation(ctx context.Context, database, branch, branchID, name string, isWrite bool) (string, error) {
	t, err := m.store.GetTenant(ctx, branchID, name)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", cinchdberr.NotFound("tenant", name)
	}

	if isWrite {
		if !t.Materialized {
			if err := m.MaterializeTenant(ctx, database, branch, branchID, name); err != nil {
				return "", err
			}
		}
		return m.layout.TenantPath(database, branch, name), nil
	}

	if !t.Materialized {
		return m.layout.EmptyTenantPath(database, branch), nil
	}
	return m.layout.TenantPath(database, branch, name), nil
}

// GetTenantSize returns the size in bytes of a tenant's main database
// file, or 0 if the tenant is still lazy (no file on disk).
func (m *Manager) GetTenantSize(database, branch, name string) (int64, error) {
	path := m.layout.TenantPath(database, branch, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// GetAllTenantSizes returns a name->size map for every tenant of branchID,
// including __empty__.
func (m *Manager) GetAllTenantSizes(ctx context.Context, database, branch, branchID string) (map[string]int64, error) {
	tenants, err := m.store.ListTenants(ctx, branchID, true)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(tenants))
	for _, t := range tenants {
		size, err := m.GetTenantSize(database, branch, t.Name)
		if err != nil {
			return nil, err
		}
		sizes[t.Name] = size
	}
	return sizes, nil
}

// VacuumTenant runs SQLite's VACUUM against a materialized tenant's file.
func (m *Manager) VacuumTenant(ctx context.Context, database, branch, name string) error {
	path := m.layout.TenantPath(database, branch, name)
	db, err := m.pool.Get(path)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "VACUUM")
	return err
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
