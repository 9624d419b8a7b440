// Package branch manages a database's named branches: listing, creation
// from a parent, and archival deletion (spec.md §4.8).
package branch

import (
	"context"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/names"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

// Manager implements branch lifecycle operations over a single database.
type Manager struct {
	store     *catalog.Store
	tracker   *changes.Tracker
	tenantMgr *tenant.Manager
	proj      *layout.Project
}

// New returns a Manager wired to the given catalog, change tracker, tenant
// manager, and path layout.
func New(store *catalog.Store, tracker *changes.Tracker, tenantMgr *tenant.Manager, proj *layout.Project) *Manager {
	return &Manager{store: store, tracker: tracker, tenantMgr: tenantMgr, proj: proj}
}

// ListBranches returns every active branch of databaseID.
func (m *Manager) ListBranches(ctx context.Context, databaseID string) ([]*catalog.Branch, error) {
	return m.store.ListBranches(ctx, databaseID)
}

// BranchExists reports whether an active branch named name exists in
// databaseID.
func (m *Manager) BranchExists(ctx context.Context, databaseID, name string) (bool, error) {
	b, err := m.store.GetBranch(ctx, databaseID, name)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// CreateBranch validates name, creates its catalog row against parentName,
// registers its __empty__ and main tenant rows, and copies parentName's
// full change history (including applied state) so the branch starts
// fully caught up with its parent. __empty__ is rebuilt from that history
// and main is materialized from it immediately; user tenants stay lazy.
func (m *Manager) CreateBranch(ctx context.Context, database, databaseID, parentName, name string) (*catalog.Branch, error) {
	if err := names.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	parent, err := m.store.GetBranch(ctx, databaseID, parentName)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, cinchdberr.NotFound("branch", parentName)
	}

	b, err := m.store.CreateBranch(ctx, databaseID, name, parentName)
	if err != nil {
		return nil, err
	}
	if err := m.tenantMgr.CreateSystemTenants(ctx, b.ID); err != nil {
		return nil, err
	}
	if err := m.tracker.CopyBranchChanges(ctx, parent.ID, parent.Name, b.ID, b.Name); err != nil {
		return nil, err
	}
	// __empty__ and main are always materialized (spec.md §3's Tenant
	// invariants), even though user tenants stay lazy until first write.
	if err := m.tenantMgr.EnsureEmptyTenant(ctx, database, name, b.ID); err != nil {
		return nil, err
	}
	if err := m.tenantMgr.MaterializeTenant(ctx, database, name, b.ID, layout.MainTenant); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBranch archives branchID (soft-delete preserving change history),
// hard-deletes its tenant catalog rows, and purges its on-disk directory.
// The main branch cannot be deleted.
func (m *Manager) DeleteBranch(ctx context.Context, database, databaseID, name string) error {
	if name == layout.MainBranch {
		return cinchdberr.ProtectedEntity("the main branch cannot be deleted")
	}

	b, err := m.store.GetBranch(ctx, databaseID, name)
	if err != nil {
		return err
	}
	if b == nil {
		return cinchdberr.NotFound("branch", name)
	}

	if err := m.store.ArchiveBranch(ctx, b.ID); err != nil {
		return err
	}
	return purgeBranchDir(m.proj, database, name)
}
