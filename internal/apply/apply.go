// Package apply implements the change applier, the component that applies
// one DDL change to every tenant of a branch atomically, with snapshot
// rollback and a maintenance-mode gate (spec.md §4.7).
package apply

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changeexec"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/cinchlog"
	"github.com/cinchdb/cinchdb/internal/layout"
	"github.com/cinchdb/cinchdb/internal/sqlitedb"
	"github.com/cinchdb/cinchdb/internal/tenant"
)

// Engine applies catalog-recorded changes to tenant files.
type Engine struct {
	store     *catalog.Store
	tracker   *changes.Tracker
	tenantMgr *tenant.Manager
	layout    *layout.Project
	pool      *sqlitedb.Pool
	logger    *cinchlog.Logger
}

// New returns an Engine wired to the given catalog, change tracker, tenant
// manager, path layout, connection pool, and logger.
func New(store *catalog.Store, tracker *changes.Tracker, tenantMgr *tenant.Manager,
	proj *layout.Project, pool *sqlitedb.Pool, logger *cinchlog.Logger) *Engine {
	if logger == nil {
		logger = cinchlog.Default("apply")
	}
	return &Engine{store: store, tracker: tracker, tenantMgr: tenantMgr, layout: proj, pool: pool, logger: logger}
}

// ValidateChange checks a change is well-formed enough to apply: its SQL
// must be non-empty, and ADD_COLUMN changes must carry details.table
// (spec.md §4.7).
func ValidateChange(c *catalog.Change) error {
	if c.SQL == "" {
		return fmt.Errorf("apply: change %s has empty sql", c.ID)
	}
	if c.Type == catalog.ChangeAddColumn {
		details, err := changeexec.ParseDetails(c.Details)
		if err != nil {
			return fmt.Errorf("apply: change %s: %w", c.ID, err)
		}
		if details.Table == "" {
			return fmt.Errorf("apply: add_column change %s missing details.table", c.ID)
		}
	}
	return nil
}

// ApplyChange applies changeID to every tenant of branchID, atomically. If
// the change is already applied, it returns immediately.
func (e *Engine) ApplyChange(ctx context.Context, database, branch, branchID, changeID string) error {
	link, err := e.tracker.GetBranchChange(ctx, branchID, changeID)
	if err != nil {
		return err
	}
	if link == nil {
		return cinchdberr.NotFound("change", changeID)
	}
	if link.Applied {
		return nil
	}
	c := &link.Change
	if err := ValidateChange(c); err != nil {
		return err
	}

	// Lazy tenants are materialized up front: every change is DDL, and
	// the apply phase below must open each tenant's own file in order.
	tenants, err := e.store.ListTenants(ctx, branchID, false)
	if err != nil {
		return err
	}
	for _, t := range tenants {
		if !t.Materialized {
			if err := e.tenantMgr.MaterializeTenant(ctx, database, branch, branchID, t.Name); err != nil {
				return fmt.Errorf("apply: materialize tenant %q: %w", t.Name, err)
			}
		}
	}

	if err := snapshotTenants(ctx, e.layout, database, branch, changeID, tenants); err != nil {
		return fmt.Errorf("apply: snapshot phase: %w", err)
	}

	fl, err := e.enterMaintenance(ctx, database, branch, branchID, changeID, "applying change "+changeID)
	if err != nil {
		_ = deleteBackupDir(e.layout, database, branch, changeID)
		return err
	}

	if applyErr := e.applyToTenants(ctx, database, branch, tenants, c); applyErr != nil {
		e.evictTenantConnections(database, branch, tenants)
		restoreTenants(e.layout, database, branch, changeID, tenants, e.logger)
		_ = deleteBackupDir(e.layout, database, branch, changeID)
		_ = e.exitMaintenance(ctx, database, branch, branchID, fl)
		return applyErr
	}

	if err := e.tracker.MarkChangeApplied(ctx, branchID, changeID); err != nil {
		return err
	}
	if err := e.exitMaintenance(ctx, database, branch, branchID, fl); err != nil {
		return err
	}
	if err := e.tenantMgr.EnsureEmptyTenant(ctx, database, branch, branchID); err != nil {
		return err
	}
	return deleteBackupDir(e.layout, database, branch, changeID)
}

// applyToTenants runs c against each tenant in order, stopping at the
// first failure (spec.md §4.7 step 5: "in order over tenants").
func (e *Engine) applyToTenants(ctx context.Context, database, branch string, tenants []*catalog.Tenant, c *catalog.Change) error {
	for _, t := range tenants {
		path := e.layout.TenantPath(database, branch, t.Name)
		db, err := e.pool.Get(path)
		if err != nil {
			return cinchdberr.NewChangeError(c.ID, t.Name, err)
		}
		if err := changeexec.Execute(ctx, db, c); err != nil {
			return cinchdberr.NewChangeError(c.ID, t.Name, err)
		}
	}
	return nil
}

// evictTenantConnections closes and forgets pooled connections for every
// tenant so a subsequent file-level restore isn't shadowed by a stale
// open handle to the pre-restore file.
func (e *Engine) evictTenantConnections(database, branch string, tenants []*catalog.Tenant) {
	for _, t := range tenants {
		_ = e.pool.Evict(e.layout.TenantPath(database, branch, t.Name))
	}
}

// ApplyAllUnapplied applies every unapplied change of branchID in
// applied_order, stopping at the first failure.
func (e *Engine) ApplyAllUnapplied(ctx context.Context, database, branch, branchID string) error {
	unapplied, err := e.tracker.GetUnappliedChanges(ctx, branchID)
	if err != nil {
		return err
	}
	for _, c := range unapplied {
		if err := e.ApplyChange(ctx, database, branch, branchID, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyChangesSince applies branchID's unapplied changes after
// sinceChangeID, in order, stopping at the first failure.
func (e *Engine) ApplyChangesSince(ctx context.Context, database, branch, branchID, sinceChangeID string) error {
	tail, err := e.tracker.GetChangesSince(ctx, branchID, sinceChangeID)
	if err != nil {
		return err
	}
	for _, c := range tail {
		if c.Applied {
			continue
		}
		if err := e.ApplyChange(ctx, database, branch, branchID, c.ID); err != nil {
			return err
		}
	}
	return nil
}
