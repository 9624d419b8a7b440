// Package changes exposes the per-(database,branch) ordered change ledger
// on top of internal/catalog (spec.md §4.5). It is a thin facade: the
// applied_order invariant and the copy-on-branch-create semantics live in
// the catalog's SQL, this package just names the operations the rest of
// CinchDB calls.
package changes

import (
	"context"

	"github.com/cinchdb/cinchdb/internal/catalog"
)

// Tracker records and replays the ordered DDL history of one branch.
type Tracker struct {
	store *catalog.Store
}

// New returns a Tracker backed by store.
func New(store *catalog.Store) *Tracker {
	return &Tracker{store: store}
}

// Record is one entry in a branch's change history together with its
// branch-scoped applied state.
type Record = catalog.BranchChangeView

// AddChange records a new change against databaseID and links it into
// branchID's history at the next dense applied_order, returning the
// linked record.
func (t *Tracker) AddChange(ctx context.Context, databaseID, branchID, branchName string,
	typ catalog.ChangeType, entityType catalog.EntityType, entityName, details, sqlText string) (*Record, error) {
	c, err := t.store.CreateChange(ctx, databaseID, branchID, branchName, typ, entityType, entityName, details, sqlText)
	if err != nil {
		return nil, err
	}
	order, err := t.store.LinkChangeToBranch(ctx, branchID, branchName, c.ID)
	if err != nil {
		return nil, err
	}
	return &Record{Change: *c, Applied: false, AppliedOrder: order}, nil
}

// GetBranchChange returns the single linked record for (branchID,
// changeID), or nil if changeID is not linked to branchID.
func (t *Tracker) GetBranchChange(ctx context.Context, branchID, changeID string) (*Record, error) {
	return t.store.GetBranchChange(ctx, branchID, changeID)
}

// GetChanges returns branchID's full history in applied_order.
func (t *Tracker) GetChanges(ctx context.Context, branchID string) ([]*Record, error) {
	return t.store.GetChanges(ctx, branchID)
}

// GetUnappliedChanges returns branchID's changes still awaiting apply, in
// applied_order. The change applier consumes this list in order.
func (t *Tracker) GetUnappliedChanges(ctx context.Context, branchID string) ([]*Record, error) {
	return t.store.GetUnappliedChanges(ctx, branchID)
}

// GetChangesSince returns branchID's changes ordered after sinceChangeID,
// in applied_order. The change applier's ApplyChangesSince consumes it.
func (t *Tracker) GetChangesSince(ctx context.Context, branchID, sinceChangeID string) ([]*Record, error) {
	return t.store.GetChangesSince(ctx, branchID, sinceChangeID)
}

// MarkChangeApplied flips the applied flag for (branchID, changeID). The
// applier calls this after a change has been committed to every tenant.
func (t *Tracker) MarkChangeApplied(ctx context.Context, branchID, changeID string) error {
	return t.store.MarkChangeApplied(ctx, branchID, changeID, true)
}

// RemoveChange unlinks changeID from branchID without touching any tenant
// file. Best-effort only: it does not undo DDL already applied to tenants
// (spec.md §9 Open Question 2; see DESIGN.md).
func (t *Tracker) RemoveChange(ctx context.Context, branchID, changeID string) error {
	return t.store.RemoveChange(ctx, branchID, changeID)
}

// CopyBranchChanges duplicates sourceBranchID's entire history onto
// targetBranchID, preserving applied_order and the applied flag. Called
// once, at branch-creation time, so a new branch starts with its parent's
// full history, each change applied or unapplied exactly as on the parent
// (spec.md §4.8).
func (t *Tracker) CopyBranchChanges(ctx context.Context, sourceBranchID, sourceBranchName, targetBranchID, targetBranchName string) error {
	return t.store.CopyBranchChanges(ctx, sourceBranchID, sourceBranchName, targetBranchID, targetBranchName)
}
