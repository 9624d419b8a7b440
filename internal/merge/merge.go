// Package merge implements the merge engine: given two branches, it decides
// whether one can be merged into the other, previews what would move, and
// (absent a dry run) applies the source-only changes to the target
// (spec.md §4.10).
package merge

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/apply"
	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
	"github.com/cinchdb/cinchdb/internal/cinchdberr"
	"github.com/cinchdb/cinchdb/internal/compare"
	"github.com/cinchdb/cinchdb/internal/layout"
)

// Type describes how a merge would be carried out.
type Type string

const (
	FastForward Type = "fast_forward"
	ThreeWay    Type = "three_way"
)

// Engine decides mergeability and carries out merges between branches of
// one database.
type Engine struct {
	store   *catalog.Store
	tracker *changes.Tracker
	cmp     *compare.Comparator
	applier *apply.Engine
}

// New returns an Engine wired to the given catalog, change tracker,
// comparator, and change applier.
func New(store *catalog.Store, tracker *changes.Tracker, cmp *compare.Comparator, applier *apply.Engine) *Engine {
	return &Engine{store: store, tracker: tracker, cmp: cmp, applier: applier}
}

// CanMergeResult reports whether a merge is possible and, if not, why.
type CanMergeResult struct {
	CanMerge       bool
	Reason         string
	MergeType      Type
	Conflicts      []string
	ChangesToMerge []*changes.Record
	TargetChanges  []*changes.Record
	CommonAncestor string
}

// CanMerge validates a prospective merge of source into target, without
// changing anything.
func (e *Engine) CanMerge(ctx context.Context, databaseID, sourceName, targetName string) (*CanMergeResult, error) {
	source, target, err := e.lookupBranches(ctx, databaseID, sourceName, targetName)
	if err != nil {
		return nil, err
	}

	sourceOnly, targetOnly, err := e.cmp.GetDivergentChanges(ctx, source.ID, target.ID)
	if err != nil {
		return nil, err
	}
	if len(sourceOnly) == 0 {
		return &CanMergeResult{CanMerge: false, Reason: fmt.Sprintf("branch %q has no changes not already in %q", sourceName, targetName)}, nil
	}

	ancestor, err := e.cmp.FindCommonAncestor(ctx, source.ID, target.ID)
	if err != nil {
		return nil, err
	}

	if len(targetOnly) == 0 {
		return &CanMergeResult{
			CanMerge:       true,
			MergeType:      FastForward,
			ChangesToMerge: compare.GetMergeOrder(sourceOnly),
			TargetChanges:  targetOnly,
			CommonAncestor: ancestor,
		}, nil
	}

	conflicts := compare.DetectConflicts(sourceOnly, targetOnly)
	if len(conflicts) > 0 {
		return &CanMergeResult{
			CanMerge:       false,
			Reason:         "conflicting changes between branches",
			MergeType:      ThreeWay,
			Conflicts:      conflicts,
			ChangesToMerge: compare.GetMergeOrder(sourceOnly),
			TargetChanges:  targetOnly,
			CommonAncestor: ancestor,
		}, nil
	}

	return &CanMergeResult{
		CanMerge:       true,
		MergeType:      ThreeWay,
		ChangesToMerge: compare.GetMergeOrder(sourceOnly),
		TargetChanges:  targetOnly,
		CommonAncestor: ancestor,
	}, nil
}

// PreviewEntry is one source-only change annotated for a merge preview.
type PreviewEntry struct {
	ChangeID   string
	Type       catalog.ChangeType
	EntityType catalog.EntityType
	EntityName string
	Step       int
}

// Preview describes what a merge of source into target would do, without
// doing it.
type Preview struct {
	MergeType        Type
	CommonAncestor   string
	Entries          []PreviewEntry
	TargetHasChanges bool
}

// GetMergePreview returns the ordered, human-labeled list of changes a
// merge of source into target would apply.
func (e *Engine) GetMergePreview(ctx context.Context, databaseID, sourceName, targetName string) (*Preview, error) {
	result, err := e.CanMerge(ctx, databaseID, sourceName, targetName)
	if err != nil {
		return nil, err
	}
	entries := make([]PreviewEntry, len(result.ChangesToMerge))
	for i, c := range result.ChangesToMerge {
		entries[i] = PreviewEntry{
			ChangeID:   c.ID,
			Type:       c.Type,
			EntityType: c.EntityType,
			EntityName: c.EntityName,
			Step:       i + 1,
		}
	}
	return &Preview{
		MergeType:        result.MergeType,
		CommonAncestor:   result.CommonAncestor,
		Entries:          entries,
		TargetHasChanges: len(result.TargetChanges) > 0,
	}, nil
}

// DryRunStep is one statement that a non-dry-run merge would execute.
type DryRunStep struct {
	ChangeID   string
	EntityType catalog.EntityType
	EntityName string
	SQL        string
	Step       int
}

// MergeBranches merges source into target. If !force and the merge is not
// clean, it fails with a MergeError carrying the conflict reasons. If
// dryRun, it returns the ordered SQL preview without writing anything.
// The main branch can never be a merge target.
func (e *Engine) MergeBranches(ctx context.Context, database, databaseID, sourceName, targetName string, force, dryRun bool) ([]DryRunStep, error) {
	if targetName == layout.MainBranch {
		return nil, cinchdberr.NewMergeError("the main branch is protected; use MergeIntoMain instead", nil)
	}
	return e.merge(ctx, database, databaseID, sourceName, targetName, force, dryRun)
}

// MergeIntoMain merges source into the main branch. source must already be
// up to date with main — main's own history must be a prefix of source's —
// before a merge into main is allowed; otherwise it fails with a
// MergeError asking the caller to catch up first.
func (e *Engine) MergeIntoMain(ctx context.Context, database, databaseID, sourceName string, force, dryRun bool) ([]DryRunStep, error) {
	source, main, err := e.lookupBranches(ctx, databaseID, sourceName, layout.MainBranch)
	if err != nil {
		return nil, err
	}
	upToDate, err := e.cmp.CanFastForwardMerge(ctx, source.ID, main.ID)
	if err != nil {
		return nil, err
	}
	if !upToDate && !force {
		return nil, cinchdberr.NewMergeError(fmt.Sprintf("%q is not up to date with main", sourceName), nil)
	}
	return e.merge(ctx, database, databaseID, sourceName, layout.MainBranch, force, dryRun)
}

func (e *Engine) merge(ctx context.Context, database, databaseID, sourceName, targetName string, force, dryRun bool) ([]DryRunStep, error) {
	result, err := e.CanMerge(ctx, databaseID, sourceName, targetName)
	if err != nil {
		return nil, err
	}
	if !result.CanMerge && !force {
		return nil, cinchdberr.NewMergeError(result.Reason, result.Conflicts)
	}

	if dryRun {
		steps := make([]DryRunStep, len(result.ChangesToMerge))
		for i, c := range result.ChangesToMerge {
			steps[i] = DryRunStep{ChangeID: c.ID, EntityType: c.EntityType, EntityName: c.EntityName, SQL: c.SQL, Step: i + 1}
		}
		return steps, nil
	}

	target, err := e.store.GetBranch(ctx, databaseID, targetName)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, cinchdberr.NotFound("branch", targetName)
	}

	var linked []string
	for _, c := range result.ChangesToMerge {
		if _, err := e.store.LinkChangeToBranch(ctx, target.ID, target.Name, c.ID); err != nil {
			e.rollbackLinks(ctx, target.ID, linked)
			return nil, fmt.Errorf("merge: link change %s: %w", c.ID, err)
		}
		linked = append(linked, c.ID)

		if err := e.applier.ApplyChange(ctx, database, targetName, target.ID, c.ID); err != nil {
			e.rollbackLinks(ctx, target.ID, linked)
			return nil, fmt.Errorf("merge: apply change %s: %w", c.ID, err)
		}
	}
	return nil, nil
}

// rollbackLinks best-effort unlinks changes already linked to targetBranchID
// during a merge that failed partway through (spec.md §9 Open Question 2:
// unlinking does not undo DDL already applied to earlier tenants in the same
// change, which is covered by the change applier's own snapshot rollback).
func (e *Engine) rollbackLinks(ctx context.Context, targetBranchID string, changeIDs []string) {
	for _, id := range changeIDs {
		_ = e.tracker.RemoveChange(ctx, targetBranchID, id)
	}
}

func (e *Engine) lookupBranches(ctx context.Context, databaseID, sourceName, targetName string) (*catalog.Branch, *catalog.Branch, error) {
	source, err := e.store.GetBranch(ctx, databaseID, sourceName)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, cinchdberr.NotFound("branch", sourceName)
	}
	target, err := e.store.GetBranch(ctx, databaseID, targetName)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, cinchdberr.NotFound("branch", targetName)
	}
	return source, target, nil
}
