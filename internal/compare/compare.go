// Package compare implements the change comparator: it computes divergence
// between two branches' ordered change histories, detects conflicts, and
// orders a set of changes for merge application (spec.md §4.9).
package compare

import (
	"context"
	"fmt"

	"github.com/cinchdb/cinchdb/internal/catalog"
	"github.com/cinchdb/cinchdb/internal/changes"
)

// Comparator reads two branches' histories through a shared change tracker.
type Comparator struct {
	tracker *changes.Tracker
}

// New returns a Comparator backed by tracker.
func New(tracker *changes.Tracker) *Comparator {
	return &Comparator{tracker: tracker}
}

// EntityKey identifies a schema object a change touches.
type EntityKey struct {
	Type catalog.EntityType
	Name string
}

// GetDivergentChanges returns the changes present only in source's history
// and only in target's history, each in their own original applied_order.
func (c *Comparator) GetDivergentChanges(ctx context.Context, sourceBranchID, targetBranchID string) (sourceOnly, targetOnly []*changes.Record, err error) {
	sourceHistory, err := c.tracker.GetChanges(ctx, sourceBranchID)
	if err != nil {
		return nil, nil, err
	}
	targetHistory, err := c.tracker.GetChanges(ctx, targetBranchID)
	if err != nil {
		return nil, nil, err
	}

	targetIDs := make(map[string]bool, len(targetHistory))
	for _, r := range targetHistory {
		targetIDs[r.ID] = true
	}
	sourceIDs := make(map[string]bool, len(sourceHistory))
	for _, r := range sourceHistory {
		sourceIDs[r.ID] = true
	}

	for _, r := range sourceHistory {
		if !targetIDs[r.ID] {
			sourceOnly = append(sourceOnly, r)
		}
	}
	for _, r := range targetHistory {
		if !sourceIDs[r.ID] {
			targetOnly = append(targetOnly, r)
		}
	}
	return sourceOnly, targetOnly, nil
}

// FindCommonAncestor returns the id of the last change present in both
// histories at the same position (the longest common applied_order
// prefix), or "" if the histories share no prefix.
func (c *Comparator) FindCommonAncestor(ctx context.Context, sourceBranchID, targetBranchID string) (string, error) {
	sourceHistory, err := c.tracker.GetChanges(ctx, sourceBranchID)
	if err != nil {
		return "", err
	}
	targetHistory, err := c.tracker.GetChanges(ctx, targetBranchID)
	if err != nil {
		return "", err
	}

	ancestor := ""
	for i := 0; i < len(sourceHistory) && i < len(targetHistory); i++ {
		if sourceHistory[i].ID != targetHistory[i].ID {
			break
		}
		ancestor = sourceHistory[i].ID
	}
	return ancestor, nil
}

// CanFastForwardMerge reports whether target's entire history is a prefix
// of source's, i.e. target has made no changes of its own since diverging.
func (c *Comparator) CanFastForwardMerge(ctx context.Context, sourceBranchID, targetBranchID string) (bool, error) {
	sourceHistory, err := c.tracker.GetChanges(ctx, sourceBranchID)
	if err != nil {
		return false, err
	}
	targetHistory, err := c.tracker.GetChanges(ctx, targetBranchID)
	if err != nil {
		return false, err
	}
	if len(targetHistory) > len(sourceHistory) {
		return false, nil
	}
	for i, r := range targetHistory {
		if sourceHistory[i].ID != r.ID {
			return false, nil
		}
	}
	return true, nil
}

// DetectConflicts flags (source, target) change pairs that touch the same
// (entity_type, entity_name) with incompatible operations, returning a
// human-readable reason per conflict.
func DetectConflicts(sourceOnly, targetOnly []*changes.Record) []string {
	targetByKey := make(map[EntityKey][]*changes.Record)
	for _, r := range targetOnly {
		key := EntityKey{Type: r.EntityType, Name: r.EntityName}
		targetByKey[key] = append(targetByKey[key], r)
	}

	var reasons []string
	for _, s := range sourceOnly {
		key := EntityKey{Type: s.EntityType, Name: s.EntityName}
		for _, t := range targetByKey[key] {
			if conflicting(s, t) {
				reasons = append(reasons, fmt.Sprintf(
					"%s %q: source change %s (%s) conflicts with target change %s (%s)",
					key.Type, key.Name, s.ID, s.Type, t.ID, t.Type))
			}
		}
	}
	return reasons
}

// conflicting reports whether two changes touching the same entity are
// incompatible. Two creates of the same entity always conflict; any other
// pair of distinct operations against the same entity is treated as a
// conflict conservatively, since later operations may depend on exact
// column/view definitions neither side has validated against the other.
func conflicting(a, b *changes.Record) bool {
	return a.ID != b.ID
}

// GetMergeOrder returns sourceOnly in an order safe to apply: their
// original applied_order, which already places every entity's creation
// before operations that depend on it (e.g. ADD_COLUMN always follows the
// CREATE_TABLE of the same table in one branch's own history).
func GetMergeOrder(sourceOnly []*changes.Record) []*changes.Record {
	ordered := make([]*changes.Record, len(sourceOnly))
	copy(ordered, sourceOnly)
	for i := 1; i < len(ordered); i++ {
		j := i
		for j > 0 && ordered[j-1].AppliedOrder > ordered[j].AppliedOrder {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
			j--
		}
	}
	return ordered
}
