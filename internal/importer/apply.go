package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beadsync/beadsync/internal/idgen"
	"github.com/beadsync/beadsync/internal/merge"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// placeholderTitle names a parent recreated only to hold its children.
const placeholderTitle = "(missing parent)"

// checkOrphans applies the orphan policy to hierarchical children whose
// parent is neither in the store nor in the log. It returns the placeholder
// parents to create and the records that survive.
func (imp *importer) checkOrphans(incoming []*types.Issue) ([]*types.Issue, []*types.Issue, error) {
	if imp.opts.OrphanHandling == storage.OrphanAllow {
		return nil, incoming, nil
	}
	known := make(map[string]bool, len(imp.local)+len(incoming))
	for id := range imp.local {
		known[id] = true
	}
	for _, issue := range incoming {
		known[issue.ID] = true
	}

	var placeholders []*types.Issue
	kept := incoming[:0]
	for _, issue := range incoming {
		parentID, ok := idgen.ParentID(issue.ID)
		if !ok || known[parentID] {
			kept = append(kept, issue)
			continue
		}
		switch imp.opts.OrphanHandling {
		case storage.OrphanStrict:
			return nil, nil, storage.InvalidInput(issue.ID, fmt.Errorf("parent issue %s does not exist", parentID))
		case storage.OrphanSkip:
			imp.skip(SkippedRecord{ID: issue.ID, Reason: fmt.Sprintf("parent issue %s does not exist", parentID)})
			continue
		case storage.OrphanResurrect:
			// Ancestors first so each placeholder's own parent exists.
			var chain []string
			for id, ok := parentID, true; ok && !known[id]; id, ok = idgen.ParentID(id) {
				chain = append(chain, id)
				known[id] = true
			}
			for i := len(chain) - 1; i >= 0; i-- {
				placeholders = append(placeholders, placeholder(chain[i], issue.CreatedAt))
			}
		}
		kept = append(kept, issue)
	}
	return placeholders, kept, nil
}

func placeholder(id string, at time.Time) *types.Issue {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	deleted := at
	issue := &types.Issue{
		ID:           id,
		Title:        placeholderTitle,
		Status:       types.StatusTombstone,
		IssueType:    types.TypeTask,
		Priority:     2,
		CreatedAt:    at,
		UpdatedAt:    at,
		DeletedAt:    &deleted,
		DeleteReason: "recreated for an orphaned child",
		OriginalType: string(types.TypeTask),
	}
	issue.ContentHash = issue.ComputeContentHash()
	return issue
}

func (imp *importer) applyPlaceholder(ctx context.Context, issue *types.Issue) error {
	err := imp.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if _, err := tx.UpsertIssue(ctx, issue, imp.opts.Actor); err != nil {
			return err
		}
		return tx.MarkIssueDirty(ctx, issue.ID)
	})
	if err != nil {
		return fmt.Errorf("recreate parent %s: %w", issue.ID, err)
	}
	imp.warn("recreated missing parent %s as a tombstone", issue.ID)
	imp.local[issue.ID] = issue
	imp.mustFlush[issue.ID] = true
	imp.result.Created++
	return nil
}

// applyWithPolicy applies one record and settles a failure by the error
// policy.
func (imp *importer) applyWithPolicy(ctx context.Context, rec *types.Issue) error {
	err := imp.applyRecord(ctx, rec)
	if err != nil && imp.opts.ErrorPolicy == PolicyPartial && ctx.Err() == nil {
		var conflict *merge.ConflictError
		if !errors.As(err, &conflict) {
			err = imp.applyRecord(ctx, rec)
		}
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var conflict *merge.ConflictError
	if errors.As(err, &conflict) {
		imp.result.Conflicts = append(imp.result.Conflicts, rec.ID)
	}
	if imp.opts.ErrorPolicy == PolicyStrict {
		return fmt.Errorf("import %s: %w", rec.ID, err)
	}
	imp.skip(SkippedRecord{ID: rec.ID, Reason: err.Error()})
	return nil
}

// applyRecord merges rec with the store in one transaction.
func (imp *importer) applyRecord(ctx context.Context, rec *types.Issue) error {
	var (
		outcome    string
		supersedes []merge.Supersession
		rejected   []RejectedDependency
		touched    []string
		flush      bool
	)
	err := imp.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		outcome, supersedes, rejected, touched, flush = "", nil, nil, nil, false

		local, err := tx.GetIssue(ctx, rec.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			local = nil
		case err != nil:
			return err
		default:
			if local.Comments, err = tx.GetComments(ctx, rec.ID); err != nil {
				return err
			}
		}

		merged := rec.Clone()
		if local != nil {
			if merge.SameState(local, rec) {
				outcome = "unchanged"
				return nil
			}
			res, err := merge.ThreeWay(imp.base[rec.ID], local, rec, imp.opts.Strategy)
			if err != nil {
				return err
			}
			merged, supersedes = res.Issue, res.Superseded
		}

		created, err := tx.UpsertIssue(ctx, merged, imp.opts.Actor)
		if err != nil {
			return err
		}
		outcome = "updated"
		if created {
			outcome = "created"
		}
		touched = append(touched, merged.ID)

		var have *types.Issue
		if local != nil {
			have = local
		} else {
			have = &types.Issue{ID: merged.ID}
		}
		if err := imp.syncLabels(ctx, tx, have, merged); err != nil {
			return err
		}
		depTouched, depRejected, err := imp.syncDependencies(ctx, tx, have, merged)
		if err != nil {
			return err
		}
		touched = append(touched, depTouched...)
		rejected = depRejected

		for _, c := range merged.Comments {
			comment := *c
			comment.IssueID = merged.ID
			if err := tx.ImportComment(ctx, &comment); err != nil {
				return err
			}
		}

		for _, s := range supersedes {
			if err := tx.RecordEvent(ctx, supersededEvent(merged.ID, s, imp.opts.Actor)); err != nil {
				return err
			}
		}

		if oldID, ok := imp.remapped[merged.ID]; ok {
			// The log still names the old id until the next export.
			if err := tx.RecordEvent(ctx, &types.Event{
				IssueID:   merged.ID,
				EventType: types.EventRemapped,
				Actor:     imp.opts.Actor,
				OldValue:  &oldID,
				NewValue:  &merged.ID,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			if err := tx.MarkIssueDirty(ctx, merged.ID); err != nil {
				return err
			}
		}

		if !merge.SameState(merged, rec) || len(rejected) > 0 {
			flush = true
			return tx.MarkIssueDirty(ctx, merged.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch outcome {
	case "unchanged":
		imp.result.Unchanged++
	case "created":
		imp.result.Created++
	case "updated":
		imp.result.Updated++
	}
	for _, id := range touched {
		imp.touched[id] = true
	}
	if flush {
		imp.mustFlush[rec.ID] = true
		imp.result.KeptLocal++
	} else {
		imp.synced[rec.ID] = true
	}
	imp.result.Superseded += len(supersedes)
	for _, r := range rejected {
		imp.warn("%s: rejected dependency on %s: %v", r.IssueID, r.DependsOnID, r.Err)
	}
	imp.result.RejectedDependencies = append(imp.result.RejectedDependencies, rejected...)
	return nil
}

func supersededEvent(issueID string, s merge.Supersession, actor string) *types.Event {
	lost, kept := s.LostValue, s.KeptValue
	comment := fmt.Sprintf("%s: %s change superseded", s.Field, s.Loser)
	return &types.Event{
		IssueID:   issueID,
		EventType: types.EventSuperseded,
		Actor:     actor,
		OldValue:  &lost,
		NewValue:  &kept,
		Comment:   &comment,
		CreatedAt: time.Now().UTC(),
	}
}

func (imp *importer) syncLabels(ctx context.Context, tx storage.Transaction, have, want *types.Issue) error {
	current := make(map[string]bool, len(have.Labels))
	for _, label := range have.Labels {
		current[label] = true
	}
	wanted := make(map[string]bool, len(want.Labels))
	for _, label := range want.Labels {
		wanted[label] = true
		if !current[label] {
			if err := tx.AddLabel(ctx, want.ID, label, imp.opts.Actor); err != nil {
				return err
			}
		}
	}
	for _, label := range have.Labels {
		if !wanted[label] {
			if err := tx.RemoveLabel(ctx, want.ID, label, imp.opts.Actor); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncDependencies brings the stored edges of want.ID in line with
// want.Dependencies. An edge that would close a cycle is rejected and the
// rest are still applied. Tombstones keep the edges they have.
func (imp *importer) syncDependencies(ctx context.Context, tx storage.Transaction, have, want *types.Issue) ([]string, []RejectedDependency, error) {
	if want.IsTombstone() {
		return nil, nil, nil
	}
	current := make(map[string]*types.Dependency, len(have.Dependencies))
	for _, dep := range have.Dependencies {
		current[dep.DependsOnID] = dep
	}
	wanted := make(map[string]*types.Dependency, len(want.Dependencies))
	for _, dep := range want.Dependencies {
		wanted[dep.DependsOnID] = dep
	}

	var touched []string
	var stale []string
	for target, dep := range current {
		if w, ok := wanted[target]; !ok || w.Type != dep.Type {
			stale = append(stale, target)
		}
	}
	sort.Strings(stale)
	for _, target := range stale {
		if err := tx.RemoveDependency(ctx, want.ID, target, imp.opts.Actor); err != nil {
			return nil, nil, err
		}
		touched = append(touched, target)
	}

	var rejected []RejectedDependency
	for _, dep := range want.Dependencies {
		if c, ok := current[dep.DependsOnID]; ok && c.Type == dep.Type {
			continue
		}
		edge := *dep
		edge.IssueID = want.ID
		err := tx.AddDependency(ctx, &edge, imp.opts.Actor)
		var cycle *storage.CycleError
		if errors.As(err, &cycle) {
			rejected = append(rejected, RejectedDependency{IssueID: want.ID, DependsOnID: dep.DependsOnID, Err: err})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		touched = append(touched, dep.DependsOnID)
	}
	return touched, rejected, nil
}

// applyDeletions tombstones local issues that the base knew and the log no
// longer carries. A local issue edited since the base is kept and queued for
// export instead.
func (imp *importer) applyDeletions(ctx context.Context, incoming []*types.Issue) error {
	present := make(map[string]bool, len(incoming))
	for _, issue := range incoming {
		present[issue.ID] = true
	}
	for oldID := range imp.result.IDMapping {
		present[oldID] = true
	}
	for _, rec := range imp.result.Skipped {
		if rec.ID == "" {
			// A line too broken to name its issue could be any of them.
			imp.warn("skipping deletions: the log has unreadable records")
			return nil
		}
		present[rec.ID] = true
	}

	var gone []string
	for id := range imp.base {
		if present[id] {
			continue
		}
		if local := imp.local[id]; local != nil && !local.IsTombstone() {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)

	for _, id := range gone {
		if err := ctx.Err(); err != nil {
			return err
		}
		local := imp.local[id]
		if merge.SameState(imp.base[id], local) {
			err := imp.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
				return tx.DeleteIssue(ctx, id, "deleted in log", imp.opts.Actor)
			})
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			imp.result.Deleted++
		} else {
			err := imp.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
				return tx.MarkIssueDirty(ctx, id)
			})
			if err != nil {
				return fmt.Errorf("keep %s: %w", id, err)
			}
			imp.warn("%s was removed from the log but changed locally; keeping the local issue", id)
			imp.result.KeptLocal++
		}
		imp.mustFlush[id] = true
	}
	return nil
}
