package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// UpdateIssue applies a partial patch to an issue
func (s *SQLiteStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	return s.UpdateIssueIf(ctx, id, storage.Precondition{}, updates, actor)
}

// UpdateIssueIf applies the patch only if the stored issue still matches cond.
func (s *SQLiteStorage) UpdateIssueIf(ctx context.Context, id string, cond storage.Precondition, updates map[string]interface{}, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return s.updateIssue(ctx, q, id, cond, updates, actor)
	})
}

func checkPrecondition(issue *types.Issue, cond storage.Precondition) error {
	if cond.UpdatedAt != nil && !cond.UpdatedAt.Equal(issue.UpdatedAt) {
		return fmt.Errorf("issue %s was modified at %s, expected %s: %w",
			issue.ID, formatTime(issue.UpdatedAt), formatTime(*cond.UpdatedAt), storage.ErrConflict)
	}
	if cond.ContentHash != "" && cond.ContentHash != issue.ContentHash {
		return fmt.Errorf("issue %s content hash is %s, expected %s: %w",
			issue.ID, issue.ContentHash, cond.ContentHash, storage.ErrConflict)
	}
	return nil
}

func (s *SQLiteStorage) updateIssue(ctx context.Context, q dbtx, id string, cond storage.Precondition, updates map[string]interface{}, actor string) error {
	old, err := getIssueRow(ctx, q, id)
	if err != nil {
		return err
	}
	if err := checkPrecondition(old, cond); err != nil {
		return err
	}
	if old.IsTombstone() {
		return storage.InvalidInput(id, fmt.Errorf("cannot update a deleted issue"))
	}
	if len(updates) == 0 {
		return nil
	}

	updated := old.Clone()
	if err := applyUpdates(updated, updates); err != nil {
		return storage.InvalidInput(id, err)
	}
	if updated.Status == types.StatusTombstone {
		return storage.InvalidInput(id, fmt.Errorf("use delete to tombstone an issue"))
	}

	now := nowUTC()
	manageClosedAt(old, updated, updates, now)

	customStatuses, customTypes, err := customValues(ctx, q)
	if err != nil {
		return err
	}
	if err := updated.ValidateWithCustom(customStatuses, customTypes); err != nil {
		return storage.InvalidInput(id, err)
	}

	updated.UpdatedAt = now
	updated.ContentHash = updated.ComputeContentHash()
	if err := writeIssueRow(ctx, q, updated); err != nil {
		return err
	}

	oldJSON, newJSON := describeChanges(old, updates)
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   id,
		EventType: determineEventType(old, updated),
		Actor:     actor,
		OldValue:  oldJSON,
		NewValue:  newJSON,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, id)
}

// describeChanges renders the touched fields before and after the patch as
// JSON objects for the audit trail.
func describeChanges(old *types.Issue, updates map[string]interface{}) (*string, *string) {
	var raw map[string]interface{}
	if data, err := json.Marshal(old); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	before := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		before[k] = raw[k]
	}
	oldData, _ := json.Marshal(before)
	newData, _ := json.Marshal(updates)
	return stringPtr(string(oldData)), stringPtr(string(newData))
}

// CloseIssue closes an issue with a reason
func (s *SQLiteStorage) CloseIssue(ctx context.Context, id string, reason string, actor string, session string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return s.closeIssue(ctx, q, id, reason, actor, session)
	})
}

func (s *SQLiteStorage) closeIssue(ctx context.Context, q dbtx, id, reason, actor, session string) error {
	old, err := getIssueRow(ctx, q, id)
	if err != nil {
		return err
	}
	if old.IsTombstone() {
		return storage.InvalidInput(id, fmt.Errorf("cannot close a deleted issue"))
	}

	now := nowUTC()
	closed := old.Clone()
	closed.Status = types.StatusClosed
	closed.ClosedAt = &now
	closed.CloseReason = reason
	closed.ClosedBySession = session
	closed.UpdatedAt = now
	closed.ContentHash = closed.ComputeContentHash()
	if err := writeIssueRow(ctx, q, closed); err != nil {
		return err
	}

	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   id,
		EventType: types.EventClosed,
		Actor:     actor,
		OldValue:  stringPtr(string(old.Status)),
		NewValue:  stringPtr(string(types.StatusClosed)),
		Comment:   stringPtr(reason),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, id)
}

// ReopenIssue moves a closed issue back to open
func (s *SQLiteStorage) ReopenIssue(ctx context.Context, id string, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		old, err := getIssueRow(ctx, q, id)
		if err != nil {
			return err
		}
		if old.Status != types.StatusClosed {
			return storage.InvalidInput(id, fmt.Errorf("only closed issues can be reopened (status is %s)", old.Status))
		}

		now := nowUTC()
		reopened := old.Clone()
		reopened.Status = types.StatusOpen
		reopened.ClosedAt = nil
		reopened.CloseReason = ""
		reopened.ClosedBySession = ""
		reopened.UpdatedAt = now
		reopened.ContentHash = reopened.ComputeContentHash()
		if err := writeIssueRow(ctx, q, reopened); err != nil {
			return err
		}

		if err := recordEvent(ctx, q, &types.Event{
			IssueID:   id,
			EventType: types.EventReopened,
			Actor:     actor,
			OldValue:  stringPtr(string(types.StatusClosed)),
			NewValue:  stringPtr(string(types.StatusOpen)),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return markDirty(ctx, q, id)
	})
}

// DeleteIssue tombstones an issue. The row and its edges stay so that
// the deletion propagates through the log.
func (s *SQLiteStorage) DeleteIssue(ctx context.Context, id string, reason string, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return s.deleteIssue(ctx, q, id, reason, actor)
	})
}

func (s *SQLiteStorage) deleteIssue(ctx context.Context, q dbtx, id, reason, actor string) error {
	old, err := getIssueRow(ctx, q, id)
	if err != nil {
		return err
	}
	if old.IsTombstone() {
		return nil
	}

	now := nowUTC()
	tomb := old.Clone()
	tomb.OriginalType = string(old.IssueType)
	tomb.Status = types.StatusTombstone
	tomb.DeletedAt = &now
	tomb.DeletedBy = actor
	tomb.DeleteReason = reason
	tomb.UpdatedAt = now
	tomb.ContentHash = tomb.ComputeContentHash()
	if err := writeIssueRow(ctx, q, tomb); err != nil {
		return err
	}

	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   id,
		EventType: types.EventDeleted,
		Actor:     actor,
		OldValue:  stringPtr(string(old.Status)),
		NewValue:  stringPtr(string(types.StatusTombstone)),
		Comment:   stringPtr(reason),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, id)
}

// UpsertIssue writes an imported issue as given, inserting or replacing the row.
func (s *SQLiteStorage) UpsertIssue(ctx context.Context, issue *types.Issue, actor string) (bool, error) {
	var created bool
	err := s.writeTx(ctx, func(q dbtx) error {
		var err error
		created, err = s.upsertIssue(ctx, q, issue, actor)
		return err
	})
	return created, err
}

func (s *SQLiteStorage) upsertIssue(ctx context.Context, q dbtx, issue *types.Issue, actor string) (bool, error) {
	customStatuses, customTypes, err := customValues(ctx, q)
	if err != nil {
		return false, err
	}
	if err := issue.ValidateWithCustom(customStatuses, customTypes); err != nil {
		return false, storage.InvalidInput(issue.ID, err)
	}
	if issue.CreatedAt.IsZero() || issue.UpdatedAt.IsZero() {
		return false, storage.InvalidInput(issue.ID, fmt.Errorf("created_at and updated_at are required"))
	}
	issue.ContentHash = issue.ComputeContentHash()

	exists, err := issueExists(ctx, q, issue.ID)
	if err != nil {
		return false, err
	}
	comment := "updated"
	if exists {
		err = writeIssueRow(ctx, q, issue)
	} else {
		comment = "created"
		err = insertIssue(ctx, q, issue)
		if err == nil {
			err = ensureChildCounter(ctx, q, issue.ID)
		}
	}
	if err != nil {
		return false, err
	}

	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issue.ID,
		EventType: types.EventImported,
		Actor:     actor,
		NewValue:  stringPtr(issue.ContentHash),
		Comment:   stringPtr(comment),
		CreatedAt: nowUTC(),
	}); err != nil {
		return false, err
	}
	return !exists, nil
}
