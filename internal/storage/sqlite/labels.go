package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// AddLabel adds a label to an issue
func (s *SQLiteStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return addLabel(ctx, q, issueID, label, actor)
	})
}

func addLabel(ctx context.Context, q dbtx, issueID, label, actor string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return storage.InvalidInput(issueID, fmt.Errorf("label cannot be empty"))
	}
	if exists, err := issueExists(ctx, q, issueID); err != nil {
		return err
	} else if !exists {
		return notFound(issueID)
	}

	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issueID, label)
	if err != nil {
		return wrapDBErrorf(err, "add label %q to %s", label, issueID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventLabelAdded,
		Actor:     actor,
		NewValue:  stringPtr(label),
		CreatedAt: nowUTC(),
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, issueID)
}

// RemoveLabel removes a label from an issue
func (s *SQLiteStorage) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return removeLabel(ctx, q, issueID, label, actor)
	})
}

func removeLabel(ctx context.Context, q dbtx, issueID, label, actor string) error {
	label = strings.TrimSpace(label)
	res, err := q.ExecContext(ctx, `DELETE FROM labels WHERE issue_id = ? AND label = ?`, issueID, label)
	if err != nil {
		return wrapDBErrorf(err, "remove label %q from %s", label, issueID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventLabelRemoved,
		Actor:     actor,
		OldValue:  stringPtr(label),
		CreatedAt: nowUTC(),
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, issueID)
}

func getLabels(ctx context.Context, q dbtx, issueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT label FROM labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get labels of %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// GetLabels returns the labels of an issue, sorted.
func (s *SQLiteStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	return getLabels(ctx, s.db, issueID)
}

// allLabels returns every label keyed by issue, each list sorted.
func allLabels(ctx context.Context, q dbtx) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT issue_id, label FROM labels ORDER BY issue_id, label`)
	if err != nil {
		return nil, wrapDBError("get all labels", err)
	}
	defer func() { _ = rows.Close() }()

	byIssue := make(map[string][]string)
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		byIssue[id] = append(byIssue[id], label)
	}
	return byIssue, rows.Err()
}

// attachLabels fills Labels on each issue with one query.
func attachLabels(ctx context.Context, q dbtx, issues []*types.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	byID := make(map[string]*types.Issue, len(issues))
	args := make([]interface{}, 0, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
		args = append(args, issue.ID)
	}

	for start := 0; start < len(args); start += maxBatchArgs {
		end := min(start+maxBatchArgs, len(args))
		chunk := args[start:end]
		// #nosec G201 - placeholders only
		rows, err := q.QueryContext(ctx, fmt.Sprintf(
			`SELECT issue_id, label FROM labels WHERE issue_id IN (%s) ORDER BY issue_id, label`, placeholders(len(chunk))), chunk...)
		if err != nil {
			return wrapDBError("load labels", err)
		}
		for rows.Next() {
			var id, label string
			if err := rows.Scan(&id, &label); err != nil {
				_ = rows.Close()
				return err
			}
			if issue := byID[id]; issue != nil {
				issue.Labels = append(issue.Labels, label)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
