package sqlite

import (
	"context"
	"errors"
	"sort"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// loadIssues reads every issue with labels and dependencies attached, and
// comments when withComments is set. Callers run it inside readTx.
func loadIssues(ctx context.Context, q dbtx, includeTombstones, withComments bool) ([]*types.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	if !includeTombstones {
		query += ` WHERE status != 'tombstone'`
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, wrapDBError("load issues", err)
	}
	issues, err := scanIssues(rows)
	if err != nil {
		return nil, err
	}

	labels, err := allLabels(ctx, q)
	if err != nil {
		return nil, err
	}
	deps, err := allDependencies(ctx, q)
	if err != nil {
		return nil, err
	}
	depsByIssue := make(map[string][]*types.Dependency)
	for _, dep := range deps {
		depsByIssue[dep.IssueID] = append(depsByIssue[dep.IssueID], dep)
	}
	var comments map[string][]*types.Comment
	if withComments {
		if comments, err = allComments(ctx, q); err != nil {
			return nil, err
		}
	}

	for _, issue := range issues {
		issue.Labels = labels[issue.ID]
		issue.Dependencies = depsByIssue[issue.ID]
		if withComments {
			issue.Comments = comments[issue.ID]
		}
	}
	return issues, nil
}

// Snapshot loads every issue with its labels, dependencies and comments in
// one read transaction, sorted by id.
func (s *SQLiteStorage) Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error) {
	var issues []*types.Issue
	err := s.readTx(ctx, func(q dbtx) error {
		var err error
		issues, err = loadIssues(ctx, q, includeTombstones, true)
		return err
	})
	return issues, err
}

// SnapshotIssues loads the listed issues, tombstones included, with labels,
// dependencies and comments in one read transaction. Unknown ids are skipped.
// The result is sorted by id.
func (s *SQLiteStorage) SnapshotIssues(ctx context.Context, ids []string) ([]*types.Issue, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var issues []*types.Issue
	err := s.readTx(ctx, func(q dbtx) error {
		for i, id := range sorted {
			if i > 0 && id == sorted[i-1] {
				continue
			}
			issue, err := getIssue(ctx, q, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if issue.Comments, err = getComments(ctx, q, id); err != nil {
				return err
			}
			issues = append(issues, issue)
		}
		return nil
	})
	return issues, err
}

// IssueIDs returns every stored issue id, tombstones included, sorted.
func (s *SQLiteStorage) IssueIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM issues ORDER BY id`)
	if err != nil {
		return nil, wrapDBError("list issue ids", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
