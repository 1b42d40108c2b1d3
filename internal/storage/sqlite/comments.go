package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// AddComment adds a comment to an issue
func (s *SQLiteStorage) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	var comment *types.Comment
	err := s.writeTx(ctx, func(q dbtx) error {
		var err error
		comment, err = addComment(ctx, q, issueID, author, text)
		return err
	})
	return comment, err
}

func addComment(ctx context.Context, q dbtx, issueID, author, text string) (*types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, storage.InvalidInput(issueID, fmt.Errorf("comment text cannot be empty"))
	}
	if exists, err := issueExists(ctx, q, issueID); err != nil {
		return nil, err
	} else if !exists {
		return nil, notFound(issueID)
	}

	comment := &types.Comment{IssueID: issueID, Author: author, Text: text, CreatedAt: nowUTC()}
	if err := insertComment(ctx, q, comment); err != nil {
		return nil, err
	}
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventCommented,
		Actor:     author,
		Comment:   stringPtr(text),
		CreatedAt: comment.CreatedAt,
	}); err != nil {
		return nil, err
	}
	return comment, markDirty(ctx, q, issueID)
}

func insertComment(ctx context.Context, q dbtx, comment *types.Comment) error {
	res, err := q.ExecContext(ctx, `INSERT INTO comments (issue_id, author, text, created_at) VALUES (?, ?, ?, ?)`,
		comment.IssueID, comment.Author, comment.Text, formatTime(comment.CreatedAt))
	if err != nil {
		return wrapDBErrorf(err, "add comment to %s", comment.IssueID)
	}
	comment.ID, _ = res.LastInsertId()
	return nil
}

// importComment stores a comment read from the log. A comment with the same
// author, text and timestamp already present is left alone.
func importComment(ctx context.Context, q dbtx, comment *types.Comment) error {
	if comment.CreatedAt.IsZero() {
		return storage.InvalidInput(comment.IssueID, fmt.Errorf("imported comment has no created_at"))
	}
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM comments WHERE issue_id = ? AND author = ? AND text = ? AND created_at = ?
	`, comment.IssueID, comment.Author, comment.Text, formatTime(comment.CreatedAt)).Scan(&id)
	if err == nil {
		comment.ID = id
		return nil
	}
	if err != sql.ErrNoRows {
		return wrapDBErrorf(err, "look up comment on %s", comment.IssueID)
	}
	return insertComment(ctx, q, comment)
}

func scanComments(rows *sql.Rows) ([]*types.Comment, error) {
	defer func() { _ = rows.Close() }()
	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		var createdAt sql.NullString
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if t := parseNullableTime(createdAt); t != nil {
			c.CreatedAt = *t
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func getComments(ctx context.Context, q dbtx, issueID string) ([]*types.Comment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, issue_id, author, text, created_at FROM comments
		WHERE issue_id = ? ORDER BY created_at, id
	`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get comments of %s", issueID)
	}
	return scanComments(rows)
}

// GetComments returns the comments of an issue, oldest first.
func (s *SQLiteStorage) GetComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	return getComments(ctx, s.db, issueID)
}

// ImportComment stores a comment from the log, keeping its timestamp.
func (s *SQLiteStorage) ImportComment(ctx context.Context, comment *types.Comment) error {
	return s.writeTx(ctx, func(q dbtx) error { return importComment(ctx, q, comment) })
}

func allComments(ctx context.Context, q dbtx) (map[string][]*types.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, issue_id, author, text, created_at FROM comments ORDER BY issue_id, created_at, id`)
	if err != nil {
		return nil, wrapDBError("get all comments", err)
	}
	comments, err := scanComments(rows)
	if err != nil {
		return nil, err
	}
	byIssue := make(map[string][]*types.Comment)
	for _, c := range comments {
		byIssue[c.IssueID] = append(byIssue[c.IssueID], c)
	}
	return byIssue, nil
}
