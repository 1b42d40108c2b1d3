package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beadsync/beadsync/internal/storage"
)

// markDirty flags an issue as changed since the last export. Marking twice
// refreshes marked_at.
func markDirty(ctx context.Context, q dbtx, issueID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO dirty_issues (issue_id, marked_at) VALUES (?, ?)
		ON CONFLICT (issue_id) DO UPDATE SET marked_at = excluded.marked_at
	`, issueID, formatTime(nowUTC()))
	if err != nil && IsForeignKeyConstraintError(err) {
		return notFound(issueID)
	}
	return wrapDBErrorf(err, "mark %s dirty", issueID)
}

// MarkIssueDirty flags an issue for the next export.
func (s *SQLiteStorage) MarkIssueDirty(ctx context.Context, issueID string) error {
	return s.writeTx(ctx, func(q dbtx) error { return markDirty(ctx, q, issueID) })
}

// MarkIssuesDirty flags several issues in one transaction.
func (s *SQLiteStorage) MarkIssuesDirty(ctx context.Context, issueIDs []string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		for _, id := range issueIDs {
			if err := markDirty(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDirtyIssues returns the dirty issue IDs, oldest mark first.
func (s *SQLiteStorage) GetDirtyIssues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_id FROM dirty_issues ORDER BY marked_at ASC, issue_id ASC`)
	if err != nil {
		return nil, wrapDBError("get dirty issues", err)
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

// GetDirtyMarks returns every dirty issue with the time it was last marked.
func (s *SQLiteStorage) GetDirtyMarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_id, marked_at FROM dirty_issues`)
	if err != nil {
		return nil, wrapDBError("get dirty marks", err)
	}
	defer func() { _ = rows.Close() }()

	marks := make(map[string]time.Time)
	for rows.Next() {
		var (
			id       string
			markedAt sql.NullString
		)
		if err := rows.Scan(&id, &markedAt); err != nil {
			return nil, err
		}
		if t := parseNullableTime(markedAt); t != nil {
			marks[id] = *t
		} else {
			marks[id] = time.Time{}
		}
	}
	return marks, rows.Err()
}

// GetDirtyIssueCount returns how many issues await export.
func (s *SQLiteStorage) GetDirtyIssueCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty_issues`).Scan(&n)
	return n, wrapDBError("count dirty issues", err)
}

func clearDirtyIssuesByID(ctx context.Context, q dbtx, issueIDs []string) error {
	for start := 0; start < len(issueIDs); start += maxBatchArgs {
		end := min(start+maxBatchArgs, len(issueIDs))
		args := make([]interface{}, 0, end-start)
		for _, id := range issueIDs[start:end] {
			args = append(args, id)
		}
		// #nosec G201 - placeholders only
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM dirty_issues WHERE issue_id IN (%s)`, placeholders(len(args))), args...); err != nil {
			return wrapDBError("clear dirty issues", err)
		}
	}
	return nil
}

// ClearDirtyIssuesByID drops the dirty flag of exactly the given issues, so
// issues marked while an export ran stay dirty.
func (s *SQLiteStorage) ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error {
	if len(issueIDs) == 0 {
		return nil
	}
	return s.writeTx(ctx, func(q dbtx) error { return clearDirtyIssuesByID(ctx, q, issueIDs) })
}

// ClearDirtyIssuesExported drops the dirty flag of each issue whose mark is
// not newer than the given time. An issue marked again after its mark was
// read keeps its flag.
func (s *SQLiteStorage) ClearDirtyIssuesExported(ctx context.Context, marks map[string]time.Time) error {
	if len(marks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(marks))
	for id := range marks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return s.writeTx(ctx, func(q dbtx) error {
		for _, id := range ids {
			_, err := q.ExecContext(ctx, `DELETE FROM dirty_issues WHERE issue_id = ? AND marked_at <= ?`, id, formatTime(marks[id]))
			if err != nil {
				return wrapDBErrorf(err, "clear dirty flag of %s", id)
			}
		}
		return nil
	})
}

// GetExportHash returns the content hash last exported for an issue, or "".
func (s *SQLiteStorage) GetExportHash(ctx context.Context, issueID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM export_hashes WHERE issue_id = ?`, issueID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, wrapDBErrorf(err, "get export hash of %s", issueID)
}

// GetExportHashes returns every recorded export hash.
func (s *SQLiteStorage) GetExportHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_id, content_hash FROM export_hashes`)
	if err != nil {
		return nil, wrapDBError("get export hashes", err)
	}
	defer func() { _ = rows.Close() }()
	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// SetExportHashes records the hashes written by an export.
func (s *SQLiteStorage) SetExportHashes(ctx context.Context, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}
	now := formatTime(nowUTC())
	return s.writeTx(ctx, func(q dbtx) error {
		for id, hash := range hashes {
			_, err := q.ExecContext(ctx, `
				INSERT INTO export_hashes (issue_id, content_hash, exported_at) VALUES (?, ?, ?)
				ON CONFLICT (issue_id) DO UPDATE SET content_hash = excluded.content_hash, exported_at = excluded.exported_at
			`, id, hash, now)
			if err != nil {
				if IsForeignKeyConstraintError(err) {
					return fmt.Errorf("export hash for %s: %w", id, storage.ErrNotFound)
				}
				return wrapDBErrorf(err, "set export hash of %s", id)
			}
		}
		return nil
	})
}

// ClearAllExportHashes forgets every export hash, forcing a full re-export.
func (s *SQLiteStorage) ClearAllExportHashes(ctx context.Context) error {
	return s.writeTx(ctx, func(q dbtx) error {
		_, err := q.ExecContext(ctx, `DELETE FROM export_hashes`)
		return wrapDBError("clear export hashes", err)
	})
}
