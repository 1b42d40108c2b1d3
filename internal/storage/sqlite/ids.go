package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/beadsync/beadsync/internal/idgen"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// generateIssueID picks a free hash ID. The length adapts to the number of
// issues already stored; collisions first bump the nonce, then the length.
func generateIssueID(ctx context.Context, q dbtx, prefix string, issue *types.Issue, actor string) (string, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`).Scan(&count); err != nil {
		return "", wrapDBError("count issues for ID length", err)
	}

	for length := idgen.AdaptiveLength(count); length <= idgen.MaxHashLength; length++ {
		for nonce := 0; nonce < 10; nonce++ {
			candidate := idgen.GenerateHashID(prefix, issue.Title, issue.Description, actor, issue.CreatedAt, length, nonce)
			exists, err := issueExists(ctx, q, candidate)
			if err != nil {
				return "", err
			}
			if !exists {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("failed to generate unique ID after trying lengths up to %d: %w", idgen.MaxHashLength, storage.ErrConflict)
}

// nextChildID allocates the next hierarchical ID under parentID, skipping
// numbers already taken by imported children.
func nextChildID(ctx context.Context, q dbtx, parentID string) (string, error) {
	exists, err := issueExists(ctx, q, parentID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", notFound(parentID)
	}
	for {
		var n int
		err := q.QueryRowContext(ctx, `
			INSERT INTO child_counters (parent_id, last_child) VALUES (?, 1)
			ON CONFLICT (parent_id) DO UPDATE SET last_child = last_child + 1
			RETURNING last_child
		`, parentID).Scan(&n)
		if err != nil {
			return "", wrapDBErrorf(err, "allocate child of %s", parentID)
		}
		id := idgen.ChildID(parentID, n)
		taken, err := issueExists(ctx, q, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
}

// ensureChildCounter raises the parent's counter past an explicitly created
// child so later allocations do not reuse its number.
func ensureChildCounter(ctx context.Context, q dbtx, childID string) error {
	parentID, ok := idgen.ParentID(childID)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(childID[strings.LastIndex(childID, ".")+1:])
	if err != nil {
		return nil
	}
	// Orphans imported without their parent have no counter to raise.
	if exists, err := issueExists(ctx, q, parentID); err != nil || !exists {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child) VALUES (?, ?)
		ON CONFLICT (parent_id) DO UPDATE SET last_child = MAX(last_child, excluded.last_child)
	`, parentID, n)
	return wrapDBErrorf(err, "update child counter of %s", parentID)
}

// NextChildID allocates a hierarchical child ID (bd-abc.3) for parentID.
func (s *SQLiteStorage) NextChildID(ctx context.Context, parentID string) (string, error) {
	var id string
	err := s.writeTx(ctx, func(q dbtx) error {
		var err error
		id, err = nextChildID(ctx, q, parentID)
		return err
	})
	return id, err
}
