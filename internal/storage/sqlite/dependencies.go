package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/graph"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

const dependencyColumns = `issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id`

// blockingTypesSQL is the IN list of edge types that participate in blocking.
const blockingTypesSQL = `('blocks', 'parent-child', 'conditional-blocks', 'waits-for')`

func scanDependencies(rows *sql.Rows) ([]*types.Dependency, error) {
	defer func() { _ = rows.Close() }()
	var deps []*types.Dependency
	for rows.Next() {
		var (
			dep                           types.Dependency
			depType                       string
			createdAt                     sql.NullString
			createdBy, metadata, threadID sql.NullString
		)
		if err := rows.Scan(&dep.IssueID, &dep.DependsOnID, &depType, &createdAt, &createdBy, &metadata, &threadID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		dep.Type = types.DependencyType(depType)
		if t := parseNullableTime(createdAt); t != nil {
			dep.CreatedAt = *t
		}
		dep.CreatedBy = createdBy.String
		if metadata.String != "{}" {
			dep.Metadata = metadata.String
		}
		dep.ThreadID = threadID.String
		deps = append(deps, &dep)
	}
	return deps, rows.Err()
}

// dbEdges reads the graph straight from the tables for searches that only
// touch a small part of it.
type dbEdges struct {
	q dbtx
}

// BlockingTargets implements graph.EdgeSource.
func (e dbEdges) BlockingTargets(ctx context.Context, issueID string) ([]string, error) {
	rows, err := e.q.QueryContext(ctx,
		`SELECT depends_on_id FROM dependencies WHERE issue_id = ? AND type IN `+blockingTypesSQL, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "read edges of %s", issueID)
	}
	defer func() { _ = rows.Close() }()
	var targets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		targets = append(targets, id)
	}
	return targets, rows.Err()
}

// TreeIssue implements graph.TreeSource.
func (e dbEdges) TreeIssue(ctx context.Context, id string) (*types.Issue, error) {
	issue, err := getIssueRow(ctx, e.q, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return issue, err
}

// TreeEdges implements graph.TreeSource.
func (e dbEdges) TreeEdges(ctx context.Context, id string, reverse bool) ([]*types.Dependency, error) {
	column := "issue_id"
	order := "depends_on_id"
	if reverse {
		column, order = "depends_on_id", "issue_id"
	}
	rows, err := e.q.QueryContext(ctx,
		`SELECT `+dependencyColumns+` FROM dependencies WHERE `+column+` = ? AND type IN `+blockingTypesSQL+` ORDER BY `+order, id)
	if err != nil {
		return nil, wrapDBErrorf(err, "read tree edges of %s", id)
	}
	return scanDependencies(rows)
}

// AddDependency adds a dependency between issues with cycle prevention
func (s *SQLiteStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return addDependency(ctx, q, dep, actor)
	})
}

func addDependency(ctx context.Context, q dbtx, dep *types.Dependency, actor string) error {
	dep.IssueID = strings.TrimSpace(dep.IssueID)
	dep.DependsOnID = strings.TrimSpace(dep.DependsOnID)
	if dep.Type == "" {
		dep.Type = types.DepBlocks
	}
	if dep.IssueID == "" || dep.DependsOnID == "" {
		return storage.InvalidInput(dep.IssueID, fmt.Errorf("dependency needs both issue_id and depends_on_id"))
	}
	if !dep.Type.IsValid() {
		return storage.InvalidInput(dep.IssueID, fmt.Errorf("invalid dependency type: %q (must be non-empty, max 50 chars)", dep.Type))
	}
	if dep.IssueID == dep.DependsOnID {
		return storage.InvalidInput(dep.IssueID, fmt.Errorf("issue cannot depend on itself"))
	}
	metadata, err := storage.NormalizeMetadataValue(dep.Metadata)
	if err != nil {
		return storage.InvalidInput(dep.IssueID, err)
	}

	source, err := getIssueRow(ctx, q, dep.IssueID)
	if err != nil {
		return err
	}
	if source.IsTombstone() {
		return storage.InvalidInput(dep.IssueID, fmt.Errorf("cannot add a dependency to a deleted issue"))
	}

	var existingType string
	err = q.QueryRowContext(ctx, `SELECT type FROM dependencies WHERE issue_id = ? AND depends_on_id = ?`,
		dep.IssueID, dep.DependsOnID).Scan(&existingType)
	switch {
	case err == nil && existingType == string(dep.Type):
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return wrapDBErrorf(err, "check dependency %s → %s", dep.IssueID, dep.DependsOnID)
	}

	if dep.Type.AffectsReadyWork() {
		check, err := graph.WouldCreateCycle(ctx, dbEdges{q}, dep.IssueID, dep.DependsOnID, graph.MaxCycleDepth)
		if err != nil {
			return err
		}
		if check.Rejected() {
			cycleErr := &storage.CycleError{IssueID: dep.IssueID, DependsOnID: dep.DependsOnID, DepthCapped: check.DepthCapped}
			if len(check.Path) > 1 {
				cycleErr.Path = check.Path[1:]
			}
			return cycleErr
		}
	}

	now := nowUTC()
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = now
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = actor
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO dependencies (`+dependencyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id) DO UPDATE SET type = excluded.type, metadata = excluded.metadata
	`, dep.IssueID, dep.DependsOnID, string(dep.Type), formatTime(dep.CreatedAt), dep.CreatedBy, metadata, dep.ThreadID)
	if err != nil {
		return wrapDBErrorf(err, "add dependency %s → %s", dep.IssueID, dep.DependsOnID)
	}

	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   dep.IssueID,
		EventType: types.EventDependencyAdded,
		Actor:     actor,
		NewValue:  stringPtr(fmt.Sprintf("%s %s", dep.Type, dep.DependsOnID)),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return markEdgeDirty(ctx, q, dep.IssueID, dep.DependsOnID)
}

// markEdgeDirty flags both ends of an edge; the target only when it is local.
func markEdgeDirty(ctx context.Context, q dbtx, issueID, dependsOnID string) error {
	if err := markDirty(ctx, q, issueID); err != nil {
		return err
	}
	exists, err := issueExists(ctx, q, dependsOnID)
	if err != nil || !exists {
		return err
	}
	return markDirty(ctx, q, dependsOnID)
}

// RemoveDependency removes a dependency
func (s *SQLiteStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID string, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return removeDependency(ctx, q, issueID, dependsOnID, actor)
	})
}

func removeDependency(ctx context.Context, q dbtx, issueID, dependsOnID, actor string) error {
	var depType string
	err := q.QueryRowContext(ctx, `SELECT type FROM dependencies WHERE issue_id = ? AND depends_on_id = ?`,
		issueID, dependsOnID).Scan(&depType)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dependency %s → %s: %w", issueID, dependsOnID, storage.ErrNotFound)
	}
	if err != nil {
		return wrapDBErrorf(err, "find dependency %s → %s", issueID, dependsOnID)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ?`, issueID, dependsOnID); err != nil {
		return wrapDBErrorf(err, "remove dependency %s → %s", issueID, dependsOnID)
	}
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventDependencyRemoved,
		Actor:     actor,
		OldValue:  stringPtr(fmt.Sprintf("%s %s", depType, dependsOnID)),
		CreatedAt: nowUTC(),
	}); err != nil {
		return err
	}
	return markEdgeDirty(ctx, q, issueID, dependsOnID)
}

func getDependencyRecords(ctx context.Context, q dbtx, issueID string) ([]*types.Dependency, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+dependencyColumns+` FROM dependencies WHERE issue_id = ? ORDER BY depends_on_id`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependencies of %s", issueID)
	}
	return scanDependencies(rows)
}

// GetDependencyRecords returns the outgoing edges of an issue, sorted by target.
func (s *SQLiteStorage) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	return getDependencyRecords(ctx, s.db, issueID)
}

// GetDependents returns the edges pointing at an issue.
func (s *SQLiteStorage) GetDependents(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dependencyColumns+` FROM dependencies WHERE depends_on_id = ? ORDER BY issue_id`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependents of %s", issueID)
	}
	return scanDependencies(rows)
}

func allDependencies(ctx context.Context, q dbtx) ([]*types.Dependency, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+dependencyColumns+` FROM dependencies ORDER BY issue_id, depends_on_id`)
	if err != nil {
		return nil, wrapDBError("get all dependencies", err)
	}
	return scanDependencies(rows)
}

// GetAllDependencyRecords returns every edge grouped by source issue.
func (s *SQLiteStorage) GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error) {
	deps, err := allDependencies(ctx, s.db)
	if err != nil {
		return nil, err
	}
	byIssue := make(map[string][]*types.Dependency)
	for _, dep := range deps {
		byIssue[dep.IssueID] = append(byIssue[dep.IssueID], dep)
	}
	return byIssue, nil
}

// GetDependencyTree walks the blocking edges below issueID. Reverse walks
// dependents instead of dependencies.
func (s *SQLiteStorage) GetDependencyTree(ctx context.Context, issueID string, maxDepth int, reverse bool) ([]*types.TreeNode, error) {
	var nodes []*types.TreeNode
	err := s.readTx(ctx, func(q dbtx) error {
		if _, err := getIssueRow(ctx, q, issueID); err != nil {
			return err
		}
		var err error
		nodes, err = graph.CollectTree(graph.Tree(ctx, dbEdges{q}, issueID, maxDepth, reverse))
		return err
	})
	return nodes, err
}

// DetectCycles audits the stored graph for cycles among blocking edges.
func (s *SQLiteStorage) DetectCycles(ctx context.Context) ([][]string, error) {
	var cycles [][]string
	err := s.readTx(ctx, func(q dbtx) error {
		deps, err := allDependencies(ctx, q)
		if err != nil {
			return err
		}
		cycles = graph.NewSnapshot(nil, deps).DetectCycles()
		return nil
	})
	return cycles, err
}
