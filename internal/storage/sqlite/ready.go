package sqlite

import (
	"context"

	"github.com/beadsync/beadsync/internal/graph"
	"github.com/beadsync/beadsync/internal/types"
)

// analyze loads the live graph and evaluates blocking under the store's policy.
func (s *SQLiteStorage) analyze(ctx context.Context, q dbtx) (*graph.Analysis, error) {
	issues, err := loadIssues(ctx, q, false, false)
	if err != nil {
		return nil, err
	}
	policy, err := s.graphPolicy(ctx, q)
	if err != nil {
		return nil, err
	}
	return graph.Analyze(graph.FromIssues(issues), policy), nil
}

// GetReadyWork returns open, unblocked, non-deferred issues matching filter.
// An empty sort policy falls back to ready.sort-policy, then hybrid.
func (s *SQLiteStorage) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	var ready []*types.Issue
	err := s.readTx(ctx, func(q dbtx) error {
		if filter.SortPolicy == "" {
			configured, err := getConfig(ctx, q, ConfigReadySortPolicy)
			if err != nil {
				return err
			}
			if p := types.SortPolicy(configured); p != "" && p.IsValid() {
				filter.SortPolicy = p
			}
		}
		a, err := s.analyze(ctx, q)
		if err != nil {
			return err
		}
		ready = a.Ready(filter)
		return nil
	})
	return ready, err
}

// GetBlockedIssues returns every blocked issue with the IDs blocking it.
func (s *SQLiteStorage) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	var blocked []*types.BlockedIssue
	err := s.readTx(ctx, func(q dbtx) error {
		a, err := s.analyze(ctx, q)
		if err != nil {
			return err
		}
		blocked = a.Blocked()
		return nil
	})
	return blocked, err
}

// IsBlocked reports whether an issue is blocked and by what.
func (s *SQLiteStorage) IsBlocked(ctx context.Context, issueID string) (bool, []string, error) {
	var (
		blocked  bool
		blockers []string
	)
	err := s.readTx(ctx, func(q dbtx) error {
		if _, err := getIssueRow(ctx, q, issueID); err != nil {
			return err
		}
		a, err := s.analyze(ctx, q)
		if err != nil {
			return err
		}
		blocked, blockers = a.IsBlocked(issueID)
		return nil
	})
	return blocked, blockers, err
}
