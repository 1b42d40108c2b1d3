package sqlite

import (
	"context"
	"time"

	"github.com/beadsync/beadsync/internal/graph"
	"github.com/beadsync/beadsync/internal/types"
)

// GetStatistics computes aggregate counts over every issue.
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[int]int),
		ByType:     make(map[string]int),
	}
	err := s.readTx(ctx, func(q dbtx) error {
		issues, err := loadIssues(ctx, q, true, false)
		if err != nil {
			return err
		}
		policy, err := s.graphPolicy(ctx, q)
		if err != nil {
			return err
		}

		now := nowUTC()
		var live []*types.Issue
		var leadTotal time.Duration
		var leadCount int
		for _, issue := range issues {
			if issue.IsTombstone() {
				stats.TombstoneIssues++
				continue
			}
			live = append(live, issue)
			stats.TotalIssues++
			stats.ByStatus[string(issue.Status)]++
			stats.ByPriority[issue.Priority]++
			stats.ByType[string(issue.IssueType)]++
			switch issue.Status {
			case types.StatusOpen:
				stats.OpenIssues++
			case types.StatusInProgress:
				stats.InProgressIssues++
			case types.StatusClosed:
				stats.ClosedIssues++
				if issue.ClosedAt != nil && issue.ClosedAt.After(issue.CreatedAt) {
					leadTotal += issue.ClosedAt.Sub(issue.CreatedAt)
					leadCount++
				}
			}
			if issue.Pinned {
				stats.PinnedIssues++
			}
			if !issue.Status.IsTerminal() && issue.IsDeferred(now) {
				stats.DeferredIssues++
			}
		}
		if leadCount > 0 {
			stats.AverageLeadTime = leadTotal.Hours() / float64(leadCount)
		}

		a := graph.Analyze(graph.FromIssues(live), policy)
		stats.BlockedIssues = a.BlockedCount()
		stats.ReadyIssues = a.ReadyCount(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
