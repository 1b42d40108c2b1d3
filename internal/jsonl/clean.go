package jsonl

import (
	"github.com/beadsync/beadsync/internal/types"
)

// DuplicateRemoval reports a log that carried one id more than once.
type DuplicateRemoval struct {
	ID              string
	KeptVersion     *types.Issue
	RemovedVersions []*types.Issue
}

// Deduplicate keeps one record per id: the newest by updated_at, the later
// line on a tie. The survivors keep the position of each id's first line.
func Deduplicate(issues []*types.Issue) ([]*types.Issue, []*DuplicateRemoval) {
	index := make(map[string]int, len(issues))
	result := make([]*types.Issue, 0, len(issues))
	removals := make(map[string]*DuplicateRemoval)
	var order []string

	for _, issue := range issues {
		pos, seen := index[issue.ID]
		if !seen {
			index[issue.ID] = len(result)
			result = append(result, issue)
			continue
		}
		kept := result[pos]
		removal := removals[issue.ID]
		if removal == nil {
			removal = &DuplicateRemoval{ID: issue.ID}
			removals[issue.ID] = removal
			order = append(order, issue.ID)
		}
		if issue.UpdatedAt.Before(kept.UpdatedAt) {
			removal.RemovedVersions = append(removal.RemovedVersions, issue)
			continue
		}
		removal.RemovedVersions = append(removal.RemovedVersions, kept)
		result[pos] = issue
	}

	report := make([]*DuplicateRemoval, 0, len(order))
	for _, id := range order {
		removal := removals[id]
		removal.KeptVersion = result[index[id]]
		report = append(report, removal)
	}
	return result, report
}
