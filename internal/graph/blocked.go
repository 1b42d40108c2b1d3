package graph

import (
	"slices"
	"sort"
	"time"

	"github.com/beadsync/beadsync/internal/types"
)

// Analysis is the blocked state of every issue in a snapshot under one policy.
type Analysis struct {
	snap      *Snapshot
	policy    Policy
	blockedBy map[string][]string
}

// Analyze computes which issues are blocked and by what.
//
// An issue is blocked when one of its blocking-type edges is unresolved, or
// when an ancestor reached through parent-child edges is blocked. Terminal
// issues are never reported as blocked.
func Analyze(snap *Snapshot, policy Policy) *Analysis {
	a := &Analysis{
		snap:      snap,
		policy:    policy,
		blockedBy: make(map[string][]string),
	}

	for _, id := range snap.order {
		issue := snap.issues[id]
		if !active(issue) {
			continue
		}
		for _, dep := range snap.out[id] {
			if !a.resolved(dep) {
				a.addBlocker(id, dep.DependsOnID)
			}
		}
	}

	a.propagateToChildren()
	return a
}

func (a *Analysis) addBlocker(id, blocker string) {
	if slices.Contains(a.blockedBy[id], blocker) {
		return
	}
	a.blockedBy[id] = append(a.blockedBy[id], blocker)
}

// resolved reports whether a single edge no longer holds its source back.
func (a *Analysis) resolved(dep *types.Dependency) bool {
	if !dep.Type.AffectsReadyWork() || dep.Type == types.DepParentChild {
		return true
	}
	target := a.snap.issues[dep.DependsOnID]
	if absent(target) {
		return a.policy.AbsentIsResolved
	}

	switch dep.Type {
	case types.DepBlocks:
		return !active(target)
	case types.DepConditionalBlocks:
		return target.Status == types.StatusClosed && a.policy.IsFailureReason(target.CloseReason)
	case types.DepWaitsFor:
		if active(target) {
			return false
		}
		return a.childrenSettled(target.ID, a.policy.waitsForGate(dep))
	}
	return true
}

// childrenSettled evaluates a waits-for gate over the children of spawner.
func (a *Analysis) childrenSettled(spawner string, mode WaitsForMode) bool {
	var total, closed, open int
	for _, dep := range a.snap.in[spawner] {
		if dep.Type != types.DepParentChild {
			continue
		}
		child := a.snap.issues[dep.IssueID]
		if absent(child) {
			continue
		}
		total++
		if child.Status == types.StatusClosed {
			closed++
		}
		if active(child) {
			open++
		}
	}
	if total == 0 {
		return true
	}
	if mode == WaitsForAnyChildren {
		return closed > 0
	}
	return open == 0
}

// propagateToChildren marks the active descendants of blocked issues as
// blocked by their parent.
func (a *Analysis) propagateToChildren() {
	type item struct {
		id    string
		depth int
	}
	queue := make([]item, 0, len(a.blockedBy))
	for _, id := range a.snap.order {
		if _, ok := a.blockedBy[id]; ok {
			queue = append(queue, item{id: id})
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxParentDepth {
			continue
		}
		for _, dep := range a.snap.in[cur.id] {
			if dep.Type != types.DepParentChild {
				continue
			}
			child := a.snap.issues[dep.IssueID]
			if !active(child) {
				continue
			}
			_, already := a.blockedBy[child.ID]
			a.addBlocker(child.ID, cur.id)
			if !already {
				queue = append(queue, item{id: child.ID, depth: cur.depth + 1})
			}
		}
	}
}

// IsBlocked reports whether id is blocked and lists its blockers.
func (a *Analysis) IsBlocked(id string) (bool, []string) {
	blockers, ok := a.blockedBy[id]
	if !ok {
		return false, nil
	}
	return true, append([]string(nil), blockers...)
}

// Blocked returns every blocked issue, most urgent first.
func (a *Analysis) Blocked() []*types.BlockedIssue {
	result := make([]*types.BlockedIssue, 0, len(a.blockedBy))
	for id, blockers := range a.blockedBy {
		issue := a.snap.issues[id]
		sorted := append([]string(nil), blockers...)
		sort.Strings(sorted)
		result = append(result, &types.BlockedIssue{
			Issue:          *issue,
			BlockedByCount: len(sorted),
			BlockedBy:      sorted,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return lessByPriority(&result[i].Issue, &result[j].Issue)
	})
	return result
}

// BlockedCount returns the number of blocked issues.
func (a *Analysis) BlockedCount() int {
	return len(a.blockedBy)
}

// Ready returns open, unblocked, non-deferred issues matching filter, ordered
// by the filter's sort policy and capped at filter.Limit.
//
// Pinned issues, templates and ephemeral issues are never ready work.
func (a *Analysis) Ready(filter types.WorkFilter) []*types.Issue {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}

	var ready []*types.Issue
	for _, id := range a.snap.order {
		issue := a.snap.issues[id]
		if issue.Status != types.StatusOpen || issue.Pinned || issue.IsTemplate || issue.Ephemeral {
			continue
		}
		if _, blocked := a.blockedBy[id]; blocked {
			continue
		}
		if !filter.IncludeDeferred && issue.IsDeferred(now) {
			continue
		}
		if !matchesWorkFilter(issue, filter) {
			continue
		}
		ready = append(ready, issue)
	}

	SortReady(ready, filter.SortPolicy, now)
	if filter.Limit > 0 && len(ready) > filter.Limit {
		ready = ready[:filter.Limit]
	}
	return ready
}

// ReadyCount returns the number of ready issues with no filter applied.
func (a *Analysis) ReadyCount(now time.Time) int {
	return len(a.Ready(types.WorkFilter{Now: now}))
}

func matchesWorkFilter(issue *types.Issue, filter types.WorkFilter) bool {
	if filter.Type != "" && issue.IssueType != filter.Type {
		return false
	}
	if filter.Priority != nil && issue.Priority != *filter.Priority {
		return false
	}
	// Unassigned takes precedence over Assignee
	if filter.Unassigned {
		if issue.Assignee != "" {
			return false
		}
	} else if filter.Assignee != nil && issue.Assignee != *filter.Assignee {
		return false
	}
	for _, label := range filter.Labels {
		if !slices.Contains(issue.Labels, label) {
			return false
		}
	}
	if len(filter.LabelsAny) > 0 {
		found := false
		for _, label := range filter.LabelsAny {
			if slices.Contains(issue.Labels, label) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortReady orders issues in place according to policy.
//
// hybrid: issues created within HybridRecentWindow come first by priority,
// older issues follow oldest first. priority: priority then age. oldest: age.
func SortReady(issues []*types.Issue, policy types.SortPolicy, now time.Time) {
	cutoff := now.Add(-types.HybridRecentWindow)
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		switch policy {
		case types.SortPolicyPriority:
			return lessByPriority(a, b)
		case types.SortPolicyOldest:
			return lessByAge(a, b)
		default:
			aRecent, bRecent := !a.CreatedAt.Before(cutoff), !b.CreatedAt.Before(cutoff)
			if aRecent != bRecent {
				return aRecent
			}
			if aRecent {
				return lessByPriority(a, b)
			}
			return lessByAge(a, b)
		}
	})
}

func lessByPriority(a, b *types.Issue) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return lessByAge(a, b)
}

func lessByAge(a, b *types.Issue) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
