package graph

import (
	"context"
	"slices"
	"sort"
)

// EdgeSource yields the targets of an issue's blocking-type edges. Stores
// implement it with one query per call so a search only touches the part of
// the graph it explores.
type EdgeSource interface {
	BlockingTargets(ctx context.Context, issueID string) ([]string, error)
}

// CycleCheck is the outcome of WouldCreateCycle.
type CycleCheck struct {
	// Path is issueID, dependsOnID, ... issueID when a cycle was found.
	Path []string
	// DepthCapped is set when the search gave up at the depth limit.
	DepthCapped bool
}

// Rejected reports whether the proposed edge must not be committed.
func (c CycleCheck) Rejected() bool {
	return len(c.Path) > 0 || c.DepthCapped
}

// WouldCreateCycle checks whether adding the blocking edge issueID → dependsOnID
// closes a cycle. It searches breadth-first from dependsOnID along existing
// blocking edges looking for issueID, giving up after maxDepth levels. A
// search that gives up is reported as DepthCapped and must be treated as a
// rejection. maxDepth <= 0 means MaxCycleDepth.
func WouldCreateCycle(ctx context.Context, src EdgeSource, issueID, dependsOnID string, maxDepth int) (CycleCheck, error) {
	if maxDepth <= 0 {
		maxDepth = MaxCycleDepth
	}
	if issueID == dependsOnID {
		return CycleCheck{Path: []string{issueID, issueID}}, nil
	}

	parent := map[string]string{dependsOnID: issueID}
	frontier := []string{dependsOnID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return CycleCheck{DepthCapped: true}, nil
		}
		var next []string
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				return CycleCheck{}, err
			}
			targets, err := src.BlockingTargets(ctx, node)
			if err != nil {
				return CycleCheck{}, err
			}
			for _, target := range targets {
				if _, seen := parent[target]; seen {
					continue
				}
				parent[target] = node
				if target == issueID {
					return CycleCheck{Path: tracePath(parent, issueID, dependsOnID)}, nil
				}
				next = append(next, target)
			}
		}
		frontier = next
	}
	return CycleCheck{}, nil
}

// tracePath rebuilds issueID → dependsOnID → ... → issueID from BFS parents.
func tracePath(parent map[string]string, issueID, dependsOnID string) []string {
	rev := []string{issueID}
	for node := parent[issueID]; node != dependsOnID; node = parent[node] {
		rev = append(rev, node)
	}
	rev = append(rev, dependsOnID, issueID)
	slices.Reverse(rev)
	return rev
}

// BlockingTargets implements EdgeSource.
func (s *Snapshot) BlockingTargets(_ context.Context, issueID string) ([]string, error) {
	var targets []string
	for _, dep := range s.out[issueID] {
		if dep.Type.AffectsReadyWork() {
			targets = append(targets, dep.DependsOnID)
		}
	}
	return targets, nil
}

// DetectCycles audits the whole graph and returns every distinct cycle among
// blocking-type edges. Each cycle is rotated so its smallest id comes first
// and ends where it starts.
func (s *Snapshot) DetectCycles() [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	seen := make(map[string]bool)
	var cycles [][]string
	var stack []string

	nodes := make([]string, 0, len(s.out))
	for id := range s.out {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range s.out[id] {
			if !dep.Type.AffectsReadyWork() {
				continue
			}
			next := dep.DependsOnID
			switch color[next] {
			case white:
				visit(next)
			case grey:
				idx := slices.Index(stack, next)
				cycle := canonicalCycle(stack[idx:])
				key := joinKey(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range nodes {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func canonicalCycle(members []string) []string {
	start := 0
	for i, id := range members {
		if id < members[start] {
			start = i
		}
	}
	cycle := make([]string, 0, len(members)+1)
	cycle = append(cycle, members[start:]...)
	cycle = append(cycle, members[:start]...)
	return append(cycle, cycle[0])
}

func joinKey(ids []string) string {
	n := 0
	for _, id := range ids {
		n += len(id) + 1
	}
	b := make([]byte, 0, n)
	for _, id := range ids {
		b = append(b, id...)
		b = append(b, 0)
	}
	return string(b)
}
