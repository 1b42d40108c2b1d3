// Package graph computes blocked and ready status, cycles and dependency
// trees over the issue dependency relation.
//
// The engine works on a Snapshot (issues plus edges) or on an EdgeSource that
// fetches edges lazily, so it does not care which store the data came from.
package graph

import (
	"encoding/json"
	"strings"

	"github.com/beadsync/beadsync/internal/types"
)

// MaxCycleDepth bounds the reachability search run before a blocking edge is
// committed. Reaching it rejects the edge.
const MaxCycleDepth = 100

// maxParentDepth bounds the propagation of blockage from parents to children.
const maxParentDepth = 50

// WaitsForMode selects when a waits-for gate opens.
type WaitsForMode string

// Waits-for gate modes
const (
	WaitsForAllChildren WaitsForMode = "all-children"
	WaitsForAnyChildren WaitsForMode = "any-children"
)

// IsValid reports whether m is a known gate mode.
func (m WaitsForMode) IsValid() bool {
	return m == WaitsForAllChildren || m == WaitsForAnyChildren
}

// DefaultFailureReasons are the close-reason keywords that count as a failed
// outcome for conditional-blocks edges.
var DefaultFailureReasons = []string{
	"failed", "rejected", "wontfix", "canceled", "cancelled",
	"abandoned", "blocked", "error", "timeout", "aborted",
}

// Policy holds the tunable parts of the blocking rules.
type Policy struct {
	// ConditionalFailureReasons are matched case-insensitively as substrings of
	// the target's close reason.
	ConditionalFailureReasons []string

	// WaitsFor is the gate mode used when an edge carries no gate metadata.
	WaitsFor WaitsForMode

	// AbsentIsResolved treats edges to missing or tombstoned targets as
	// satisfied. When false such edges keep the source blocked.
	AbsentIsResolved bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		ConditionalFailureReasons: append([]string(nil), DefaultFailureReasons...),
		WaitsFor:                  WaitsForAllChildren,
		AbsentIsResolved:          true,
	}
}

// IsFailureReason reports whether a close reason counts as a failure.
func (p Policy) IsFailureReason(reason string) bool {
	if reason == "" {
		return false
	}
	lower := strings.ToLower(reason)
	for _, kw := range p.ConditionalFailureReasons {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// waitsForGate returns the gate mode for a waits-for edge. The edge metadata
// {"gate": "..."} wins over the policy default.
func (p Policy) waitsForGate(dep *types.Dependency) WaitsForMode {
	if dep.Metadata != "" {
		var meta struct {
			Gate string `json:"gate"`
		}
		if err := json.Unmarshal([]byte(dep.Metadata), &meta); err == nil {
			if mode := WaitsForMode(strings.TrimSpace(meta.Gate)); mode.IsValid() {
				return mode
			}
		}
	}
	if p.WaitsFor.IsValid() {
		return p.WaitsFor
	}
	return WaitsForAllChildren
}

// Snapshot is an immutable view of issues and their edges.
type Snapshot struct {
	issues map[string]*types.Issue
	order  []string
	out    map[string][]*types.Dependency
	in     map[string][]*types.Dependency
}

// NewSnapshot indexes issues and edges. Edges whose source is unknown are kept;
// they simply never contribute to an issue's status.
func NewSnapshot(issues []*types.Issue, deps []*types.Dependency) *Snapshot {
	s := &Snapshot{
		issues: make(map[string]*types.Issue, len(issues)),
		out:    make(map[string][]*types.Dependency),
		in:     make(map[string][]*types.Dependency),
	}
	for _, issue := range issues {
		if issue == nil {
			continue
		}
		if _, dup := s.issues[issue.ID]; !dup {
			s.order = append(s.order, issue.ID)
		}
		s.issues[issue.ID] = issue
	}
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		s.out[dep.IssueID] = append(s.out[dep.IssueID], dep)
		s.in[dep.DependsOnID] = append(s.in[dep.DependsOnID], dep)
	}
	return s
}

// FromIssues builds a snapshot from issues that carry their own Dependencies.
func FromIssues(issues []*types.Issue) *Snapshot {
	var deps []*types.Dependency
	for _, issue := range issues {
		if issue == nil {
			continue
		}
		for _, dep := range issue.Dependencies {
			if dep.IssueID == "" {
				d := *dep
				d.IssueID = issue.ID
				dep = &d
			}
			deps = append(deps, dep)
		}
	}
	return NewSnapshot(issues, deps)
}

// Issue returns the issue with the given id, or nil.
func (s *Snapshot) Issue(id string) *types.Issue {
	return s.issues[id]
}

// Len returns the number of issues in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.issues)
}

// Outgoing returns the edges whose source is id.
func (s *Snapshot) Outgoing(id string) []*types.Dependency {
	return s.out[id]
}

// Incoming returns the edges whose target is id.
func (s *Snapshot) Incoming(id string) []*types.Dependency {
	return s.in[id]
}

// active reports whether the issue exists and is not terminal.
func active(issue *types.Issue) bool {
	return issue != nil && !issue.Status.IsTerminal()
}

// absent reports whether the target of an edge should be treated as gone.
func absent(issue *types.Issue) bool {
	return issue == nil || issue.IsTombstone()
}
