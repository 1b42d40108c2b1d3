// Package merge reconciles two divergent versions of an issue against their
// common ancestor.
//
// Every field is merged on its own: a field changed on one side only takes
// that side, a field changed on both sides is settled by the Strategy, and
// each losing change is reported as a Supersession so it can be kept in the
// audit trail. Labels and dependencies merge as sets, comments are unioned.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// Strategy settles a field that both sides changed.
type Strategy string

const (
	// StrategyNewest keeps the side with the later updated_at. Ties go to
	// the incoming side.
	StrategyNewest Strategy = "newest"
	// StrategyOurs always keeps the local side.
	StrategyOurs Strategy = "ours"
	// StrategyTheirs always keeps the incoming side.
	StrategyTheirs Strategy = "theirs"
	// StrategyManual refuses to guess and fails with a *ConflictError.
	StrategyManual Strategy = "manual"
)

// ParseStrategy validates a strategy name. Empty means newest.
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.TrimSpace(value)); s {
	case "":
		return StrategyNewest, nil
	case StrategyNewest, StrategyOurs, StrategyTheirs, StrategyManual:
		return s, nil
	}
	return "", fmt.Errorf("invalid conflict strategy %q (valid: newest, ours, theirs, manual)", value)
}

// Side names one of the two merged versions.
type Side string

const (
	SideLocal    Side = "local"
	SideIncoming Side = "incoming"
)

// Supersession is a change that lost a conflict.
type Supersession struct {
	Field     string
	Loser     Side
	LostValue string
	KeptValue string
}

// ConflictError lists the fields a manual merge could not settle.
type ConflictError struct {
	IssueID string
	Fields  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("issue %s changed on both sides in %s; resolve manually or pick another conflict strategy",
		e.IssueID, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match storage.ErrConflict.
func (e *ConflictError) Unwrap() error { return storage.ErrConflict }

// Result is the outcome of merging one issue.
type Result struct {
	Issue      *types.Issue
	Superseded []Supersession
}

// merger carries the inputs of one ThreeWay call.
type merger struct {
	base, local, incoming *types.Issue
	strategy              Strategy
	conflicts             []string
	superseded            []Supersession
}

// ThreeWay merges local and incoming against base. base may be nil when the
// issue has no common ancestor, in which case every difference is a
// conflict. local and incoming must be non-nil and share an id.
func ThreeWay(base, local, incoming *types.Issue, strategy Strategy) (*Result, error) {
	if strategy == "" {
		strategy = StrategyNewest
	}
	m := &merger{base: base, local: local, incoming: incoming, strategy: strategy}

	var merged *types.Issue
	if local.IsTombstone() || incoming.IsTombstone() {
		merged = m.mergeDeletion()
	} else {
		merged = m.mergeFields()
	}
	if len(m.conflicts) > 0 {
		return nil, &ConflictError{IssueID: local.ID, Fields: m.conflicts}
	}

	merged.ID = local.ID
	merged.CreatedAt = earliest(local.CreatedAt, incoming.CreatedAt)
	if merged.CreatedBy == "" {
		merged.CreatedBy = incoming.CreatedBy
	}
	merged.UpdatedAt = latest(local.UpdatedAt, incoming.UpdatedAt)
	merged.Comments = mergeComments(local.Comments, incoming.Comments)
	for _, c := range merged.Comments {
		c.IssueID = merged.ID
	}
	merged.ContentHash = merged.ComputeContentHash()
	return &Result{Issue: merged, Superseded: m.superseded}, nil
}

// winner picks the side that keeps a field both sides changed. It returns
// "" under the manual strategy.
func (m *merger) winner() Side {
	switch m.strategy {
	case StrategyOurs:
		return SideLocal
	case StrategyTheirs:
		return SideIncoming
	case StrategyManual:
		return ""
	}
	if m.incoming.UpdatedAt.Before(m.local.UpdatedAt) {
		return SideLocal
	}
	return SideIncoming
}

func (m *merger) mergeFields() *types.Issue {
	merged := m.local.Clone()
	for _, f := range fields {
		l, i := f.value(m.local), f.value(m.incoming)
		if l == i {
			continue
		}
		if m.base != nil {
			b := f.value(m.base)
			if l == b {
				f.take(merged, m.incoming)
				continue
			}
			if i == b {
				continue
			}
		}
		switch m.winner() {
		case "":
			m.conflicts = append(m.conflicts, f.name)
		case SideIncoming:
			f.take(merged, m.incoming)
			m.superseded = append(m.superseded, Supersession{Field: f.name, Loser: SideLocal, LostValue: l, KeptValue: i})
		default:
			m.superseded = append(m.superseded, Supersession{Field: f.name, Loser: SideIncoming, LostValue: i, KeptValue: l})
		}
	}

	var baseLabels []string
	var baseDeps []*types.Dependency
	if m.base != nil {
		baseLabels, baseDeps = m.base.Labels, m.base.Dependencies
	}
	merged.Labels = mergeLabels(baseLabels, m.local.Labels, m.incoming.Labels)
	merged.Dependencies = m.mergeDependencies(baseDeps)
	for _, dep := range merged.Dependencies {
		dep.IssueID = m.local.ID
	}
	return merged
}

// mergeDeletion settles an issue deleted on at least one side. A deletion
// wins over a live edit unless that edit is newer than the deletion.
func (m *merger) mergeDeletion() *types.Issue {
	if m.local.IsTombstone() && m.incoming.IsTombstone() {
		// Both deleted: the later deletion is authoritative.
		if deletedAt(m.incoming).Before(deletedAt(m.local)) {
			return m.local.Clone()
		}
		merged := m.local.Clone()
		takeTombstone(merged, m.incoming)
		return merged
	}

	tomb, live, liveSide, tombSide := m.local, m.incoming, SideIncoming, SideLocal
	if m.incoming.IsTombstone() {
		tomb, live, liveSide, tombSide = m.incoming, m.local, SideLocal, SideIncoming
	}
	liveEdited := m.base == nil || !SameState(m.base, live)
	liveStatus := fields[statusField].value(live)

	if liveEdited && live.UpdatedAt.After(deletedAt(tomb)) {
		merged := live.Clone()
		clearTombstone(merged)
		m.superseded = append(m.superseded, Supersession{Field: "deleted", Loser: tombSide, LostValue: string(types.StatusTombstone), KeptValue: liveStatus})
		return merged
	}
	merged := tomb.Clone()
	if liveEdited {
		m.superseded = append(m.superseded, Supersession{Field: "deleted", Loser: liveSide, LostValue: liveStatus, KeptValue: string(types.StatusTombstone)})
	}
	return merged
}

// statusField is the index of the status entry in fields.
var statusField = func() int {
	for i, f := range fields {
		if f.name == "status" {
			return i
		}
	}
	panic("merge: no status field")
}()

func deletedAt(issue *types.Issue) time.Time {
	if issue.DeletedAt != nil {
		return *issue.DeletedAt
	}
	return issue.UpdatedAt
}

// mergeLabels keeps a label both sides have, or one that a side added. A
// label in base that either side removed is dropped.
func mergeLabels(base, local, incoming []string) []string {
	inBase := toSet(base)
	inLocal := toSet(local)
	inIncoming := toSet(incoming)

	var result []string
	for label := range union(inLocal, inIncoming) {
		if (inLocal[label] && inIncoming[label]) || !inBase[label] {
			result = append(result, label)
		}
	}
	sort.Strings(result)
	return result
}

// mergeDependencies applies the label rule to edges keyed by target. An
// edge both sides kept with different types is a field conflict.
func (m *merger) mergeDependencies(base []*types.Dependency) []*types.Dependency {
	inBase := depsByTarget(base)
	inLocal := depsByTarget(m.local.Dependencies)
	inIncoming := depsByTarget(m.incoming.Dependencies)

	targets := make([]string, 0, len(inLocal)+len(inIncoming))
	for target := range inLocal {
		targets = append(targets, target)
	}
	for target := range inIncoming {
		if _, ok := inLocal[target]; !ok {
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)

	var result []*types.Dependency
	for _, target := range targets {
		l, i, b := inLocal[target], inIncoming[target], inBase[target]
		switch {
		case l != nil && i != nil:
			result = append(result, m.pickDependency(b, l, i))
		case b == nil && l != nil:
			result = append(result, clone(l))
		case b == nil && i != nil:
			result = append(result, clone(i))
		}
	}
	return result
}

func (m *merger) pickDependency(base, local, incoming *types.Dependency) *types.Dependency {
	if local.Type == incoming.Type {
		return clone(local)
	}
	if base != nil && base.Type == local.Type {
		return clone(incoming)
	}
	if base != nil && base.Type == incoming.Type {
		return clone(local)
	}
	name := "dependency " + local.DependsOnID
	switch m.winner() {
	case "":
		m.conflicts = append(m.conflicts, name)
		return clone(local)
	case SideIncoming:
		m.superseded = append(m.superseded, Supersession{Field: name, Loser: SideLocal, LostValue: string(local.Type), KeptValue: string(incoming.Type)})
		return clone(incoming)
	default:
		m.superseded = append(m.superseded, Supersession{Field: name, Loser: SideIncoming, LostValue: string(incoming.Type), KeptValue: string(local.Type)})
		return clone(local)
	}
}

// commentKey identifies a comment across stores, whose ids differ.
func commentKey(c *types.Comment) string {
	return c.Author + "\x00" + c.Text + "\x00" + c.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// mergeComments unions both sides, ordered by time.
func mergeComments(local, incoming []*types.Comment) []*types.Comment {
	seen := make(map[string]bool, len(local)+len(incoming))
	var result []*types.Comment
	for _, list := range [][]*types.Comment{local, incoming} {
		for _, c := range list {
			key := commentKey(c)
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, clone(c))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// SameState reports whether two versions of an issue agree on every merged
// field, their deletion, labels, dependencies and comments. Timestamps other
// than the merged ones are ignored.
func SameState(a, b *types.Issue) bool {
	for _, f := range fields {
		if f.value(a) != f.value(b) {
			return false
		}
	}
	if timeValue(a.DeletedAt) != timeValue(b.DeletedAt) || a.DeleteReason != b.DeleteReason {
		return false
	}
	if !setsEqual(toSet(a.Labels), toSet(b.Labels)) {
		return false
	}
	da, db := depsByTarget(a.Dependencies), depsByTarget(b.Dependencies)
	if len(da) != len(db) {
		return false
	}
	for target, dep := range da {
		other, ok := db[target]
		if !ok || other.Type != dep.Type {
			return false
		}
	}
	ca, cb := make(map[string]bool), make(map[string]bool)
	for _, c := range a.Comments {
		ca[commentKey(c)] = true
	}
	for _, c := range b.Comments {
		cb[commentKey(c)] = true
	}
	return setsEqual(ca, cb)
}

func depsByTarget(deps []*types.Dependency) map[string]*types.Dependency {
	out := make(map[string]*types.Dependency, len(deps))
	for _, dep := range deps {
		if dep != nil {
			out[dep.DependsOnID] = dep
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() || (!b.IsZero() && b.Before(a)) {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
