package importer

import (
	"sort"
	"strings"

	"github.com/beadsync/beadsync/internal/types"
)

// normalize canonicalizes a decoded record in place. The content hash is
// always recomputed; a hash carried by the line is never trusted.
func normalize(issue *types.Issue) {
	issue.ID = canonicalID(issue.ID)
	issue.SetDefaults()

	if issue.Status == types.StatusTombstone && issue.DeletedAt == nil {
		// Old logs wrote tombstones without a deletion time.
		deleted := issue.UpdatedAt
		issue.DeletedAt = &deleted
	}

	seen := make(map[string]bool, len(issue.Labels))
	labels := issue.Labels[:0]
	for _, label := range issue.Labels {
		label = strings.TrimSpace(label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	sort.Strings(labels)
	issue.Labels = labels
	if len(issue.Labels) == 0 {
		issue.Labels = nil
	}

	byTarget := make(map[string]*types.Dependency, len(issue.Dependencies))
	var deps []*types.Dependency
	for _, dep := range issue.Dependencies {
		if dep == nil {
			continue
		}
		dep.IssueID = issue.ID
		dep.DependsOnID = canonicalID(dep.DependsOnID)
		if dep.Type == "" {
			dep.Type = types.DepBlocks
		}
		if dep.DependsOnID == "" || dep.DependsOnID == issue.ID {
			continue
		}
		if prev, ok := byTarget[dep.DependsOnID]; ok {
			// One edge per pair; the later line entry wins.
			*prev = *dep
			continue
		}
		byTarget[dep.DependsOnID] = dep
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].DependsOnID < deps[j].DependsOnID })
	issue.Dependencies = deps

	var comments []*types.Comment
	for _, c := range issue.Comments {
		if c == nil {
			continue
		}
		c.IssueID = issue.ID
		comments = append(comments, c)
	}
	issue.Comments = comments

	issue.ContentHash = issue.ComputeContentHash()
}

// canonicalID trims an issue reference and lowercases its prefix, so
// "BD-a1b2" and "bd-a1b2" name the same issue. References that are not
// plain prefix-suffix ids, like "external:proj:cap", are only trimmed.
func canonicalID(id string) string {
	id = strings.TrimSpace(id)
	if strings.ContainsAny(id, ": ") {
		return id
	}
	idx := strings.Index(id, "-")
	if idx <= 0 {
		return id
	}
	return strings.ToLower(id[:idx]) + id[idx:]
}
