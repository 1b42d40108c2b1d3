package importer

import (
	"sort"
	"strings"

	"github.com/beadsync/beadsync/internal/idgen"
	"github.com/beadsync/beadsync/internal/types"
)

// remapLength is the hash length of a remapped id.
const remapLength = 6

// Collision is an incoming record that was created independently of a
// local issue holding the same id.
type Collision struct {
	OldID string
	NewID string
}

// detectCollisions remaps every incoming record whose id is held locally by
// a different issue: one that is absent from the base snapshot, differs in
// content and was created at another time. The new id depends only on the
// old id and content, so every clone picks the same one.
func detectCollisions(incoming []*types.Issue, local, base map[string]*types.Issue, hasBase bool, fallbackPrefix string) map[string]string {
	if !hasBase {
		return nil
	}
	taken := make(map[string]bool, len(local)+len(incoming))
	for id := range local {
		taken[id] = true
	}
	for _, issue := range incoming {
		taken[issue.ID] = true
	}

	mapping := make(map[string]string)
	for _, issue := range incoming {
		existing, ok := local[issue.ID]
		if !ok || base[issue.ID] != nil {
			continue
		}
		if existing.ContentHash == issue.ContentHash || existing.CreatedAt.Equal(issue.CreatedAt) {
			continue
		}
		prefix := idgen.ExtractPrefix(issue.ID)
		if prefix == "" {
			prefix = fallbackPrefix
		}
		for nonce := 0; ; nonce++ {
			candidate := idgen.GenerateRemapID(prefix, issue.ID, issue.ContentHash, remapLength, nonce)
			if !taken[candidate] {
				taken[candidate] = true
				mapping[issue.ID] = candidate
				break
			}
		}
	}
	return mapping
}

// detectDuplicates maps incoming records that are new to both the store and
// the base, yet repeat a live local issue's content and creation time under
// another id, onto that local issue.
func detectDuplicates(incoming []*types.Issue, local, base map[string]*types.Issue) map[string]string {
	type key struct {
		hash    string
		created int64
	}
	byContent := make(map[key]string, len(local))
	for id, issue := range local {
		if !issue.IsTombstone() {
			byContent[key{issue.ContentHash, issue.CreatedAt.UnixNano()}] = id
		}
	}

	mapping := make(map[string]string)
	for _, issue := range incoming {
		if local[issue.ID] != nil || base[issue.ID] != nil || issue.IsTombstone() {
			continue
		}
		if id, ok := byContent[key{issue.ContentHash, issue.CreatedAt.UnixNano()}]; ok && id != issue.ID {
			mapping[issue.ID] = id
		}
	}
	return mapping
}

// rewriteReferences applies idMapping to the ids, edges and free text of
// the incoming records.
func rewriteReferences(issues []*types.Issue, idMapping map[string]string) {
	if len(idMapping) == 0 {
		return
	}
	for _, issue := range issues {
		if newID, ok := idMapping[issue.ID]; ok {
			issue.ID = newID
		}
		issue.Title = replaceIDReferences(issue.Title, idMapping)
		issue.Description = replaceIDReferences(issue.Description, idMapping)
		issue.Design = replaceIDReferences(issue.Design, idMapping)
		issue.AcceptanceCriteria = replaceIDReferences(issue.AcceptanceCriteria, idMapping)
		issue.Notes = replaceIDReferences(issue.Notes, idMapping)
		for _, dep := range issue.Dependencies {
			dep.IssueID = issue.ID
			if newID, ok := idMapping[dep.DependsOnID]; ok {
				dep.DependsOnID = newID
			}
		}
		for _, c := range issue.Comments {
			c.IssueID = issue.ID
			c.Text = replaceIDReferences(c.Text, idMapping)
		}
		normalize(issue)
	}
}

// replaceIDReferences replaces all old issue ID references with new ones in text
func replaceIDReferences(text string, idMapping map[string]string) string {
	if len(idMapping) == 0 || text == "" {
		return text
	}

	// Longer IDs first so bd-abc.1 is not rewritten as bd-abc plus ".1".
	oldIDs := make([]string, 0, len(idMapping))
	for oldID := range idMapping {
		oldIDs = append(oldIDs, oldID)
	}
	sort.Slice(oldIDs, func(i, j int) bool {
		if len(oldIDs[i]) != len(oldIDs[j]) {
			return len(oldIDs[i]) > len(oldIDs[j])
		}
		return oldIDs[i] < oldIDs[j]
	})

	result := text
	for _, oldID := range oldIDs {
		result = replaceBoundaryAware(result, oldID, idMapping[oldID])
	}
	return result
}

// replaceBoundaryAware replaces oldID with newID only when surrounded by boundaries
func replaceBoundaryAware(text, oldID, newID string) string {
	if !strings.Contains(text, oldID) {
		return text
	}

	var result strings.Builder
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], oldID)
		if idx == -1 {
			result.WriteString(text[i:])
			break
		}

		actualIdx := i + idx
		beforeOK := actualIdx == 0 || isBoundary(text[actualIdx-1])
		afterIdx := actualIdx + len(oldID)
		// A following ".N" is a child id, not a sentence end.
		afterOK := afterIdx >= len(text) || (isBoundary(text[afterIdx]) && !childSuffixAt(text, afterIdx))

		result.WriteString(text[i:actualIdx])
		if beforeOK && afterOK {
			result.WriteString(newID)
		} else {
			result.WriteString(oldID)
		}
		i = afterIdx
	}
	return result.String()
}

func childSuffixAt(text string, i int) bool {
	return text[i] == '.' && i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9'
}

func isBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' || c == '.' || c == '!' || c == '?' || c == ':' || c == ';' || c == '(' || c == ')' || c == '[' || c == ']' || c == '{' || c == '}'
}
