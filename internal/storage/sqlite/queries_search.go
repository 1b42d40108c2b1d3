package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/types"
)

// sortColumns maps sort fields onto columns. Only these strings reach ORDER BY.
var sortColumns = map[types.IssueSortField]string{
	types.SortFieldPriority: "priority",
	types.SortFieldCreated:  "created_at",
	types.SortFieldUpdated:  "updated_at",
	types.SortFieldTitle:    "title COLLATE NOCASE",
	types.SortFieldID:       "id",
}

func orderByClause(options []types.IssueSortOption) string {
	if len(options) == 0 {
		options = types.DefaultIssueSortOptions()
	}
	var parts []string
	hasID := false
	for _, opt := range options {
		col, ok := sortColumns[opt.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if opt.Direction == types.SortDesc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
		hasID = hasID || opt.Field == types.SortFieldID
	}
	if !hasID {
		parts = append(parts, "id ASC")
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// likeEscape escapes LIKE wildcards so user text matches literally.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func containsPattern(s string) string {
	return "%" + likeEscape(s) + "%"
}

// buildSearchWhere turns the text query and filter into a WHERE clause.
func buildSearchWhere(query string, filter types.IssueFilter) (string, []interface{}) {
	whereClauses := []string{}
	args := []interface{}{}

	if query = strings.TrimSpace(query); query != "" {
		whereClauses = append(whereClauses, `(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR id LIKE ? ESCAPE '\')`)
		pattern := containsPattern(query)
		args = append(args, pattern, pattern, pattern)
	}

	if filter.TitleSearch != "" {
		whereClauses = append(whereClauses, `title LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(filter.TitleSearch))
	}

	// Pattern matching
	if filter.TitleContains != "" {
		whereClauses = append(whereClauses, `title LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(filter.TitleContains))
	}
	if filter.DescriptionContains != "" {
		whereClauses = append(whereClauses, `description LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(filter.DescriptionContains))
	}
	if filter.NotesContains != "" {
		whereClauses = append(whereClauses, `notes LIKE ? ESCAPE '\'`)
		args = append(args, containsPattern(filter.NotesContains))
	}

	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(*filter.Status))
	} else if !filter.IncludeTombstones {
		whereClauses = append(whereClauses, "status != ?")
		args = append(args, string(types.StatusTombstone))
	}

	if filter.Priority != nil {
		whereClauses = append(whereClauses, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.PriorityMin != nil {
		whereClauses = append(whereClauses, "priority >= ?")
		args = append(args, *filter.PriorityMin)
	}
	if filter.PriorityMax != nil {
		whereClauses = append(whereClauses, "priority <= ?")
		args = append(args, *filter.PriorityMax)
	}

	if filter.IssueType != nil {
		whereClauses = append(whereClauses, "issue_type = ?")
		args = append(args, string(*filter.IssueType))
	}

	if filter.Assignee != nil {
		whereClauses = append(whereClauses, "assignee = ?")
		args = append(args, *filter.Assignee)
	}

	if filter.IDPrefix != "" {
		whereClauses = append(whereClauses, `id LIKE ? ESCAPE '\'`)
		args = append(args, likeEscape(filter.IDPrefix)+"%")
	}

	// Date ranges. Stored timestamps are fixed-width UTC so string comparison orders them.
	dateRanges := []struct {
		clause string
		value  interface{}
	}{
		{"created_at > ?", formatNullableTime(filter.CreatedAfter)},
		{"created_at < ?", formatNullableTime(filter.CreatedBefore)},
		{"updated_at > ?", formatNullableTime(filter.UpdatedAfter)},
		{"updated_at < ?", formatNullableTime(filter.UpdatedBefore)},
		{"closed_at > ?", formatNullableTime(filter.ClosedAfter)},
		{"closed_at < ?", formatNullableTime(filter.ClosedBefore)},
		{"(due_at IS NOT NULL AND due_at < ?)", formatNullableTime(filter.DueBefore)},
	}
	for _, r := range dateRanges {
		if r.value != nil {
			whereClauses = append(whereClauses, r.clause)
			args = append(args, r.value)
		}
	}

	// Empty/null checks
	if filter.EmptyDescription {
		whereClauses = append(whereClauses, "(description IS NULL OR description = '')")
	}
	if filter.NoAssignee {
		whereClauses = append(whereClauses, "(assignee IS NULL OR assignee = '')")
	}
	if filter.NoLabels {
		whereClauses = append(whereClauses, "id NOT IN (SELECT DISTINCT issue_id FROM labels)")
	}

	// Label filtering: issue must have ALL specified labels
	for _, label := range filter.Labels {
		whereClauses = append(whereClauses, "id IN (SELECT issue_id FROM labels WHERE label = ?)")
		args = append(args, label)
	}

	// Label filtering (OR): issue must have AT LEAST ONE of these labels
	if len(filter.LabelsAny) > 0 {
		for _, label := range filter.LabelsAny {
			args = append(args, label)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("id IN (SELECT issue_id FROM labels WHERE label IN (%s))", placeholders(len(filter.LabelsAny))))
	}

	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			args = append(args, id)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("id IN (%s)", placeholders(len(filter.IDs))))
	}

	flags := []struct {
		value  *bool
		column string
	}{
		{filter.Pinned, "pinned"},
		{filter.IsTemplate, "is_template"},
		{filter.Ephemeral, "ephemeral"},
	}
	for _, f := range flags {
		if f.value == nil {
			continue
		}
		if *f.value {
			whereClauses = append(whereClauses, f.column+" = 1")
		} else {
			whereClauses = append(whereClauses, "("+f.column+" = 0 OR "+f.column+" IS NULL)")
		}
	}

	if len(whereClauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(whereClauses, " AND "), args
}

// SearchIssues finds issues matching query and filter, with labels attached.
func (s *SQLiteStorage) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	whereSQL, args := buildSearchWhere(query, filter)

	pageSQL := ""
	if filter.Limit > 0 {
		pageSQL = " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			pageSQL += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		pageSQL = " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	// #nosec G201 - safe SQL with controlled formatting
	querySQL := fmt.Sprintf(`SELECT %s FROM issues %s %s%s`, issueColumns, whereSQL, orderByClause(filter.Sort), pageSQL)

	var issues []*types.Issue
	err := s.readTx(ctx, func(q dbtx) error {
		rows, err := q.QueryContext(ctx, querySQL, args...)
		if err != nil {
			return wrapDBError("search issues", err)
		}
		if issues, err = scanIssues(rows); err != nil {
			return err
		}
		return attachLabels(ctx, q, issues)
	})
	return issues, err
}
