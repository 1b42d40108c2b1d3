package types

import "strings"

// IssueSortField names a column issue listings can be ordered by.
type IssueSortField string

// Sortable fields
const (
	SortFieldPriority IssueSortField = "priority"
	SortFieldCreated  IssueSortField = "created"
	SortFieldUpdated  IssueSortField = "updated"
	SortFieldTitle    IssueSortField = "title"
	SortFieldID       IssueSortField = "id"
)

// SortDirection is ascending or descending.
type SortDirection string

// Sort directions
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// IssueSortOption is one key of a multi-key ordering.
type IssueSortOption struct {
	Field     IssueSortField
	Direction SortDirection
}

// DefaultIssueSortOptions returns the default ordering for issue queries:
// priority ascending, then newest first.
func DefaultIssueSortOptions() []IssueSortOption {
	return []IssueSortOption{
		{Field: SortFieldPriority, Direction: SortAsc},
		{Field: SortFieldCreated, Direction: SortDesc},
	}
}

// ParseIssueSortOrder converts a comma-delimited string (e.g. "priority-asc,updated:desc")
// into sort options. A bare field sorts ascending. Unrecognised tokens and
// repeated fields are skipped.
func ParseIssueSortOrder(raw string) []IssueSortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var options []IssueSortOption
	seen := make(map[IssueSortField]bool)
	for _, part := range strings.Split(raw, ",") {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}

		field, dir := token, "asc"
		if idx := strings.IndexAny(token, ":-"); idx >= 0 {
			field, dir = strings.TrimSpace(token[:idx]), strings.TrimSpace(token[idx+1:])
		}

		sortField := mapSortField(field)
		direction := mapSortDirection(dir)
		if sortField == "" || direction == "" || seen[sortField] {
			continue
		}
		seen[sortField] = true
		options = append(options, IssueSortOption{Field: sortField, Direction: direction})
	}
	return options
}

// EncodeIssueSortOrder is the inverse of ParseIssueSortOrder.
func EncodeIssueSortOrder(options []IssueSortOption) string {
	tokens := make([]string, 0, len(options))
	for _, opt := range options {
		if opt.Field == "" || opt.Direction == "" {
			continue
		}
		tokens = append(tokens, string(opt.Field)+"-"+string(opt.Direction))
	}
	return strings.Join(tokens, ",")
}

func mapSortField(raw string) IssueSortField {
	switch raw {
	case "updated", "updated_at":
		return SortFieldUpdated
	case "created", "created_at", "age":
		return SortFieldCreated
	case "priority":
		return SortFieldPriority
	case "title":
		return SortFieldTitle
	case "id":
		return SortFieldID
	default:
		return ""
	}
}

func mapSortDirection(raw string) SortDirection {
	switch raw {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	default:
		return ""
	}
}
