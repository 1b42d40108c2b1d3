package merge

import (
	"strconv"
	"strings"
	"time"

	"github.com/beadsync/beadsync/internal/types"
)

// field is one independently mergeable part of an issue. Fields that must
// stay consistent with each other, like status and closed_at, form a single
// field.
type field struct {
	name string
	// value renders the field for comparison and for the audit trail.
	value func(*types.Issue) string
	// take copies the field from src to dst.
	take func(dst, src *types.Issue)
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func intValue(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func strPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	// Distinguish "set to empty" from "unset".
	return "=" + *s
}

func boolValue(b bool) string {
	return strconv.FormatBool(b)
}

func stringField(name string, ptr func(*types.Issue) *string) field {
	return field{
		name:  name,
		value: func(i *types.Issue) string { return *ptr(i) },
		take:  func(dst, src *types.Issue) { *ptr(dst) = *ptr(src) },
	}
}

func boolField(name string, ptr func(*types.Issue) *bool) field {
	return field{
		name:  name,
		value: func(i *types.Issue) string { return boolValue(*ptr(i)) },
		take:  func(dst, src *types.Issue) { *ptr(dst) = *ptr(src) },
	}
}

func timePtrField(name string, ptr func(*types.Issue) **time.Time) field {
	return field{
		name:  name,
		value: func(i *types.Issue) string { return timeValue(*ptr(i)) },
		take:  func(dst, src *types.Issue) { *ptr(dst) = clone(*ptr(src)) },
	}
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// fields lists every mergeable column in a fixed order.
var fields = []field{
	stringField("title", func(i *types.Issue) *string { return &i.Title }),
	stringField("description", func(i *types.Issue) *string { return &i.Description }),
	stringField("design", func(i *types.Issue) *string { return &i.Design }),
	stringField("acceptance_criteria", func(i *types.Issue) *string { return &i.AcceptanceCriteria }),
	stringField("notes", func(i *types.Issue) *string { return &i.Notes }),
	{
		// Status carries its closing metadata so closed_at stays set iff closed.
		name: "status",
		value: func(i *types.Issue) string {
			return strings.Join([]string{string(i.Status), timeValue(i.ClosedAt), i.CloseReason, i.ClosedBySession}, "|")
		},
		take: func(dst, src *types.Issue) {
			dst.Status = src.Status
			dst.ClosedAt = clone(src.ClosedAt)
			dst.CloseReason = src.CloseReason
			dst.ClosedBySession = src.ClosedBySession
		},
	},
	{
		name:  "priority",
		value: func(i *types.Issue) string { return strconv.Itoa(i.Priority) },
		take:  func(dst, src *types.Issue) { dst.Priority = src.Priority },
	},
	{
		name:  "issue_type",
		value: func(i *types.Issue) string { return string(i.IssueType) },
		take:  func(dst, src *types.Issue) { dst.IssueType = src.IssueType },
	},
	stringField("assignee", func(i *types.Issue) *string { return &i.Assignee }),
	stringField("owner", func(i *types.Issue) *string { return &i.Owner }),
	{
		name:  "estimated_minutes",
		value: func(i *types.Issue) string { return intValue(i.EstimatedMinutes) },
		take:  func(dst, src *types.Issue) { dst.EstimatedMinutes = clone(src.EstimatedMinutes) },
	},
	timePtrField("due_at", func(i *types.Issue) **time.Time { return &i.DueAt }),
	timePtrField("defer_until", func(i *types.Issue) **time.Time { return &i.DeferUntil }),
	{
		name:  "external_ref",
		value: func(i *types.Issue) string { return strPtrValue(i.ExternalRef) },
		take:  func(dst, src *types.Issue) { dst.ExternalRef = clone(src.ExternalRef) },
	},
	stringField("source_system", func(i *types.Issue) *string { return &i.SourceSystem }),
	stringField("sender", func(i *types.Issue) *string { return &i.Sender }),
	boolField("ephemeral", func(i *types.Issue) *bool { return &i.Ephemeral }),
	boolField("pinned", func(i *types.Issue) *bool { return &i.Pinned }),
	boolField("is_template", func(i *types.Issue) *bool { return &i.IsTemplate }),
	{
		name: "compaction",
		value: func(i *types.Issue) string {
			return strings.Join([]string{strconv.Itoa(i.CompactionLevel), timeValue(i.CompactedAt), strconv.Itoa(i.OriginalSize)}, "|")
		},
		take: func(dst, src *types.Issue) {
			dst.CompactionLevel = src.CompactionLevel
			dst.CompactedAt = clone(src.CompactedAt)
			dst.OriginalSize = src.OriginalSize
		},
	},
}

// takeTombstone copies the deletion from src, whole.
func takeTombstone(dst, src *types.Issue) {
	dst.Status = src.Status
	dst.ClosedAt = clone(src.ClosedAt)
	dst.DeletedAt = clone(src.DeletedAt)
	dst.DeletedBy = src.DeletedBy
	dst.DeleteReason = src.DeleteReason
	dst.OriginalType = src.OriginalType
}

func clearTombstone(dst *types.Issue) {
	dst.DeletedAt = nil
	dst.DeletedBy = ""
	dst.DeleteReason = ""
	dst.OriginalType = ""
}
