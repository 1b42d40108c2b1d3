package sqlite

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beadsync/beadsync/internal/types"
)

// allowedUpdateFields lists the keys UpdateIssue accepts. Anything else is
// rejected before it reaches SQL.
var allowedUpdateFields = map[string]bool{
	"status":              true,
	"priority":            true,
	"title":               true,
	"assignee":            true,
	"owner":               true,
	"description":         true,
	"design":              true,
	"acceptance_criteria": true,
	"notes":               true,
	"issue_type":          true,
	"estimated_minutes":   true,
	"external_ref":        true,
	"closed_at":           true,
	"close_reason":        true,
	"due_at":              true,
	"defer_until":         true,
	"source_system":       true,
	"sender":              true,
	"ephemeral":           true,
	"pinned":              true,
	"is_template":         true,
}

func asString(key string, value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case *string:
		if v == nil {
			return "", nil
		}
		return *v, nil
	case types.Status:
		return string(v), nil
	case types.IssueType:
		return string(v), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("field %s: expected string, got %T", key, value)
}

func asOptionalString(key string, value interface{}) (*string, error) {
	if value == nil {
		return nil, nil
	}
	if p, ok := value.(*string); ok {
		return p, nil
	}
	s, err := asString(key, value)
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func asInt(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("field %s: %v is not an integer", key, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("field %s: expected integer, got %T", key, value)
}

func asOptionalInt(key string, value interface{}) (*int, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *int:
		return v, nil
	}
	n, err := asInt(key, value)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func asOptionalTime(key string, value interface{}) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, ok := parseTimeString(v)
		if !ok {
			return nil, fmt.Errorf("field %s: cannot parse time %q", key, v)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("field %s: expected time, got %T", key, value)
}

func asBool(key string, value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	}
	return false, fmt.Errorf("field %s: expected bool, got %T", key, value)
}

// applyUpdates writes the patch onto issue. Keys are checked against
// allowedUpdateFields and values converted to the field's type.
func applyUpdates(issue *types.Issue, updates map[string]interface{}) error {
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !allowedUpdateFields[key] {
			return fmt.Errorf("invalid field for update: %s", key)
		}
		value := updates[key]
		var err error
		switch key {
		case "status":
			var s string
			s, err = asString(key, value)
			issue.Status = types.Status(strings.TrimSpace(s))
		case "priority":
			issue.Priority, err = asInt(key, value)
		case "title":
			issue.Title, err = asString(key, value)
		case "assignee":
			issue.Assignee, err = asString(key, value)
		case "owner":
			issue.Owner, err = asString(key, value)
		case "description":
			issue.Description, err = asString(key, value)
		case "design":
			issue.Design, err = asString(key, value)
		case "acceptance_criteria":
			issue.AcceptanceCriteria, err = asString(key, value)
		case "notes":
			issue.Notes, err = asString(key, value)
		case "issue_type":
			var s string
			s, err = asString(key, value)
			issue.IssueType = types.IssueType(strings.TrimSpace(s))
		case "estimated_minutes":
			issue.EstimatedMinutes, err = asOptionalInt(key, value)
		case "external_ref":
			issue.ExternalRef, err = asOptionalString(key, value)
		case "closed_at":
			issue.ClosedAt, err = asOptionalTime(key, value)
		case "close_reason":
			issue.CloseReason, err = asString(key, value)
		case "due_at":
			issue.DueAt, err = asOptionalTime(key, value)
		case "defer_until":
			issue.DeferUntil, err = asOptionalTime(key, value)
		case "source_system":
			issue.SourceSystem, err = asString(key, value)
		case "sender":
			issue.Sender, err = asString(key, value)
		case "ephemeral":
			issue.Ephemeral, err = asBool(key, value)
		case "pinned":
			issue.Pinned, err = asBool(key, value)
		case "is_template":
			issue.IsTemplate, err = asBool(key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// manageClosedAt keeps closed_at consistent with a status change made by a
// patch: entering closed stamps it, leaving closed clears it together with
// the close reason. An explicit closed_at in the patch wins.
func manageClosedAt(old, updated *types.Issue, updates map[string]interface{}, now time.Time) {
	if _, explicit := updates["closed_at"]; explicit {
		return
	}
	switch {
	case updated.Status == types.StatusClosed && old.Status != types.StatusClosed:
		t := now
		updated.ClosedAt = &t
	case updated.Status != types.StatusClosed && updated.Status != types.StatusTombstone && old.Status == types.StatusClosed:
		updated.ClosedAt = nil
		if _, ok := updates["close_reason"]; !ok {
			updated.CloseReason = ""
		}
		updated.ClosedBySession = ""
	}
}

// determineEventType determines the event type for an update based on old and new status
func determineEventType(old, updated *types.Issue) types.EventType {
	switch {
	case old.Status == updated.Status:
		return types.EventUpdated
	case updated.Status == types.StatusClosed:
		return types.EventClosed
	case old.Status == types.StatusClosed:
		return types.EventReopened
	}
	return types.EventStatusChanged
}
