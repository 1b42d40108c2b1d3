// Package types defines core data structures for the bd issue tracker.
package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTitleLength is the maximum number of characters allowed in a title.
const MaxTitleLength = 500

// Issue represents a trackable work item.
//
// Optional values are pointers: a nil ClosedAt means "not closed", never the
// zero time.
type Issue struct {
	ID                 string     `json:"id"`
	ContentHash        string     `json:"-"` // Derived from semantic fields; recomputed on every write, never read from the log
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Design             string     `json:"design,omitempty"`
	AcceptanceCriteria string     `json:"acceptance_criteria,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Status             Status     `json:"status,omitempty"`
	Priority           int        `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	IssueType          IssueType  `json:"issue_type,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	Owner              string     `json:"owner,omitempty"`
	EstimatedMinutes   *int       `json:"estimated_minutes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CreatedBy          string     `json:"created_by,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	CloseReason        string     `json:"close_reason,omitempty"`
	ClosedBySession    string     `json:"closed_by_session,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	DeferUntil         *time.Time `json:"defer_until,omitempty"` // Hidden from ready work until this time passes
	ExternalRef        *string    `json:"external_ref,omitempty"`
	SourceSystem       string     `json:"source_system,omitempty"`
	SourceRepo         string     `json:"-"`
	CompactionLevel    int        `json:"compaction_level,omitempty"`
	CompactedAt        *time.Time `json:"compacted_at,omitempty"`
	OriginalSize       int        `json:"original_size,omitempty"`

	// Tombstone fields: soft-delete support
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
	OriginalType string     `json:"original_type,omitempty"` // Issue type before deletion

	Sender     string `json:"sender,omitempty"`
	Ephemeral  bool   `json:"ephemeral,omitempty"`
	Pinned     bool   `json:"pinned,omitempty"`
	IsTemplate bool   `json:"is_template,omitempty"`

	// Populated only for export/import
	Labels       []string      `json:"labels,omitempty"`
	Dependencies []*Dependency `json:"dependencies,omitempty"`
	Comments     []*Comment    `json:"comments,omitempty"`
}

// IsTombstone returns true if the issue has been soft-deleted.
func (i *Issue) IsTombstone() bool {
	return i.Status == StatusTombstone
}

// IsDeferred reports whether defer_until is set and still in the future at now.
func (i *Issue) IsDeferred(now time.Time) bool {
	return i.DeferUntil != nil && i.DeferUntil.After(now)
}

// Validate checks if the issue has valid field values (built-in statuses and types only).
func (i *Issue) Validate() error {
	return i.ValidateWithCustom(nil, nil)
}

// ValidateWithCustom checks if the issue has valid field values,
// allowing custom statuses and types in addition to built-in ones.
func (i *Issue) ValidateWithCustom(customStatuses, customTypes []string) error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if n := utf8.RuneCountInString(i.Title); n > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValidWithCustom(customStatuses) {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if !i.IssueType.IsValidWithCustom(customTypes) {
		return fmt.Errorf("invalid issue type: %s", i.IssueType)
	}
	if i.EstimatedMinutes != nil && *i.EstimatedMinutes < 0 {
		return fmt.Errorf("estimated_minutes cannot be negative")
	}
	// closed_at is set iff status is closed; tombstones are exempt and may keep it
	if i.Status == StatusClosed && i.ClosedAt == nil {
		return fmt.Errorf("closed issues must have closed_at timestamp")
	}
	if i.Status != StatusClosed && i.Status != StatusTombstone && i.ClosedAt != nil {
		return fmt.Errorf("non-closed issues cannot have closed_at timestamp")
	}
	if i.Status == StatusTombstone && i.DeletedAt == nil {
		return fmt.Errorf("tombstone issues must have deleted_at timestamp")
	}
	if i.Status != StatusTombstone && i.DeletedAt != nil {
		return fmt.Errorf("non-tombstone issues cannot have deleted_at timestamp")
	}
	return nil
}

// SetDefaults applies default values for fields omitted in a log record.
// Priority is left alone: 0 is a valid P0 and cannot be told apart from "omitted".
func (i *Issue) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
	if i.IssueType == "" {
		i.IssueType = TypeTask
	}
}

// Clone returns a deep copy of the issue, including sub-records.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	c.EstimatedMinutes = clonePtr(i.EstimatedMinutes)
	c.ClosedAt = clonePtr(i.ClosedAt)
	c.DueAt = clonePtr(i.DueAt)
	c.DeferUntil = clonePtr(i.DeferUntil)
	c.ExternalRef = clonePtr(i.ExternalRef)
	c.CompactedAt = clonePtr(i.CompactedAt)
	c.DeletedAt = clonePtr(i.DeletedAt)
	if i.Labels != nil {
		c.Labels = append([]string(nil), i.Labels...)
	}
	if i.Dependencies != nil {
		c.Dependencies = make([]*Dependency, len(i.Dependencies))
		for n, d := range i.Dependencies {
			dc := *d
			c.Dependencies[n] = &dc
		}
	}
	if i.Comments != nil {
		c.Comments = make([]*Comment, len(i.Comments))
		for n, cm := range i.Comments {
			cc := *cm
			c.Comments[n] = &cc
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Status represents the current state of an issue.
//
// The built-in values below are exhaustive for switch statements; anything
// else is a project-defined custom status registered via status.custom.
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred" // Deliberately put on ice for later
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone" // Soft-deleted issue
	StatusPinned     Status = "pinned"    // Persistent issue that stays open indefinitely
	StatusHooked     Status = "hooked"    // Attached to a worker
)

// BuiltinStatuses lists every built-in status in display order.
var BuiltinStatuses = []Status{
	StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred,
	StatusClosed, StatusTombstone, StatusPinned, StatusHooked,
}

// CustomStatus returns a status value for a project-defined name.
func CustomStatus(name string) Status {
	return Status(strings.TrimSpace(name))
}

// IsBuiltin reports whether s is one of the built-in statuses.
func (s Status) IsBuiltin() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred,
		StatusClosed, StatusTombstone, StatusPinned, StatusHooked:
		return true
	}
	return false
}

// IsValid checks if the status is a built-in value.
func (s Status) IsValid() bool {
	return s.IsBuiltin()
}

// IsValidWithCustom checks if the status is built-in or one of customStatuses.
func (s Status) IsValidWithCustom(customStatuses []string) bool {
	if s.IsBuiltin() {
		return true
	}
	for _, custom := range customStatuses {
		if custom != "" && string(s) == custom {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status no longer blocks dependents.
// Custom statuses are treated as active.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusTombstone
}

// IssueType categorizes the kind of work.
type IssueType string

// Issue type constants
const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// CustomType returns an issue type value for a project-defined name.
func CustomType(name string) IssueType {
	return IssueType(strings.TrimSpace(name))
}

// IsBuiltin reports whether t is one of the built-in issue types.
func (t IssueType) IsBuiltin() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore:
		return true
	}
	return false
}

// IsValid checks if the issue type is a built-in value.
func (t IssueType) IsValid() bool {
	return t.IsBuiltin()
}

// IsValidWithCustom checks if the issue type is built-in or one of customTypes.
func (t IssueType) IsValidWithCustom(customTypes []string) bool {
	if t.IsBuiltin() {
		return true
	}
	for _, custom := range customTypes {
		if custom != "" && string(t) == custom {
			return true
		}
	}
	return false
}

// Dependency represents a relationship between issues.
// DependsOnID may name an issue that does not exist locally (external reference).
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Metadata    string         `json:"metadata,omitempty"` // Free-form JSON payload
	ThreadID    string         `json:"thread_id,omitempty"`
}

// DependencyType categorizes the relationship
type DependencyType string

// Dependency type constants
const (
	// Workflow types (affect ready work calculation)
	DepBlocks            DependencyType = "blocks"
	DepParentChild       DependencyType = "parent-child"
	DepConditionalBlocks DependencyType = "conditional-blocks" // Proceeds only if the target fails
	DepWaitsFor          DependencyType = "waits-for"          // Waits for the target and its children

	// Association types
	DepRelated        DependencyType = "related"
	DepDiscoveredFrom DependencyType = "discovered-from"
	DepRepliesTo      DependencyType = "replies-to"
	DepRelatesTo      DependencyType = "relates-to"
	DepDuplicates     DependencyType = "duplicates"
	DepSupersedes     DependencyType = "supersedes"
)

// IsValid checks if the dependency type value is valid.
// Accepts any non-empty string up to 50 characters.
func (d DependencyType) IsValid() bool {
	return len(d) > 0 && len(d) <= 50
}

// IsWellKnown checks if the dependency type is a built-in constant.
func (d DependencyType) IsWellKnown() bool {
	switch d {
	case DepBlocks, DepParentChild, DepConditionalBlocks, DepWaitsFor,
		DepRelated, DepDiscoveredFrom, DepRepliesTo, DepRelatesTo,
		DepDuplicates, DepSupersedes:
		return true
	}
	return false
}

// AffectsReadyWork returns true if this dependency type blocks work and
// participates in cycle detection.
func (d DependencyType) AffectsReadyWork() bool {
	switch d {
	case DepBlocks, DepParentChild, DepConditionalBlocks, DepWaitsFor:
		return true
	}
	return false
}

// Label represents a tag on an issue
type Label struct {
	IssueID string `json:"issue_id"`
	Label   string `json:"label"`
}

// Comment represents a comment on an issue
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents an audit trail entry. Events are append-only.
type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType categorizes audit trail events
type EventType string

// Event type constants for audit trail
const (
	EventCreated           EventType = "created"
	EventUpdated           EventType = "updated"
	EventStatusChanged     EventType = "status_changed"
	EventCommented         EventType = "commented"
	EventClosed            EventType = "closed"
	EventReopened          EventType = "reopened"
	EventDeleted           EventType = "deleted"
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventLabelAdded        EventType = "label_added"
	EventLabelRemoved      EventType = "label_removed"
	EventImported          EventType = "imported"
	EventSuperseded        EventType = "superseded" // A change lost a merge and was replaced
	EventRemapped          EventType = "remapped"
)

// BlockedIssue extends Issue with blocking information
type BlockedIssue struct {
	Issue
	BlockedByCount int      `json:"blocked_by_count"`
	BlockedBy      []string `json:"blocked_by"`
}

// TreeNode represents a node in a dependency tree.
// Missing marks a placeholder for a target that is not in the store.
type TreeNode struct {
	Issue
	Depth     int            `json:"depth"`
	ParentID  string         `json:"parent_id"`
	DepType   DependencyType `json:"dep_type,omitempty"`
	Truncated bool           `json:"truncated"`
	Missing   bool           `json:"missing,omitempty"`
}

// Statistics provides aggregate metrics, recomputed on demand.
type Statistics struct {
	TotalIssues      int               `json:"total_issues"`
	OpenIssues       int               `json:"open_issues"`
	InProgressIssues int               `json:"in_progress_issues"`
	ClosedIssues     int               `json:"closed_issues"`
	BlockedIssues    int               `json:"blocked_issues"`
	DeferredIssues   int               `json:"deferred_issues"`
	ReadyIssues      int               `json:"ready_issues"`
	TombstoneIssues  int               `json:"tombstone_issues"`
	PinnedIssues     int               `json:"pinned_issues"`
	ByStatus         map[string]int    `json:"by_status"`
	ByPriority       map[int]int       `json:"by_priority"`
	ByType           map[string]int    `json:"by_type"`
	AverageLeadTime  float64           `json:"average_lead_time_hours"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// IssueFilter is used to filter issue queries
type IssueFilter struct {
	Status      *Status
	Priority    *int
	IssueType   *IssueType
	Assignee    *string
	Labels      []string // AND semantics: issue must have ALL these labels
	LabelsAny   []string // OR semantics: issue must have AT LEAST ONE of these labels
	TitleSearch string
	IDs         []string
	IDPrefix    string

	// Pagination
	Limit  int
	Offset int

	// Pattern matching
	TitleContains       string
	DescriptionContains string
	NotesContains       string

	// Date ranges
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
	ClosedAfter   *time.Time
	ClosedBefore  *time.Time
	DueBefore     *time.Time

	// Empty/null checks
	EmptyDescription bool
	NoAssignee       bool
	NoLabels         bool

	// Numeric ranges
	PriorityMin *int
	PriorityMax *int

	IncludeTombstones bool // If false (default), exclude tombstones from results

	Pinned     *bool
	IsTemplate *bool
	Ephemeral  *bool

	Sort []IssueSortOption
}

// SortPolicy determines how ready work is ordered
type SortPolicy string

// Sort policy constants
const (
	// SortPolicyHybrid sorts recent issues (created within 48 hours) by priority,
	// older ones by age. This is the default.
	SortPolicyHybrid SortPolicy = "hybrid"

	// SortPolicyPriority always sorts by priority first, then creation date
	SortPolicyPriority SortPolicy = "priority"

	// SortPolicyOldest always sorts by creation date (oldest first)
	SortPolicyOldest SortPolicy = "oldest"
)

// HybridRecentWindow is the age below which the hybrid policy orders by priority.
const HybridRecentWindow = 48 * time.Hour

// IsValid checks if the sort policy value is valid
func (s SortPolicy) IsValid() bool {
	switch s {
	case SortPolicyHybrid, SortPolicyPriority, SortPolicyOldest, "":
		return true
	}
	return false
}

// WorkFilter is used to filter ready work queries
type WorkFilter struct {
	Type            IssueType
	Priority        *int
	Assignee        *string
	Unassigned      bool
	Labels          []string
	LabelsAny       []string
	Limit           int
	SortPolicy      SortPolicy
	IncludeDeferred bool      // Include issues whose defer_until is in the future
	Now             time.Time // Reference time for deferral and hybrid sort; zero means time.Now()
}
