package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/idgen"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanIssue reads one row selected with issueColumns.
func scanIssue(row scanner) (*types.Issue, error) {
	var (
		issue                                     types.Issue
		contentHash, assignee, owner, createdBy   sql.NullString
		closeReason, closedBySession, externalRef sql.NullString
		sourceSystem, sourceRepo                  sql.NullString
		deletedBy, deleteReason, originalType     sql.NullString
		sender                                    sql.NullString
		status, issueType                         string
		createdAt, updatedAt                      sql.NullString
		closedAt, dueAt, deferUntil, compactedAt  sql.NullString
		deletedAt                                 sql.NullString
		estimatedMinutes, originalSize            sql.NullInt64
		compactionLevel                           sql.NullInt64
		ephemeral, pinned, isTemplate             sql.NullInt64
	)
	err := row.Scan(
		&issue.ID, &contentHash, &issue.Title, &issue.Description, &issue.Design, &issue.AcceptanceCriteria, &issue.Notes,
		&status, &issue.Priority, &issueType, &assignee, &owner, &estimatedMinutes,
		&createdAt, &createdBy, &updatedAt, &closedAt, &closeReason, &closedBySession,
		&dueAt, &deferUntil, &externalRef, &sourceSystem, &sourceRepo,
		&compactionLevel, &compactedAt, &originalSize,
		&deletedAt, &deletedBy, &deleteReason, &originalType,
		&sender, &ephemeral, &pinned, &isTemplate,
	)
	if err != nil {
		return nil, err
	}

	issue.ContentHash = contentHash.String
	issue.Status = types.Status(status)
	issue.IssueType = types.IssueType(issueType)
	issue.Assignee = assignee.String
	issue.Owner = owner.String
	issue.CreatedBy = createdBy.String
	if estimatedMinutes.Valid {
		mins := int(estimatedMinutes.Int64)
		issue.EstimatedMinutes = &mins
	}
	if t := parseNullableTime(createdAt); t != nil {
		issue.CreatedAt = *t
	}
	if t := parseNullableTime(updatedAt); t != nil {
		issue.UpdatedAt = *t
	}
	issue.ClosedAt = parseNullableTime(closedAt)
	issue.CloseReason = closeReason.String
	issue.ClosedBySession = closedBySession.String
	issue.DueAt = parseNullableTime(dueAt)
	issue.DeferUntil = parseNullableTime(deferUntil)
	if externalRef.Valid {
		ref := externalRef.String
		issue.ExternalRef = &ref
	}
	issue.SourceSystem = sourceSystem.String
	issue.SourceRepo = sourceRepo.String
	issue.CompactionLevel = int(compactionLevel.Int64)
	issue.CompactedAt = parseNullableTime(compactedAt)
	issue.OriginalSize = int(originalSize.Int64)
	issue.DeletedAt = parseNullableTime(deletedAt)
	issue.DeletedBy = deletedBy.String
	issue.DeleteReason = deleteReason.String
	issue.OriginalType = originalType.String
	issue.Sender = sender.String
	issue.Ephemeral = ephemeral.Int64 != 0
	issue.Pinned = pinned.Int64 != 0
	issue.IsTemplate = isTemplate.Int64 != 0
	return &issue, nil
}

func scanIssues(rows *sql.Rows) ([]*types.Issue, error) {
	defer func() { _ = rows.Close() }()
	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// issueRowArgs returns the column values of issue in issueColumns order.
func issueRowArgs(issue *types.Issue) []interface{} {
	var estimated interface{}
	if issue.EstimatedMinutes != nil {
		estimated = *issue.EstimatedMinutes
	}
	var externalRef interface{}
	if issue.ExternalRef != nil {
		externalRef = *issue.ExternalRef
	}
	var originalSize interface{}
	if issue.OriginalSize != 0 {
		originalSize = issue.OriginalSize
	}
	sourceRepo := issue.SourceRepo
	if sourceRepo == "" {
		sourceRepo = "."
	}
	return []interface{}{
		issue.ID, issue.ContentHash, issue.Title, issue.Description, issue.Design, issue.AcceptanceCriteria, issue.Notes,
		string(issue.Status), issue.Priority, string(issue.IssueType), nullString(issue.Assignee), issue.Owner, estimated,
		formatTime(issue.CreatedAt), issue.CreatedBy, formatTime(issue.UpdatedAt), formatNullableTime(issue.ClosedAt), issue.CloseReason, issue.ClosedBySession,
		formatNullableTime(issue.DueAt), formatNullableTime(issue.DeferUntil), externalRef, issue.SourceSystem, sourceRepo,
		issue.CompactionLevel, formatNullableTime(issue.CompactedAt), originalSize,
		formatNullableTime(issue.DeletedAt), issue.DeletedBy, issue.DeleteReason, issue.OriginalType,
		issue.Sender, boolToInt(issue.Ephemeral), boolToInt(issue.Pinned), boolToInt(issue.IsTemplate),
	}
}

func insertIssue(ctx context.Context, q dbtx, issue *types.Issue) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`) VALUES (`+placeholders(35)+`)`,
		issueRowArgs(issue)...)
	return classifyWriteError(issue.ID, err)
}

// writeIssueRow overwrites every column of an existing row.
func writeIssueRow(ctx context.Context, q dbtx, issue *types.Issue) error {
	args := issueRowArgs(issue)
	_, err := q.ExecContext(ctx, `
		UPDATE issues SET
			content_hash = ?, title = ?, description = ?, design = ?, acceptance_criteria = ?, notes = ?,
			status = ?, priority = ?, issue_type = ?, assignee = ?, owner = ?, estimated_minutes = ?,
			created_at = ?, created_by = ?, updated_at = ?, closed_at = ?, close_reason = ?, closed_by_session = ?,
			due_at = ?, defer_until = ?, external_ref = ?, source_system = ?, source_repo = ?,
			compaction_level = ?, compacted_at = ?, original_size = ?,
			deleted_at = ?, deleted_by = ?, delete_reason = ?, original_type = ?,
			sender = ?, ephemeral = ?, pinned = ?, is_template = ?
		WHERE id = ?
	`, append(args[1:], issue.ID)...)
	return classifyWriteError(issue.ID, err)
}

// classifyWriteError maps constraint failures onto the storage error kinds.
func classifyWriteError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueConstraintError(err) && strings.Contains(err.Error(), "external_ref"):
		return storage.InvalidInput(id, fmt.Errorf("external_ref already used by another issue"))
	case IsUniqueConstraintError(err):
		return fmt.Errorf("issue %s already exists: %w", id, storage.ErrConflict)
	case isCheckConstraintError(err):
		return storage.InvalidInput(id, err)
	}
	return wrapDBErrorf(err, "write issue %s", id)
}

// getIssueRow reads the issue row only, without labels or edges.
func getIssueRow(ctx context.Context, q dbtx, id string) (*types.Issue, error) {
	issue, err := scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue %s", id)
	}
	return issue, nil
}

// getIssue reads an issue with its labels and outgoing dependencies.
func getIssue(ctx context.Context, q dbtx, id string) (*types.Issue, error) {
	issue, err := getIssueRow(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if issue.Labels, err = getLabels(ctx, q, id); err != nil {
		return nil, err
	}
	if issue.Dependencies, err = getDependencyRecords(ctx, q, id); err != nil {
		return nil, err
	}
	return issue, nil
}

func issueExists(ctx context.Context, q dbtx, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, wrapDBErrorf(err, "check issue %s", id)
	}
	return n > 0, nil
}

// GetIssue retrieves an issue by ID
func (s *SQLiteStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	var issue *types.Issue
	err := s.readTx(ctx, func(q dbtx) error {
		var err error
		issue, err = getIssue(ctx, q, id)
		return err
	})
	return issue, err
}

// GetIssueByExternalRef retrieves the issue linked to an external tracker reference.
func (s *SQLiteStorage) GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM issues WHERE external_ref = ?`, externalRef).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("external ref %s: %w", externalRef, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue by external ref %s", externalRef)
	}
	return s.GetIssue(ctx, id)
}

// CountIssues returns the number of non-tombstone issues.
func (s *SQLiteStorage) CountIssues(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues WHERE status != 'tombstone'`).Scan(&n)
	return n, wrapDBError("count issues", err)
}

// CreateIssue creates a new issue
func (s *SQLiteStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		return s.createIssue(ctx, q, issue, actor)
	})
}

// CreateIssues creates several issues atomically.
func (s *SQLiteStorage) CreateIssues(ctx context.Context, issues []*types.Issue, actor string) error {
	return s.writeTx(ctx, func(q dbtx) error {
		for _, issue := range issues {
			if err := s.createIssue(ctx, q, issue, actor); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) createIssue(ctx context.Context, q dbtx, issue *types.Issue, actor string) error {
	issue.SetDefaults()
	now := nowUTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}
	if issue.CreatedBy == "" {
		issue.CreatedBy = actor
	}
	if issue.Status == types.StatusTombstone {
		return storage.InvalidInput(issue.ID, fmt.Errorf("cannot create an issue as a tombstone"))
	}

	customStatuses, customTypes, err := customValues(ctx, q)
	if err != nil {
		return err
	}
	if err := issue.ValidateWithCustom(customStatuses, customTypes); err != nil {
		return storage.InvalidInput(issue.ID, err)
	}

	prefix, err := issuePrefix(ctx, q)
	if err != nil {
		return err
	}

	if issue.ID == "" {
		id, err := generateIssueID(ctx, q, prefix, issue, actor)
		if err != nil {
			return err
		}
		issue.ID = id
	} else {
		if err := validateIssueIDPrefix(issue.ID, prefix); err != nil {
			return err
		}
		if parentID, ok := idgen.ParentID(issue.ID); ok {
			exists, err := issueExists(ctx, q, parentID)
			if err != nil {
				return err
			}
			if !exists {
				return storage.InvalidInput(issue.ID, fmt.Errorf("parent issue %s does not exist", parentID))
			}
			if err := ensureChildCounter(ctx, q, issue.ID); err != nil {
				return err
			}
		}
	}

	issue.ContentHash = issue.ComputeContentHash()
	if err := insertIssue(ctx, q, issue); err != nil {
		return err
	}

	for _, label := range issue.Labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issue.ID, label); err != nil {
			return wrapDBErrorf(err, "add label %q to %s", label, issue.ID)
		}
	}

	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issue.ID,
		EventType: types.EventCreated,
		Actor:     actor,
		NewValue:  stringPtr(issue.Title),
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return markDirty(ctx, q, issue.ID)
}

// issuePrefix reads the configured prefix, which must be set before any
// issue can be created.
func issuePrefix(ctx context.Context, q dbtx) (string, error) {
	prefix, err := getConfig(ctx, q, ConfigIssuePrefix)
	if err != nil {
		return "", err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: issue_prefix config is missing (run 'bd init --prefix <prefix>' first)", storage.ErrNotInitialized)
	}
	return prefix, nil
}

// validateIssueIDPrefix checks that an explicit ID carries the configured prefix.
func validateIssueIDPrefix(id, prefix string) error {
	if !strings.HasPrefix(id, prefix+"-") || len(id) == len(prefix)+1 {
		return fmt.Errorf("%w: issue ID '%s' does not match configured prefix '%s'", storage.ErrPrefixMismatch, id, prefix)
	}
	return nil
}

func stringPtr(s string) *string {
	return &s
}
