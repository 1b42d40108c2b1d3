package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func nullableStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// recordEvent appends to the audit trail. Events are never updated or deleted.
func recordEvent(ctx context.Context, q dbtx, event *types.Event) error {
	if event.IssueID == "" || event.EventType == "" {
		return storage.InvalidInput(event.IssueID, fmt.Errorf("event needs issue_id and event_type"))
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = nowUTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, old_value, new_value, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.IssueID, string(event.EventType), event.Actor,
		nullableStringPtr(event.OldValue), nullableStringPtr(event.NewValue), nullableStringPtr(event.Comment),
		formatTime(event.CreatedAt))
	if err != nil {
		if IsForeignKeyConstraintError(err) {
			return notFound(event.IssueID)
		}
		return wrapDBErrorf(err, "record %s event for %s", event.EventType, event.IssueID)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// RecordEvent appends an audit event.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, event *types.Event) error {
	return s.writeTx(ctx, func(q dbtx) error { return recordEvent(ctx, q, event) })
}

// GetEvents returns the newest events of an issue first. limit <= 0 returns all.
func (s *SQLiteStorage) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, issue_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events WHERE issue_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{issueID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "get events of %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var (
			e                           types.Event
			eventType                   string
			oldValue, newValue, comment sql.NullString
			createdAt                   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.IssueID, &eventType, &e.Actor, &oldValue, &newValue, &comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = types.EventType(eventType)
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if newValue.Valid {
			e.NewValue = &newValue.String
		}
		if comment.Valid {
			e.Comment = &comment.String
		}
		if t := parseNullableTime(createdAt); t != nil {
			e.CreatedAt = *t
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
