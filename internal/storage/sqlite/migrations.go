package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/storage/sqlite/migrations"
)

// Migration is a named, idempotent schema change.
type Migration struct {
	Name string
	Func func(*sql.Tx) error
}

// migrationsList is applied in order. Append only: names are recorded in the
// migrations table and must never be reused.
var migrationsList = []Migration{
	{"external_ref_index", migrations.MigrateExternalRefIndex},
	{"due_defer_columns", migrations.MigrateDueDeferColumns},
	{"blocked_issues_cache", migrations.MigrateBlockedIssuesCache},
	{"additional_indexes", migrations.MigrateAdditionalIndexes},
}

// SchemaVersion is the schema_version recorded once every migration ran.
func SchemaVersion() int {
	return len(migrationsList)
}

// RunMigrations applies every migration that has not been recorded yet. Each
// one runs in its own transaction together with its bookkeeping row, so a
// failure leaves the database at the previous version.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrMigration, err)
	}

	for _, m := range migrationsList {
		if applied[m.Name] {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("%w: migration %s failed: %w", storage.ErrMigration, m.Name, err)
		}
		debug.Logf("sqlite: applied migration %s\n", m.Name)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, storage.MetaSchemaVersion, strconv.Itoa(SchemaVersion()))
	if err != nil {
		return fmt.Errorf("%w: failed to record schema version: %w", storage.ErrMigration, err)
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := m.Func(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (name, applied_at) VALUES (?, ?)`, m.Name, formatTime(nowUTC())); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// expectedColumns is what verifySchemaCompatibility probes for after
// migrations. A missing column means the database came from an incompatible
// build.
var expectedColumns = map[string][]string{
	"issues": {
		"id", "content_hash", "title", "description", "design", "acceptance_criteria", "notes",
		"status", "priority", "issue_type", "assignee", "owner", "estimated_minutes",
		"created_at", "created_by", "updated_at", "closed_at", "close_reason", "closed_by_session",
		"due_at", "defer_until", "external_ref", "source_system", "source_repo",
		"compaction_level", "compacted_at", "original_size",
		"deleted_at", "deleted_by", "delete_reason", "original_type",
		"sender", "ephemeral", "pinned", "is_template",
	},
	"dependencies":  {"issue_id", "depends_on_id", "type", "created_at", "created_by", "metadata", "thread_id"},
	"labels":        {"issue_id", "label"},
	"comments":      {"id", "issue_id", "author", "text", "created_at"},
	"events":        {"id", "issue_id", "event_type", "actor", "old_value", "new_value", "comment", "created_at"},
	"dirty_issues":  {"issue_id", "marked_at"},
	"export_hashes": {"issue_id", "content_hash", "exported_at"},
}

// verifySchemaCompatibility checks that every column the queries rely on exists.
func verifySchemaCompatibility(ctx context.Context, db *sql.DB) error {
	for table, columns := range expectedColumns {
		present := make(map[string]bool)
		rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				_ = rows.Close()
				return err
			}
			present[name] = true
		}
		if err := rows.Close(); err != nil {
			return err
		}

		var missing []string
		for _, col := range columns {
			if !present[col] {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("table %s is missing columns: %s", table, strings.Join(missing, ", "))
		}
	}
	return nil
}
