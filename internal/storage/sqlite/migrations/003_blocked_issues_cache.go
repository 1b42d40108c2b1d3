package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateBlockedIssuesCache creates the blocked_issues_cache table so that
// databases shared with other bd builds keep the same table set. Blocked
// status is always computed from the dependency graph; the table is never
// read.
func MigrateBlockedIssuesCache(tx *sql.Tx) error {
	exists, err := tableExists(tx, "blocked_issues_cache")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = tx.Exec(`
		CREATE TABLE blocked_issues_cache (
			issue_id TEXT PRIMARY KEY,
			blocked_by TEXT NOT NULL DEFAULT '[]',
			blocked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create blocked_issues_cache table: %w", err)
	}
	return nil
}
