package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateDueDeferColumns adds the due_at and defer_until columns to the issues table.
//   - due_at: when the issue should be completed
//   - defer_until: hide from ready work until this time passes
func MigrateDueDeferColumns(tx *sql.Tx) error {
	for _, column := range []string{"due_at", "defer_until"} {
		exists, err := columnExists(tx, "issues", column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		// #nosec G202 - column names come from the fixed list above
		if _, err := tx.Exec(`ALTER TABLE issues ADD COLUMN ` + column + ` DATETIME`); err != nil {
			return fmt.Errorf("failed to add %s column: %w", column, err)
		}
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_issues_due_at ON issues(due_at)`); err != nil {
		return fmt.Errorf("failed to create due_at index: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_issues_defer_until ON issues(defer_until)`); err != nil {
		return fmt.Errorf("failed to create defer_until index: %w", err)
	}
	return nil
}
