package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateExternalRefIndex enforces that external_ref, when set, names at most
// one issue. Databases that already hold duplicates are rejected so the user
// can resolve them instead of silently losing a link.
func MigrateExternalRefIndex(tx *sql.Tx) error {
	var dupes int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT external_ref FROM issues
			WHERE external_ref IS NOT NULL
			GROUP BY external_ref HAVING COUNT(*) > 1
		)
	`).Scan(&dupes)
	if err != nil {
		return fmt.Errorf("failed to check external_ref duplicates: %w", err)
	}
	if dupes > 0 {
		return fmt.Errorf("%d external_ref values are shared by more than one issue", dupes)
	}

	_, err = tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_external_ref ON issues(external_ref) WHERE external_ref IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to create index on external_ref: %w", err)
	}
	return nil
}
