package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateAdditionalIndexes adds indexes for the common list and graph queries.
//
// Indexes added:
//   - idx_issues_updated_at: date range filtering
//   - idx_issues_status_priority: list and ready queries
//   - idx_labels_label_issue: covering index for label lookups
//   - idx_dependencies_depends_on_type: reverse edge lookups by type
//   - idx_events_issue_type: close reason queries
func MigrateAdditionalIndexes(tx *sql.Tx) error {
	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "idx_issues_updated_at",
			sql:  `CREATE INDEX IF NOT EXISTS idx_issues_updated_at ON issues(updated_at)`,
		},
		{
			name: "idx_issues_status_priority",
			sql:  `CREATE INDEX IF NOT EXISTS idx_issues_status_priority ON issues(status, priority)`,
		},
		{
			name: "idx_labels_label_issue",
			sql:  `CREATE INDEX IF NOT EXISTS idx_labels_label_issue ON labels(label, issue_id)`,
		},
		{
			name: "idx_dependencies_depends_on_type",
			sql:  `CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on_type ON dependencies(depends_on_id, type)`,
		},
		{
			name: "idx_events_issue_type",
			sql:  `CREATE INDEX IF NOT EXISTS idx_events_issue_type ON events(issue_id, event_type)`,
		},
	}

	for _, idx := range indexes {
		if _, err := tx.Exec(idx.sql); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
