// Package migrations holds the schema changes applied on top of the baseline
// schema. Every migration is idempotent: it probes before it alters.
package migrations

import (
	"database/sql"
	"fmt"
)

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	var exists bool
	err := tx.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s.%s column: %w", table, column, err)
	}
	return exists, nil
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var name string
	err := tx.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for %s table: %w", table, err)
	}
	return true, nil
}
