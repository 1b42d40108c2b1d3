package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/beadsync/beadsync/internal/storage"
)

// wrapDBError wraps a database error with operation context
// It converts sql.ErrNoRows to storage.ErrNotFound for consistent error handling
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isBusyError(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrBusy, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// notFound reports a missing issue by id.
func notFound(id string) error {
	return fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
}
