package storage

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLockTimeout bounds every wait on the database write lock.
const DefaultLockTimeout = 30 * time.Second

// SQLiteConnString builds a SQLite connection string with standard pragmas.
//
// Includes busy_timeout (prevents "database is locked" under concurrency),
// foreign_keys (enforces referential integrity), and time_format pragmas.
// A non-positive busy falls back to DefaultLockTimeout.
// If readOnly is true, the connection is opened in read-only mode.
// If path is already a file: URI, pragmas are appended only if absent.
func SQLiteConnString(path string, readOnly bool, busy time.Duration) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if busy <= 0 {
		busy = DefaultLockTimeout
	}
	busyMs := int64(busy / time.Millisecond)

	conn := path
	sep := "?"
	if !strings.HasPrefix(conn, "file:") {
		conn = "file:" + conn
	} else if strings.Contains(conn, "?") {
		sep = "&"
	}

	if readOnly && !strings.Contains(conn, "mode=") {
		conn += sep + "mode=ro"
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=busy_timeout") {
		conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
		sep = "&"
	}
	if !strings.Contains(conn, "_pragma=foreign_keys") {
		conn += sep + "_pragma=foreign_keys(1)"
		sep = "&"
	}
	if !strings.Contains(conn, "_time_format=") {
		conn += sep + "_time_format=sqlite"
	}
	return conn
}
