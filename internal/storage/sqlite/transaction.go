package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// Verify sqliteTxStorage implements storage.Transaction at compile time
var _ storage.Transaction = (*sqliteTxStorage)(nil)

// sqliteTxStorage implements the storage.Transaction interface for SQLite.
// It wraps a dedicated database connection with an active transaction.
type sqliteTxStorage struct {
	conn   *sql.Conn      // Dedicated connection for the transaction
	parent *SQLiteStorage // Parent storage for accessing shared state
}

// RunInTransaction executes a function within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire a write lock early,
// preventing deadlocks when multiple goroutines compete for the same lock.
//
// Transaction lifecycle:
//  1. Acquire dedicated connection from pool
//  2. Begin IMMEDIATE transaction with retry on SQLITE_BUSY
//  3. Execute user function with Transaction interface
//  4. On success: COMMIT
//  5. On error or panic: ROLLBACK
//
// Panic safety: If the callback panics, the transaction is rolled back
// and the panic is re-raised to the caller.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.withWriteConn(ctx, func(conn *sql.Conn) error {
		return fn(&sqliteTxStorage{conn: conn, parent: s})
	})
}

// writeTx runs fn inside an IMMEDIATE transaction. Every single-operation
// write on SQLiteStorage goes through it so that reads made while validating
// see the same state the write commits against.
func (s *SQLiteStorage) writeTx(ctx context.Context, fn func(q dbtx) error) error {
	return s.withWriteConn(ctx, func(conn *sql.Conn) error { return fn(conn) })
}

func (s *SQLiteStorage) withWriteConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if s.closed.Load() {
		return fmt.Errorf("storage is closed")
	}
	// Acquire a dedicated connection so every statement shares the transaction.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection for transaction", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond, s.lockTimeout); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Use background context to ensure rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Rollback happens via the committed=false check above, then the panic continues.
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// readTx runs fn inside a deferred transaction so that multi-query reads see
// one consistent snapshot.
func (s *SQLiteStorage) readTx(ctx context.Context, fn func(q dbtx) error) error {
	if s.closed.Load() {
		return fmt.Errorf("storage is closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// beginImmediateWithRetry starts an IMMEDIATE transaction on conn, retrying
// with exponential backoff while SQLite reports the database busy. The busy
// timeout pragma already waits inside each attempt; the retries cover the
// cases where SQLite gives up immediately to avoid a deadlock. Retrying stops
// once lockTimeout has elapsed.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxRetries int, initialInterval, lockTimeout time.Duration) error {
	if lockTimeout <= 0 {
		lockTimeout = storage.DefaultLockTimeout
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = min(2*time.Second, lockTimeout)
	bo.MaxElapsedTime = lockTimeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusyError(err) {
			debug.Logf("sqlite: BEGIN IMMEDIATE busy (attempt %d): %v\n", attempt, err)
			return err // Retryable - backoff will retry
		}
		return backoff.Permanent(err) // Non-retryable - stop immediately
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx))

	if err != nil && isBusyError(err) && !errors.Is(err, storage.ErrBusy) {
		return fmt.Errorf("%w: gave up after %d attempts: %w", storage.ErrBusy, attempt, err)
	}
	return err
}

// CreateIssue creates a new issue within the transaction.
func (t *sqliteTxStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return t.parent.createIssue(ctx, t.conn, issue, actor)
}

// UpdateIssue updates an issue within the transaction.
func (t *sqliteTxStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	return t.parent.updateIssue(ctx, t.conn, id, storage.Precondition{}, updates, actor)
}

// CloseIssue closes an issue within the transaction.
func (t *sqliteTxStorage) CloseIssue(ctx context.Context, id string, reason string, actor string, session string) error {
	return t.parent.closeIssue(ctx, t.conn, id, reason, actor, session)
}

// DeleteIssue tombstones an issue within the transaction.
func (t *sqliteTxStorage) DeleteIssue(ctx context.Context, id string, reason string, actor string) error {
	return t.parent.deleteIssue(ctx, t.conn, id, reason, actor)
}

// GetIssue reads an issue, including writes made earlier in the transaction.
func (t *sqliteTxStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	return getIssue(ctx, t.conn, id)
}

// UpsertIssue writes an imported issue as given.
func (t *sqliteTxStorage) UpsertIssue(ctx context.Context, issue *types.Issue, actor string) (bool, error) {
	return t.parent.upsertIssue(ctx, t.conn, issue, actor)
}

// AddDependency adds an edge within the transaction.
func (t *sqliteTxStorage) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return addDependency(ctx, t.conn, dep, actor)
}

// RemoveDependency removes an edge within the transaction.
func (t *sqliteTxStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID string, actor string) error {
	return removeDependency(ctx, t.conn, issueID, dependsOnID, actor)
}

// GetDependencyRecords lists the outgoing edges of an issue.
func (t *sqliteTxStorage) GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error) {
	return getDependencyRecords(ctx, t.conn, issueID)
}

// AddLabel adds a label within the transaction.
func (t *sqliteTxStorage) AddLabel(ctx context.Context, issueID, label, actor string) error {
	return addLabel(ctx, t.conn, issueID, label, actor)
}

// RemoveLabel removes a label within the transaction.
func (t *sqliteTxStorage) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return removeLabel(ctx, t.conn, issueID, label, actor)
}

// GetLabels lists the labels of an issue.
func (t *sqliteTxStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	return getLabels(ctx, t.conn, issueID)
}

// AddComment adds a comment within the transaction.
func (t *sqliteTxStorage) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	return addComment(ctx, t.conn, issueID, author, text)
}

// ImportComment stores a comment from the log, keeping its timestamp.
func (t *sqliteTxStorage) ImportComment(ctx context.Context, comment *types.Comment) error {
	return importComment(ctx, t.conn, comment)
}

// GetComments lists the comments of an issue.
func (t *sqliteTxStorage) GetComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	return getComments(ctx, t.conn, issueID)
}

// RecordEvent appends an audit event within the transaction.
func (t *sqliteTxStorage) RecordEvent(ctx context.Context, event *types.Event) error {
	return recordEvent(ctx, t.conn, event)
}

// MarkIssueDirty flags an issue for the next export.
func (t *sqliteTxStorage) MarkIssueDirty(ctx context.Context, issueID string) error {
	return markDirty(ctx, t.conn, issueID)
}

// ClearDirtyIssuesByID drops the dirty flag of the given issues.
func (t *sqliteTxStorage) ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error {
	return clearDirtyIssuesByID(ctx, t.conn, issueIDs)
}

// GetConfig reads a config value.
func (t *sqliteTxStorage) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, t.conn, key)
}

// SetMetadata writes a metadata value within the transaction.
func (t *sqliteTxStorage) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, t.conn, key, value)
}

// GetMetadata reads a metadata value.
func (t *sqliteTxStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, t.conn, key)
}
