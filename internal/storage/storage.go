// Package storage defines the interface for issue storage backends.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// (importer, exporter, cmd/bd) depend on the Storage interface so that a
// remote/shared implementation can be substituted without changing them.
package storage

import (
	"context"
	"time"

	"github.com/beadsync/beadsync/internal/types"
)

// Precondition guards an update against a concurrent writer. Zero-valued
// fields are not checked. A mismatch fails the update with ErrConflict.
type Precondition struct {
	UpdatedAt   *time.Time
	ContentHash string
}

// Storage is the full set of operations over the entity store.
type Storage interface {
	// Issue CRUD
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error)
	ResolveID(ctx context.Context, partial string) (string, error)
	UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error
	UpdateIssueIf(ctx context.Context, id string, cond Precondition, updates map[string]interface{}, actor string) error
	CloseIssue(ctx context.Context, id string, reason string, actor string, session string) error
	ReopenIssue(ctx context.Context, id string, actor string) error
	DeleteIssue(ctx context.Context, id string, reason string, actor string) error
	SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error)
	CountIssues(ctx context.Context) (int, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID string, actor string) error
	GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error)
	GetAllDependencyRecords(ctx context.Context) (map[string][]*types.Dependency, error)
	GetDependents(ctx context.Context, issueID string) ([]*types.Dependency, error)
	GetDependencyTree(ctx context.Context, issueID string, maxDepth int, reverse bool) ([]*types.TreeNode, error)
	DetectCycles(ctx context.Context) ([][]string, error)

	// Labels
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RemoveLabel(ctx context.Context, issueID, label, actor string) error
	GetLabels(ctx context.Context, issueID string) ([]string, error)

	// Work queries
	GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error)
	GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error)
	IsBlocked(ctx context.Context, issueID string) (bool, []string, error)

	// Comments and events
	AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	GetComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	RecordEvent(ctx context.Context, event *types.Event) error
	GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Dirty tracking
	MarkIssueDirty(ctx context.Context, issueID string) error
	GetDirtyIssues(ctx context.Context) ([]string, error)
	GetDirtyIssueCount(ctx context.Context) (int, error)
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error
	// GetDirtyMarks and ClearDirtyIssuesExported let an export clear only
	// the marks it saw, leaving issues changed in the meantime dirty.
	GetDirtyMarks(ctx context.Context) (map[string]time.Time, error)
	ClearDirtyIssuesExported(ctx context.Context, marks map[string]time.Time) error

	// Export hashes
	GetExportHash(ctx context.Context, issueID string) (string, error)
	SetExportHashes(ctx context.Context, hashes map[string]string) error
	ClearAllExportHashes(ctx context.Context) error

	// Configuration and sync bookkeeping
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Snapshot loads every issue with its labels, dependencies and comments
	// inside a single read transaction.
	Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error)
	SnapshotIssues(ctx context.Context, ids []string) ([]*types.Issue, error)
	IssueIDs(ctx context.Context) ([]string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Path() string
	Close() error
}

// Transaction provides atomic multi-operation support within a single database transaction.
//
// # Transaction Semantics
//
//   - All operations within the transaction share the same database connection
//   - The write lock is taken when the transaction starts (BEGIN IMMEDIATE)
//   - If any operation returns an error, the transaction is rolled back
//   - If the callback function panics, the transaction is rolled back
//   - On successful return from the callback, the transaction is committed
//
// # Example Usage
//
//	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
//	    if err := tx.CreateIssue(ctx, parent, actor); err != nil {
//	        return err // Triggers rollback
//	    }
//	    return tx.AddDependency(ctx, dep, actor)
//	})
type Transaction interface {
	// Issue operations
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error
	CloseIssue(ctx context.Context, id string, reason string, actor string, session string) error
	DeleteIssue(ctx context.Context, id string, reason string, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error) // For read-your-writes within transaction

	// UpsertIssue writes every column of issue as given, preserving its
	// timestamps. It validates invariants and records one audit event but does
	// not touch labels, dependencies or comments.
	UpsertIssue(ctx context.Context, issue *types.Issue, actor string) (created bool, err error)

	// Dependency operations
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID string, actor string) error
	GetDependencyRecords(ctx context.Context, issueID string) ([]*types.Dependency, error)

	// Label operations
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RemoveLabel(ctx context.Context, issueID, label, actor string) error
	GetLabels(ctx context.Context, issueID string) ([]string, error)

	// Comment and event operations
	AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	ImportComment(ctx context.Context, comment *types.Comment) error
	GetComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	RecordEvent(ctx context.Context, event *types.Event) error

	// Dirty tracking
	MarkIssueDirty(ctx context.Context, issueID string) error
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error

	// Config and metadata
	GetConfig(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}
