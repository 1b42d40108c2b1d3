package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beadsync/beadsync/internal/types"
)

// newTestStore creates a file-backed SQLiteStorage with issue_prefix "bd".
// An empty dbPath uses a fresh file under t.TempDir().
func newTestStore(t *testing.T, dbPath string, opts ...Option) *SQLiteStorage {
	t.Helper()

	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "test.db")
	}

	ctx := context.Background()
	store, err := New(ctx, dbPath, opts...)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	if err := store.SetConfig(ctx, ConfigIssuePrefix, "bd"); err != nil {
		t.Fatalf("Failed to set issue_prefix: %v", err)
	}
	return store
}

// mustCreate creates an open task with the given title and returns it.
func mustCreate(t *testing.T, store *SQLiteStorage, title string, mutate ...func(*types.Issue)) *types.Issue {
	t.Helper()
	issue := &types.Issue{Title: title, Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask}
	for _, m := range mutate {
		m(issue)
	}
	if err := store.CreateIssue(context.Background(), issue, "tester"); err != nil {
		t.Fatalf("CreateIssue(%q) failed: %v", title, err)
	}
	return issue
}

func mustBlock(t *testing.T, store *SQLiteStorage, from, to string) {
	t.Helper()
	dep := &types.Dependency{IssueID: from, DependsOnID: to, Type: types.DepBlocks}
	if err := store.AddDependency(context.Background(), dep, "tester"); err != nil {
		t.Fatalf("AddDependency(%s → %s) failed: %v", from, to, err)
	}
}

func ids(issues []*types.Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.ID
	}
	return out
}
