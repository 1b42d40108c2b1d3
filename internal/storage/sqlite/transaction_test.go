package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func TestRunInTransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	var created *types.Issue
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		created = &types.Issue{Title: "in tx", Status: types.StatusOpen, Priority: 1, IssueType: types.TypeTask}
		if err := tx.CreateIssue(ctx, created, "tester"); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		got, err := tx.GetIssue(ctx, created.ID)
		if err != nil {
			return err
		}
		if got.Title != "in tx" {
			t.Errorf("read-your-writes title = %q", got.Title)
		}
		if err := tx.AddLabel(ctx, created.ID, "txn", "tester"); err != nil {
			return err
		}
		_, err = tx.AddComment(ctx, created.ID, "tester", "from a transaction")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	got, err := store.GetIssue(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetIssue after commit failed: %v", err)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "txn" {
		t.Errorf("labels = %v", got.Labels)
	}
	comments, _ := store.GetComments(ctx, created.ID)
	if len(comments) != 1 {
		t.Errorf("comments = %d, want 1", len(comments))
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	sentinel := errors.New("abort")

	var id string
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		issue := &types.Issue{Title: "doomed", Status: types.StatusOpen, Priority: 1, IssueType: types.TypeTask}
		if err := tx.CreateIssue(ctx, issue, "tester"); err != nil {
			return err
		}
		id = issue.ID
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the callback error back, got %v", err)
	}
	if _, err := store.GetIssue(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("issue should be rolled back, got %v", err)
	}
	if n, _ := store.GetDirtyIssueCount(ctx); n != 0 {
		t.Errorf("dirty marks should be rolled back, got %d", n)
	}
}

func TestRunInTransactionPanicRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("panic should be re-raised, recovered %v", r)
			}
		}()
		_ = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			issue := &types.Issue{ID: "bd-panic", Title: "panics", Status: types.StatusOpen, Priority: 1, IssueType: types.TypeTask}
			if err := tx.CreateIssue(ctx, issue, "tester"); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if _, err := store.GetIssue(ctx, "bd-panic"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("issue should be rolled back after panic, got %v", err)
	}
	// The connection went back to the pool in a usable state.
	mustCreate(t, store, "after panic")
}

func TestRunInTransactionCancelledContext(t *testing.T) {
	store := newTestStore(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("cancelled context should fail before the callback: err=%v called=%v", err, called)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err = store.CreateIssue(ctx, &types.Issue{Title: "late", Status: types.StatusOpen, IssueType: types.TypeTask}, "tester")
	if err == nil {
		t.Error("write on a closed store should fail")
	}
}

func TestWritesFailBusyWhileAnotherStoreHoldsTheLock(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	holder := newTestStore(t, dbPath, WithBusyTimeout(100*time.Millisecond))
	waiter := newTestStore(t, dbPath, WithBusyTimeout(100*time.Millisecond))
	issue := mustCreate(t, holder, "contended")

	writes := map[string]func() error{
		"CreateIssue": func() error {
			return waiter.CreateIssue(ctx, &types.Issue{Title: "late", Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask}, "tester")
		},
		"MarkIssueDirty":       func() error { return waiter.MarkIssueDirty(ctx, issue.ID) },
		"SetConfig":            func() error { return waiter.SetConfig(ctx, "ready.sort-policy", "priority") },
		"SetMetadata":          func() error { return waiter.SetMetadata(ctx, storage.MetaLastExportTime, "now") },
		"ClearAllExportHashes": func() error { return waiter.ClearAllExportHashes(ctx) },
	}

	err := holder.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.MarkIssueDirty(ctx, issue.ID); err != nil {
			return err
		}
		for name, write := range writes {
			if err := write(); !errors.Is(err, storage.ErrBusy) {
				t.Errorf("%s while locked: error = %v, want ErrBusy", name, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	// The lock is free again.
	if err := writes["SetConfig"](); err != nil {
		t.Fatalf("SetConfig after release failed: %v", err)
	}
}

func TestBusyRetriesStopAtTheConfiguredTimeout(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	holder := newTestStore(t, dbPath, WithBusyTimeout(time.Second))
	waiter := newTestStore(t, dbPath, WithBusyTimeout(time.Second))

	var elapsed time.Duration
	err := holder.RunInTransaction(ctx, func(tx storage.Transaction) error {
		start := time.Now()
		err := waiter.SetConfig(ctx, "ready.sort-policy", "priority")
		elapsed = time.Since(start)
		if !errors.Is(err, storage.ErrBusy) {
			t.Errorf("SetConfig while locked: error = %v, want ErrBusy", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}
	// Every attempt may wait out the busy timeout, so a retry budget that
	// ignored the option would take several seconds here.
	if elapsed > 3*time.Second {
		t.Errorf("gave up after %v with a 1s timeout", elapsed)
	}
}
