package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func TestCreateIssueGeneratesHashID(t *testing.T) {
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "Generated ID")

	if !strings.HasPrefix(issue.ID, "bd-") {
		t.Fatalf("ID %q does not carry the prefix", issue.ID)
	}
	if suffix := strings.TrimPrefix(issue.ID, "bd-"); len(suffix) != 4 {
		t.Errorf("expected a 4-character suffix for a small database, got %q", suffix)
	}
	if issue.ContentHash == "" || issue.ContentHash != issue.ComputeContentHash() {
		t.Errorf("content hash not computed on create")
	}

	got, err := store.GetIssue(context.Background(), issue.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.Title != issue.Title || got.Status != types.StatusOpen || got.CreatedBy != "tester" {
		t.Errorf("unexpected issue read back: %+v", got)
	}
	if !got.CreatedAt.Equal(issue.CreatedAt) {
		t.Errorf("CreatedAt round trip: got %v want %v", got.CreatedAt, issue.CreatedAt)
	}
}

func TestCreateIssueRejectsLongTitle(t *testing.T) {
	store := newTestStore(t, "")
	issue := &types.Issue{Title: strings.Repeat("x", 501), Status: types.StatusOpen, Priority: 1, IssueType: types.TypeTask}

	err := store.CreateIssue(context.Background(), issue, "tester")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if n, _ := store.CountIssues(context.Background()); n != 0 {
		t.Errorf("rejected issue was stored (count %d)", n)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	store := newTestStore(t, "")
	closedAt := time.Now()
	tests := []struct {
		name  string
		issue types.Issue
	}{
		{"empty title", types.Issue{Title: " ", Priority: 1}},
		{"priority too high", types.Issue{Title: "p", Priority: 5}},
		{"negative priority", types.Issue{Title: "p", Priority: -1}},
		{"unknown status", types.Issue{Title: "s", Status: "limbo"}},
		{"unknown type", types.Issue{Title: "t", IssueType: "saga"}},
		{"closed without closed_at", types.Issue{Title: "c", Status: types.StatusClosed}},
		{"open with closed_at", types.Issue{Title: "o", Status: types.StatusOpen, ClosedAt: &closedAt}},
		{"tombstone", types.Issue{Title: "d", Status: types.StatusTombstone, DeletedAt: &closedAt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := tt.issue
			err := store.CreateIssue(context.Background(), &issue, "tester")
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateIssueRequiresPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	if err := store.DeleteConfig(ctx, ConfigIssuePrefix); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	err := store.CreateIssue(ctx, &types.Issue{Title: "no prefix", Priority: 1}, "tester")
	if !errors.Is(err, storage.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCreateIssueExplicitID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	mustCreate(t, store, "explicit", func(i *types.Issue) { i.ID = "bd-abc" })

	err := store.CreateIssue(ctx, &types.Issue{ID: "bd-abc", Title: "dup", Priority: 1}, "tester")
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate ID: expected ErrConflict, got %v", err)
	}

	err = store.CreateIssue(ctx, &types.Issue{ID: "other-1", Title: "wrong prefix", Priority: 1}, "tester")
	if !errors.Is(err, storage.ErrPrefixMismatch) {
		t.Errorf("wrong prefix: expected ErrPrefixMismatch, got %v", err)
	}
}

func TestHierarchicalChildIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	parent := mustCreate(t, store, "epic", func(i *types.Issue) { i.ID = "bd-epic"; i.IssueType = types.TypeEpic })

	first, err := store.NextChildID(ctx, parent.ID)
	if err != nil {
		t.Fatalf("NextChildID failed: %v", err)
	}
	if first != "bd-epic.1" {
		t.Errorf("first child = %q, want bd-epic.1", first)
	}

	// An explicitly created child moves the counter past its number.
	mustCreate(t, store, "explicit child", func(i *types.Issue) { i.ID = "bd-epic.5" })
	next, err := store.NextChildID(ctx, parent.ID)
	if err != nil {
		t.Fatalf("NextChildID failed: %v", err)
	}
	if next != "bd-epic.6" {
		t.Errorf("next child = %q, want bd-epic.6", next)
	}

	err = store.CreateIssue(ctx, &types.Issue{ID: "bd-missing.1", Title: "orphan", Priority: 1}, "tester")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("child of missing parent: expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.NextChildID(ctx, "bd-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("NextChildID of missing parent: expected ErrNotFound, got %v", err)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	store := newTestStore(t, "")
	_, err := store.GetIssue(context.Background(), "bd-nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "bd-nope") {
		t.Errorf("error should name the issue: %v", err)
	}
}

func TestUpdateIssue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "before")

	err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{
		"title":    "after",
		"priority": 0,
		"assignee": "alice",
	}, "tester")
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}

	got, err := store.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.Title != "after" || got.Priority != 0 || got.Assignee != "alice" {
		t.Errorf("update not applied: %+v", got)
	}
	if got.ContentHash == issue.ContentHash {
		t.Error("content hash not recomputed")
	}
	if !got.UpdatedAt.After(issue.UpdatedAt) && !got.UpdatedAt.Equal(issue.UpdatedAt) {
		t.Error("updated_at moved backwards")
	}

	events, err := store.GetEvents(ctx, issue.ID, 1)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventUpdated {
		t.Fatalf("expected an updated event, got %+v", events)
	}
	if events[0].OldValue == nil || !strings.Contains(*events[0].OldValue, "before") {
		t.Errorf("old value not recorded: %v", events[0].OldValue)
	}
}

func TestUpdateIssueRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "target")

	tests := []struct {
		name    string
		updates map[string]interface{}
	}{
		{"unknown field", map[string]interface{}{"id": "bd-x"}},
		{"sql in key", map[string]interface{}{"title = 'x'; --": "x"}},
		{"bad priority", map[string]interface{}{"priority": 9}},
		{"wrong type", map[string]interface{}{"priority": "high"}},
		{"bad status", map[string]interface{}{"status": "limbo"}},
		{"tombstone via update", map[string]interface{}{"status": "tombstone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateIssue(ctx, issue.ID, tt.updates, "tester")
			if !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if err := store.UpdateIssue(ctx, "bd-nope", map[string]interface{}{"title": "x"}, "tester"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing issue: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateIssueCustomStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "custom")

	if err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "review"}, "tester"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("unconfigured custom status should be rejected, got %v", err)
	}
	if err := store.SetConfig(ctx, ConfigCustomStatuses, "review, qa"); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "review"}, "tester"); err != nil {
		t.Fatalf("configured custom status rejected: %v", err)
	}
	got, _ := store.GetIssue(ctx, issue.ID)
	if got.Status != types.CustomStatus("review") || got.Status.IsBuiltin() {
		t.Errorf("status = %q", got.Status)
	}
}

func TestUpdateIssueIfPrecondition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "guarded")

	stale := issue.UpdatedAt.Add(-time.Hour)
	err := store.UpdateIssueIf(ctx, issue.ID, storage.Precondition{UpdatedAt: &stale}, map[string]interface{}{"title": "lost"}, "tester")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale updated_at: expected ErrConflict, got %v", err)
	}

	err = store.UpdateIssueIf(ctx, issue.ID, storage.Precondition{ContentHash: "deadbeef"}, map[string]interface{}{"title": "lost"}, "tester")
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("stale hash: expected ErrConflict, got %v", err)
	}

	cond := storage.Precondition{UpdatedAt: &issue.UpdatedAt, ContentHash: issue.ContentHash}
	if err := store.UpdateIssueIf(ctx, issue.ID, cond, map[string]interface{}{"title": "won"}, "tester"); err != nil {
		t.Fatalf("matching precondition failed: %v", err)
	}
	got, _ := store.GetIssue(ctx, issue.ID)
	if got.Title != "won" {
		t.Errorf("Title = %q, want won", got.Title)
	}
}

func TestStatusChangeManagesClosedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "lifecycle")

	if err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "closed"}, "tester"); err != nil {
		t.Fatalf("close via update failed: %v", err)
	}
	got, _ := store.GetIssue(ctx, issue.ID)
	if got.ClosedAt == nil {
		t.Fatal("closed_at not set when status became closed")
	}

	if err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"status": "in_progress"}, "tester"); err != nil {
		t.Fatalf("reopen via update failed: %v", err)
	}
	got, _ = store.GetIssue(ctx, issue.ID)
	if got.ClosedAt != nil {
		t.Error("closed_at not cleared when status left closed")
	}
}

func TestExplicitInconsistentClosedAtIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "strict")

	for name, updates := range map[string]map[string]interface{}{
		"closing without closed_at": {"status": "closed", "closed_at": nil},
		"open with closed_at":       {"closed_at": time.Now()},
	} {
		if err := store.UpdateIssue(ctx, issue.ID, updates, "tester"); !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("%s: error = %v, want ErrInvalidInput", name, err)
		}
	}
	got, _ := store.GetIssue(ctx, issue.ID)
	if got.Status != types.StatusOpen || got.ClosedAt != nil {
		t.Errorf("rejected updates changed the issue: status %s closed_at %v", got.Status, got.ClosedAt)
	}
}

func TestCloseAndReopenIssue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "close me")

	if err := store.CloseIssue(ctx, issue.ID, "done", "tester", "session-1"); err != nil {
		t.Fatalf("CloseIssue failed: %v", err)
	}
	got, _ := store.GetIssue(ctx, issue.ID)
	if got.Status != types.StatusClosed || got.ClosedAt == nil || got.CloseReason != "done" || got.ClosedBySession != "session-1" {
		t.Fatalf("close not recorded: %+v", got)
	}

	if err := store.ReopenIssue(ctx, issue.ID, "tester"); err != nil {
		t.Fatalf("ReopenIssue failed: %v", err)
	}
	got, _ = store.GetIssue(ctx, issue.ID)
	if got.Status != types.StatusOpen || got.ClosedAt != nil || got.CloseReason != "" {
		t.Fatalf("reopen did not clear close fields: %+v", got)
	}

	if err := store.ReopenIssue(ctx, issue.ID, "tester"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("reopening an open issue: expected ErrInvalidInput, got %v", err)
	}

	events, _ := store.GetEvents(ctx, issue.ID, 0)
	var kinds []types.EventType
	for _, e := range events {
		kinds = append(kinds, e.EventType)
	}
	want := []types.EventType{types.EventReopened, types.EventClosed, types.EventCreated}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDeleteIssueTombstones(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	issue := mustCreate(t, store, "doomed", func(i *types.Issue) { i.IssueType = types.TypeBug })

	if err := store.DeleteIssue(ctx, issue.ID, "duplicate", "tester"); err != nil {
		t.Fatalf("DeleteIssue failed: %v", err)
	}
	got, err := store.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("tombstone should still be readable: %v", err)
	}
	if !got.IsTombstone() || got.DeletedAt == nil || got.DeletedBy != "tester" ||
		got.DeleteReason != "duplicate" || got.OriginalType != string(types.TypeBug) {
		t.Errorf("tombstone fields wrong: %+v", got)
	}

	if n, _ := store.CountIssues(ctx); n != 0 {
		t.Errorf("CountIssues = %d, tombstones must not count", n)
	}
	if err := store.UpdateIssue(ctx, issue.ID, map[string]interface{}{"title": "x"}, "tester"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("updating a tombstone: expected ErrInvalidInput, got %v", err)
	}
	// Deleting twice is a no-op.
	if err := store.DeleteIssue(ctx, issue.ID, "again", "tester"); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}

func TestUpsertIssuePreservesTimestamps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	issue := &types.Issue{
		ID: "bd-imp", Title: "imported", Status: types.StatusOpen, Priority: 1, IssueType: types.TypeTask,
		CreatedAt: created, UpdatedAt: created.Add(time.Hour),
	}

	isNew, err := store.UpsertIssue(ctx, issue, "import")
	if err != nil || !isNew {
		t.Fatalf("UpsertIssue (insert) = %v, %v", isNew, err)
	}
	issue.Title = "imported again"
	isNew, err = store.UpsertIssue(ctx, issue, "import")
	if err != nil || isNew {
		t.Fatalf("UpsertIssue (update) = %v, %v", isNew, err)
	}

	got, _ := store.GetIssue(ctx, "bd-imp")
	if got.Title != "imported again" || !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("upsert did not keep fields as given: %+v", got)
	}
	dirty, _ := store.GetDirtyIssues(ctx)
	if len(dirty) != 0 {
		t.Errorf("upsert marked issues dirty: %v", dirty)
	}
}

func TestExternalRef(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	ref := "gh-42"
	issue := mustCreate(t, store, "linked", func(i *types.Issue) { i.ExternalRef = &ref })

	got, err := store.GetIssueByExternalRef(ctx, ref)
	if err != nil || got.ID != issue.ID {
		t.Fatalf("GetIssueByExternalRef = %v, %v", got, err)
	}

	err = store.CreateIssue(ctx, &types.Issue{Title: "dup ref", Priority: 1, ExternalRef: &ref}, "tester")
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("duplicate external_ref: expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.GetIssueByExternalRef(ctx, "gh-0"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown ref: expected ErrNotFound, got %v", err)
	}
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	mustCreate(t, store, "one", func(i *types.Issue) { i.ID = "bd-abc1" })
	mustCreate(t, store, "two", func(i *types.Issue) { i.ID = "bd-abc2" })
	mustCreate(t, store, "three", func(i *types.Issue) { i.ID = "bd-xyz" })

	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"bd-xyz", "bd-xyz", nil},
		{"xyz", "bd-xyz", nil},
		{"bd-x", "bd-xyz", nil},
		{"x", "bd-xyz", nil},
		{"abc1", "bd-abc1", nil},
		{"abc", "", storage.ErrAmbiguousID},
		{"qqq", "", storage.ErrNotFound},
		{"", "", storage.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := store.ResolveID(ctx, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveID(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ResolveID(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
		})
	}

	_, err := store.ResolveID(ctx, "abc")
	var amb *storage.AmbiguousIDError
	if !errors.As(err, &amb) || len(amb.Candidates) != 2 {
		t.Errorf("expected two candidates, got %v", err)
	}
}
