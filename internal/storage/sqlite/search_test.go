package sqlite

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/beadsync/beadsync/internal/types"
)

func TestSearchIssues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	bob := "bob"

	login := mustCreate(t, store, "Fix login_page 100% broken", func(i *types.Issue) {
		i.ID = "bd-a1"
		i.IssueType = types.TypeBug
		i.Priority = 0
		i.Labels = []string{"frontend", "urgent"}
	})
	docs := mustCreate(t, store, "Write docs", func(i *types.Issue) {
		i.ID = "bd-a2"
		i.Description = "explain the login flow"
		i.Assignee = bob
		i.Labels = []string{"docs"}
	})
	chore := mustCreate(t, store, "Tidy build", func(i *types.Issue) {
		i.ID = "bd-b3"
		i.IssueType = types.TypeChore
		i.Pinned = true
	})
	gone := mustCreate(t, store, "login leftovers", func(i *types.Issue) { i.ID = "bd-b4" })
	if err := store.DeleteIssue(ctx, gone.ID, "", "tester"); err != nil {
		t.Fatalf("DeleteIssue failed: %v", err)
	}

	bug := types.TypeBug
	one, four := 1, 4
	yes, no := true, false
	tests := []struct {
		name   string
		query  string
		filter types.IssueFilter
		want   []string
	}{
		{"everything live", "", types.IssueFilter{}, []string{login.ID, docs.ID, chore.ID}},
		{"text in title or description", "login", types.IssueFilter{}, []string{login.ID, docs.ID}},
		{"wildcards match literally", "100%", types.IssueFilter{}, []string{login.ID}},
		{"underscore is literal", "n_p", types.IssueFilter{}, []string{login.ID}},
		{"with tombstones", "login", types.IssueFilter{IncludeTombstones: true}, []string{login.ID, docs.ID, gone.ID}},
		{"type", "", types.IssueFilter{IssueType: &bug}, []string{login.ID}},
		{"assignee", "", types.IssueFilter{Assignee: &bob}, []string{docs.ID}},
		{"no assignee", "", types.IssueFilter{NoAssignee: true}, []string{login.ID, chore.ID}},
		{"all labels", "", types.IssueFilter{Labels: []string{"frontend", "urgent"}}, []string{login.ID}},
		{"any label", "", types.IssueFilter{LabelsAny: []string{"docs", "urgent"}}, []string{login.ID, docs.ID}},
		{"no labels", "", types.IssueFilter{NoLabels: true}, []string{chore.ID}},
		{"priority range", "", types.IssueFilter{PriorityMin: &one, PriorityMax: &four}, []string{docs.ID, chore.ID}},
		{"id prefix", "", types.IssueFilter{IDPrefix: "bd-b"}, []string{chore.ID}},
		{"ids", "", types.IssueFilter{IDs: []string{chore.ID, docs.ID}}, []string{docs.ID, chore.ID}},
		{"pinned", "", types.IssueFilter{Pinned: &yes}, []string{chore.ID}},
		{"not pinned", "", types.IssueFilter{Pinned: &no}, []string{login.ID, docs.ID}},
		{"empty description", "", types.IssueFilter{EmptyDescription: true}, []string{login.ID, chore.ID}},
		{"limit and offset", "", types.IssueFilter{Limit: 1, Offset: 1}, []string{docs.ID}},
		{"offset only", "", types.IssueFilter{Offset: 2}, []string{chore.ID}},
		{"sorted by title desc", "", types.IssueFilter{Sort: []types.IssueSortOption{{Field: types.SortFieldTitle, Direction: types.SortDesc}}}, []string{docs.ID, chore.ID, login.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := tt.filter
			if filter.Sort == nil {
				filter.Sort = []types.IssueSortOption{{Field: types.SortFieldID}}
			}
			got, err := store.SearchIssues(ctx, tt.query, filter)
			if err != nil {
				t.Fatalf("SearchIssues failed: %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Errorf("got %v, want %v", ids(got), tt.want)
			}
		})
	}

	got, _ := store.SearchIssues(ctx, "", types.IssueFilter{IDs: []string{login.ID}})
	if len(got) != 1 || !reflect.DeepEqual(got[0].Labels, []string{"frontend", "urgent"}) {
		t.Errorf("labels should be attached, got %+v", got)
	}
}

func TestSearchIssuesDateRanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	old := mustCreate(t, store, "old", func(i *types.Issue) { i.CreatedAt = base; i.UpdatedAt = base })
	recent := mustCreate(t, store, "recent", func(i *types.Issue) {
		i.CreatedAt = base.Add(72 * time.Hour)
		i.UpdatedAt = i.CreatedAt
		due := base.Add(96 * time.Hour)
		i.DueAt = &due
	})

	after := base.Add(24 * time.Hour)
	got, err := store.SearchIssues(ctx, "", types.IssueFilter{CreatedAfter: &after})
	if err != nil {
		t.Fatalf("SearchIssues failed: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{recent.ID}) {
		t.Errorf("created after = %v", ids(got))
	}
	got, _ = store.SearchIssues(ctx, "", types.IssueFilter{CreatedBefore: &after})
	if !reflect.DeepEqual(ids(got), []string{old.ID}) {
		t.Errorf("created before = %v", ids(got))
	}
	dueBy := base.Add(100 * time.Hour)
	got, _ = store.SearchIssues(ctx, "", types.IssueFilter{DueBefore: &dueBy})
	if !reflect.DeepEqual(ids(got), []string{recent.ID}) {
		t.Errorf("due before = %v", ids(got))
	}
}
