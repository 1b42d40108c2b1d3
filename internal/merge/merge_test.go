package merge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ts(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func baseIssue() *types.Issue {
	return &types.Issue{
		ID:          "bd-a1",
		Title:       "Write docs",
		Description: "first draft",
		Status:      types.StatusOpen,
		Priority:    2,
		IssueType:   types.TypeTask,
		CreatedAt:   t0,
		CreatedBy:   "alice",
		UpdatedAt:   t0,
		Labels:      []string{"docs"},
	}
}

func edit(issue *types.Issue, minutes int, fn func(*types.Issue)) *types.Issue {
	c := issue.Clone()
	fn(c)
	c.UpdatedAt = ts(minutes)
	return c
}

func TestParseStrategy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Strategy
	}{
		{"", StrategyNewest},
		{"newest", StrategyNewest},
		{" ours ", StrategyOurs},
		{"theirs", StrategyTheirs},
		{"manual", StrategyManual},
	} {
		got, err := ParseStrategy(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
	_, err := ParseStrategy("loudest")
	assert.Error(t, err)
}

func TestThreeWayDisjointFields(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) { i.Title = "Write API docs" })
	incoming := edit(base, 10, func(i *types.Issue) { i.Priority = 0 })

	for _, strategy := range []Strategy{StrategyNewest, StrategyOurs, StrategyTheirs, StrategyManual} {
		ab, err := ThreeWay(base, local, incoming, strategy)
		require.NoError(t, err, strategy)
		ba, err := ThreeWay(base, incoming, local, strategy)
		require.NoError(t, err, strategy)

		assert.Equal(t, "Write API docs", ab.Issue.Title)
		assert.Equal(t, 0, ab.Issue.Priority)
		assert.Empty(t, ab.Superseded)
		assert.Equal(t, ab.Issue.ContentHash, ba.Issue.ContentHash, "disjoint edits must commute")
		assert.Equal(t, ts(10), ab.Issue.UpdatedAt)
	}
}

func TestThreeWaySameFieldNewestWins(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) { i.Title = "Local title" })
	incoming := edit(base, 10, func(i *types.Issue) { i.Title = "Incoming title" })

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.Equal(t, "Incoming title", res.Issue.Title)
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, Supersession{Field: "title", Loser: SideLocal, LostValue: "Local title", KeptValue: "Incoming title"}, res.Superseded[0])

	// Swap the clocks: the local edit is now the newer one.
	local.UpdatedAt, incoming.UpdatedAt = ts(20), ts(10)
	res, err = ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.Equal(t, "Local title", res.Issue.Title)
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, SideIncoming, res.Superseded[0].Loser)
}

func TestThreeWayTieGoesToIncoming(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) { i.Notes = "mine" })
	incoming := edit(base, 5, func(i *types.Issue) { i.Notes = "theirs" })

	res, err := ThreeWay(base, local, incoming, "")
	require.NoError(t, err)
	assert.Equal(t, "theirs", res.Issue.Notes)
}

func TestThreeWayFixedStrategies(t *testing.T) {
	base := baseIssue()
	local := edit(base, 50, func(i *types.Issue) { i.Assignee = "bob" })
	incoming := edit(base, 10, func(i *types.Issue) { i.Assignee = "carol" })

	res, err := ThreeWay(base, local, incoming, StrategyTheirs)
	require.NoError(t, err)
	assert.Equal(t, "carol", res.Issue.Assignee)

	res, err = ThreeWay(base, local, incoming, StrategyOurs)
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Issue.Assignee)
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, "carol", res.Superseded[0].LostValue)
}

func TestThreeWayManualConflict(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) {
		i.Title = "A"
		i.Priority = 1
	})
	incoming := edit(base, 10, func(i *types.Issue) {
		i.Title = "B"
		i.Priority = 3
	})

	_, err := ThreeWay(base, local, incoming, StrategyManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "bd-a1", conflict.IssueID)
	assert.Equal(t, []string{"title", "priority"}, conflict.Fields)
}

func TestThreeWayWithoutBase(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) { i.Title = "A" })
	incoming := edit(base, 10, func(i *types.Issue) { i.Description = "rewritten" })

	// With no ancestor each difference is a conflict, settled by the strategy.
	res, err := ThreeWay(nil, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.Equal(t, "Write docs", res.Issue.Title)
	assert.Equal(t, "rewritten", res.Issue.Description)
	assert.Len(t, res.Superseded, 2)
}

func TestThreeWayCloseCarriesClosedAt(t *testing.T) {
	base := baseIssue()
	closedAt := ts(7)
	local := edit(base, 3, func(i *types.Issue) { i.Notes = "progress" })
	incoming := edit(base, 7, func(i *types.Issue) {
		i.Status = types.StatusClosed
		i.ClosedAt = &closedAt
		i.CloseReason = "done"
	})

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, res.Issue.Status)
	require.NotNil(t, res.Issue.ClosedAt)
	assert.Equal(t, closedAt, *res.Issue.ClosedAt)
	assert.Equal(t, "progress", res.Issue.Notes)
	assert.NoError(t, res.Issue.Validate())
}

func TestThreeWayLabels(t *testing.T) {
	base := baseIssue()
	base.Labels = []string{"docs", "old", "shared"}
	local := edit(base, 5, func(i *types.Issue) { i.Labels = []string{"docs", "shared", "mine"} })
	incoming := edit(base, 10, func(i *types.Issue) { i.Labels = []string{"old", "shared", "theirs"} })

	res, err := ThreeWay(base, local, incoming, StrategyManual)
	require.NoError(t, err)
	// docs removed by incoming, old removed by local, both additions kept.
	assert.Equal(t, []string{"mine", "shared", "theirs"}, res.Issue.Labels)
}

func TestThreeWayDependencies(t *testing.T) {
	base := baseIssue()
	base.Dependencies = []*types.Dependency{
		{IssueID: "bd-a1", DependsOnID: "bd-gone", Type: types.DepBlocks},
		{IssueID: "bd-a1", DependsOnID: "bd-kept", Type: types.DepBlocks},
	}
	local := edit(base, 5, func(i *types.Issue) {
		i.Dependencies = []*types.Dependency{
			{IssueID: "bd-a1", DependsOnID: "bd-kept", Type: types.DepRelated},
			{IssueID: "bd-a1", DependsOnID: "bd-new", Type: types.DepBlocks},
		}
	})
	incoming := edit(base, 10, func(i *types.Issue) {
		i.Dependencies = []*types.Dependency{
			{IssueID: "bd-a1", DependsOnID: "bd-gone", Type: types.DepBlocks},
			{IssueID: "bd-a1", DependsOnID: "bd-kept", Type: types.DepBlocks},
		}
	})

	res, err := ThreeWay(base, local, incoming, StrategyManual)
	require.NoError(t, err)
	require.Len(t, res.Issue.Dependencies, 2)
	assert.Equal(t, "bd-kept", res.Issue.Dependencies[0].DependsOnID)
	assert.Equal(t, types.DepRelated, res.Issue.Dependencies[0].Type, "only local changed the type")
	assert.Equal(t, "bd-new", res.Issue.Dependencies[1].DependsOnID)
}

func TestThreeWayDependencyTypeConflict(t *testing.T) {
	base := baseIssue()
	base.Dependencies = []*types.Dependency{{IssueID: "bd-a1", DependsOnID: "bd-x", Type: types.DepBlocks}}
	local := edit(base, 5, func(i *types.Issue) { i.Dependencies[0].Type = types.DepRelated })
	incoming := edit(base, 10, func(i *types.Issue) { i.Dependencies[0].Type = types.DepParentChild })

	_, err := ThreeWay(base, local, incoming, StrategyManual)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"dependency bd-x"}, conflict.Fields)

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.Equal(t, types.DepParentChild, res.Issue.Dependencies[0].Type)
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, "related", res.Superseded[0].LostValue)
}

func TestThreeWayCommentsUnion(t *testing.T) {
	base := baseIssue()
	shared := &types.Comment{ID: 1, Author: "alice", Text: "hi", CreatedAt: ts(1)}
	base.Comments = []*types.Comment{shared}
	local := edit(base, 5, func(i *types.Issue) {
		i.Comments = append(i.Comments, &types.Comment{ID: 2, Author: "bob", Text: "later", CreatedAt: ts(4)})
	})
	incoming := edit(base, 10, func(i *types.Issue) {
		// Same comment under another store's id.
		i.Comments[0].ID = 99
		i.Comments = append(i.Comments, &types.Comment{ID: 100, Author: "carol", Text: "early", CreatedAt: ts(2)})
	})

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	var texts []string
	for _, c := range res.Issue.Comments {
		texts = append(texts, c.Text)
		assert.Equal(t, "bd-a1", c.IssueID)
	}
	assert.Equal(t, []string{"hi", "early", "later"}, texts)
}

func tombstone(issue *types.Issue, minutes int) *types.Issue {
	return edit(issue, minutes, func(i *types.Issue) {
		deleted := ts(minutes)
		i.OriginalType = string(i.IssueType)
		i.Status = types.StatusTombstone
		i.DeletedAt = &deleted
		i.DeletedBy = "bob"
		i.DeleteReason = "duplicate"
	})
}

func TestThreeWayTombstoneWinsOverUnchanged(t *testing.T) {
	base := baseIssue()
	local := base.Clone()
	incoming := tombstone(base, 10)

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.True(t, res.Issue.IsTombstone())
	assert.Empty(t, res.Superseded)
}

func TestThreeWayTombstoneWinsOverOlderEdit(t *testing.T) {
	base := baseIssue()
	local := edit(base, 5, func(i *types.Issue) { i.Title = "edited before delete" })
	incoming := tombstone(base, 10)

	res, err := ThreeWay(base, local, incoming, StrategyNewest)
	require.NoError(t, err)
	assert.True(t, res.Issue.IsTombstone())
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, Supersession{Field: "deleted", Loser: SideLocal, LostValue: "open|||", KeptValue: "tombstone"}, res.Superseded[0])
}

func TestThreeWayEditAfterDeleteResurrects(t *testing.T) {
	base := baseIssue()
	local := tombstone(base, 5)
	incoming := edit(base, 10, func(i *types.Issue) { i.Title = "still needed" })

	res, err := ThreeWay(base, local, incoming, StrategyOurs)
	require.NoError(t, err)
	assert.False(t, res.Issue.IsTombstone())
	assert.Nil(t, res.Issue.DeletedAt)
	assert.Equal(t, "still needed", res.Issue.Title)
	require.Len(t, res.Superseded, 1)
	assert.Equal(t, SideLocal, res.Superseded[0].Loser)
	assert.NoError(t, res.Issue.Validate())
}

func TestThreeWayBothDeleted(t *testing.T) {
	base := baseIssue()
	local := tombstone(base, 20)
	local.DeleteReason = "obsolete"
	incoming := tombstone(base, 10)

	res, err := ThreeWay(base, local, incoming, StrategyTheirs)
	require.NoError(t, err)
	assert.Equal(t, "obsolete", res.Issue.DeleteReason)
	assert.Equal(t, ts(20), *res.Issue.DeletedAt)
}

func TestSameState(t *testing.T) {
	a := baseIssue()
	b := a.Clone()
	b.UpdatedAt = ts(99)
	assert.True(t, SameState(a, b), "updated_at alone is not a change")

	b.Labels = []string{"other"}
	assert.False(t, SameState(a, b))

	c := a.Clone()
	c.Dependencies = []*types.Dependency{{DependsOnID: "bd-x", Type: types.DepBlocks}}
	assert.False(t, SameState(a, c))

	d := a.Clone()
	d.Comments = []*types.Comment{{Author: "x", Text: "y", CreatedAt: t0}}
	assert.False(t, SameState(a, d))
}
