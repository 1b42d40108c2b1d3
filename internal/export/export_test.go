package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadsync/beadsync/internal/jsonl"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/storage/sqlite"
	"github.com/beadsync/beadsync/internal/types"
)

func newStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "beads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SetConfig(ctx, sqlite.ConfigIssuePrefix, "bd"))
	return store
}

func create(t *testing.T, store *sqlite.SQLiteStorage, id, title string, labels ...string) *types.Issue {
	t.Helper()
	issue := &types.Issue{ID: id, Title: title, Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask, Labels: labels}
	require.NoError(t, store.CreateIssue(context.Background(), issue, "tester"))
	return issue
}

func TestFullExport(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-c", "C", "zeta", "alpha")
	create(t, store, "bd-a", "A")
	create(t, store, "bd-b", "B")
	require.NoError(t, store.AddDependency(ctx, &types.Dependency{IssueID: "bd-a", DependsOnID: "bd-c", Type: types.DepBlocks}, "tester"))
	require.NoError(t, store.AddDependency(ctx, &types.Dependency{IssueID: "bd-a", DependsOnID: "bd-b", Type: types.DepRelated}, "tester"))
	_, err := store.AddComment(ctx, "bd-a", "alice", "first")
	require.NoError(t, err)
	require.NoError(t, store.DeleteIssue(ctx, "bd-b", "dup", "tester"))

	path := filepath.Join(t.TempDir(), ".beads", "issues.jsonl")
	result, err := Export(ctx, store, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, 3, result.Exported)
	assert.Equal(t, 3, result.DirtyCleared)

	records, err := jsonl.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"bd-a", "bd-b", "bd-c"}, []string{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, []string{"alpha", "zeta"}, records[2].Labels)
	require.Len(t, records[0].Dependencies, 2)
	assert.Equal(t, "bd-b", records[0].Dependencies[0].DependsOnID)
	require.Len(t, records[0].Comments, 1)
	assert.Equal(t, types.StatusTombstone, records[1].Status, "tombstones are exported")

	n, err := store.GetDirtyIssueCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	fileHash, err := jsonl.FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, fileHash, result.ContentHash)
	stored, err := store.GetMetadata(ctx, storage.MetaJSONLContentHash)
	require.NoError(t, err)
	assert.Equal(t, fileHash, stored)
	exportedAt, _ := store.GetMetadata(ctx, storage.MetaLastExportTime)
	assert.NotEmpty(t, exportedAt)

	hashA, err := store.GetExportHash(ctx, "bd-a")
	require.NoError(t, err)
	assert.Equal(t, records[0].ComputeContentHash(), hashA)

	baseHash, err := jsonl.FileHash(jsonl.BasePath(path))
	require.NoError(t, err)
	assert.Equal(t, fileHash, baseHash, "base snapshot matches the exported log")
}

func TestExportIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-a", "A")

	// A non-empty directory at the target path makes the final rename fail.
	path := filepath.Join(t.TempDir(), "issues.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0o750))

	_, err := Export(ctx, store, path, Options{Force: true})
	require.Error(t, err)

	n, err := store.GetDirtyIssueCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "dirty flags survive a failed export")
	stored, _ := store.GetMetadata(ctx, storage.MetaJSONLContentHash)
	assert.Empty(t, stored)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.", "temp file left behind")
	}
}

func TestExportRefusesChangedLog(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-a", "A")
	path := filepath.Join(t.TempDir(), "issues.jsonl")

	_, err := Export(ctx, store, path, Options{})
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"bd-z","title":"pulled","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Export(ctx, store, path, Options{})
	require.ErrorIs(t, err, ErrLogChanged)

	_, err = Export(ctx, store, path, Options{Force: true})
	require.NoError(t, err)
}

// editAfterRead edits an issue as soon as the export has read the store,
// standing in for a writer racing the export.
type editAfterRead struct {
	*sqlite.SQLiteStorage
	t    *testing.T
	id   string
	done bool
}

func (s *editAfterRead) Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error) {
	issues, err := s.SQLiteStorage.Snapshot(ctx, includeTombstones)
	if err == nil && !s.done {
		s.done = true
		require.NoError(s.t, s.UpdateIssue(ctx, s.id, map[string]interface{}{"title": "edited meanwhile"}, "racer"))
	}
	return issues, err
}

func TestExportKeepsIssuesEditedDuringExportDirty(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-a", "A")
	create(t, store, "bd-b", "B")
	path := filepath.Join(t.TempDir(), "issues.jsonl")

	result, err := Export(ctx, &editAfterRead{SQLiteStorage: store, t: t, id: "bd-a"}, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Exported)

	records, err := jsonl.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Title)

	dirty, err := store.GetDirtyIssues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bd-a"}, dirty, "the edit made after the read must reach the next export")

	_, err = Export(ctx, store, path, Options{Mode: ModeIncremental})
	require.NoError(t, err)
	records, err = jsonl.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "edited meanwhile", records[0].Title)
	n, err := store.GetDirtyIssueCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncrementalExport(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-a", "A")
	create(t, store, "bd-b", "B")
	path := filepath.Join(t.TempDir(), "issues.jsonl")

	_, err := Export(ctx, store, path, Options{})
	require.NoError(t, err)

	// Hand-edit the log: bd-b's line carries a marker title and a record the
	// store never had is appended.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(data), `"title":"B"`, `"title":"B from log"`, 1)
	edited += `{"id":"bd-ghost","title":"ghost","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	require.NoError(t, store.UpdateIssue(ctx, "bd-a", map[string]interface{}{"title": "A2"}, "tester"))
	create(t, store, "bd-c", "C")

	result, err := Export(ctx, store, path, Options{Mode: ModeIncremental, Force: true})
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, result.Mode)
	assert.Equal(t, 2, result.Refreshed)

	records, err := jsonl.ReadFile(path)
	require.NoError(t, err)
	titles := map[string]string{}
	for _, r := range records {
		titles[r.ID] = r.Title
	}
	assert.Equal(t, map[string]string{"bd-a": "A2", "bd-b": "B from log", "bd-c": "C"}, titles)
}

func TestIncrementalWithoutLogFallsBackToFull(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	create(t, store, "bd-a", "A")
	path := filepath.Join(t.TempDir(), "issues.jsonl")

	result, err := Export(ctx, store, path, Options{Mode: ModeIncremental, WriteManifest: true})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, 1, result.Exported)
	assert.FileExists(t, jsonl.ManifestPath(path, "manifest"))
}

func TestExportRejectsUnknownMode(t *testing.T) {
	_, err := Export(context.Background(), newStore(t), filepath.Join(t.TempDir(), "x.jsonl"), Options{Mode: "partial"})
	assert.Error(t, err)
}
