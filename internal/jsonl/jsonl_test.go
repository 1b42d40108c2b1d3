package jsonl

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadsync/beadsync/internal/types"
)

func TestReaderSkipsBlankLinesAndCountsLines(t *testing.T) {
	input := `{"id":"bd-1","title":"one","status":"open","priority":1,"issue_type":"task","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}

   
{"id":"bd-2","title":"two","priority":0,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z","labels":["a"]}
`
	r := NewReader(strings.NewReader(input))

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Line)
	assert.Equal(t, "bd-1", first.Issue.ID)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, second.Line)
	assert.Equal(t, []string{"a"}, second.Issue.Labels)
	assert.Equal(t, 0, second.Issue.Priority)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderReportsMalformedLine(t *testing.T) {
	input := `{"id":"bd-1","title":"ok","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}
{"id":"bd-2","title":"bad","priority":"high"}
{not json
`
	r := NewReader(strings.NewReader(input))
	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 2, perr.Line)
	assert.Equal(t, "bd-2", perr.ID)
	assert.Equal(t, "priority", perr.Field)
	assert.Contains(t, err.Error(), "issue bd-2")

	// The reader can continue past a bad record.
	_, err = r.Next()
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Line)
	assert.Empty(t, perr.ID)
}

func TestLenientDecodeDropsNonCoreFields(t *testing.T) {
	raw := []byte(`{"id":"bd-1","title":"t","priority":2,"estimated_minutes":"soon","labels":["x"],"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}`)
	issue, dropped, perr := DecodeLenient(raw)
	require.Nil(t, perr)
	assert.Equal(t, []string{"estimated_minutes"}, dropped)
	assert.Nil(t, issue.EstimatedMinutes)
	assert.Equal(t, []string{"x"}, issue.Labels)
	assert.Equal(t, "bd-1", issue.ID)

	_, _, perr = DecodeLenient([]byte(`{"id":"bd-1","title":"t","created_at":"yesterday"}`))
	require.NotNil(t, perr)
	assert.Equal(t, "created_at", perr.Field)
	assert.Equal(t, "bd-1", perr.ID)
}

func TestLenientReader(t *testing.T) {
	input := `{"id":"bd-1","title":"t","due_at":12,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}` + "\n"
	rec, err := NewReader(strings.NewReader(input)).Lenient().Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"due_at"}, rec.Dropped)
}

func TestReaderHandlesLongLines(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	input := `{"id":"bd-1","title":"t","description":"` + long + `","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}` + "\n"
	rec, err := NewReader(strings.NewReader(input)).Next()
	require.NoError(t, err)
	assert.Len(t, rec.Issue.Description, len(long))
}

func TestConflictMarkers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		lines []int
	}{
		{"clean", `{"id":"bd-1"}` + "\n" + `{"id":"bd-2"}` + "\n", nil},
		{"git markers", "<<<<<<< HEAD\n{\"id\":\"bd-1\"}\n=======\n{\"id\":\"bd-1\"}\n>>>>>>> theirs\n", []int{1, 3, 5}},
		{"bare markers with CRLF", "<<<<<<<\r\n=======\r\n>>>>>>>\r\n", []int{1, 2, 3}},
		{"equals inside a record is fine", `{"id":"bd-1","title":"======="}` + "\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConflictMarkers(strings.NewReader(tt.input))
			if tt.lines == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConflictMarkers)
			var cme *ConflictMarkerError
			require.True(t, errors.As(err, &cme))
			assert.Equal(t, tt.lines, cme.Lines)
		})
	}
}

func TestCheckFileConflictMarkers(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckFileConflictMarkers(filepath.Join(dir, "missing.jsonl")))

	path := filepath.Join(dir, "issues.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("=======\n"), 0o600))
	err := CheckFileConflictMarkers(path)
	require.ErrorIs(t, err, ErrConflictMarkers)
	assert.Contains(t, err.Error(), path)
}

func TestAtomicWriterCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issues := []*types.Issue{
		{ID: "bd-1", Title: "one", Status: types.StatusOpen, IssueType: types.TypeTask, CreatedAt: now, UpdatedAt: now},
		{ID: "bd-2", Title: "two", Status: types.StatusOpen, IssueType: types.TypeBug, CreatedAt: now, UpdatedAt: now},
	}
	sum, err := WriteIssuesAtomic(path, issues)
	require.NoError(t, err)

	fileSum, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, fileSum, sum)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	back, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, issues[0].ComputeContentHash(), back[0].ComputeContentHash())

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestAtomicWriterAbortLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	w, err := CreateAtomic(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteIssue(&types.Issue{ID: "bd-1", Title: "new"}))
	w.Abort()
	w.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
	assert.Error(t, w.Commit(), "commit after abort must fail")
}

func TestReadFileMissing(t *testing.T) {
	issues, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestDeduplicate(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)
	issues := []*types.Issue{
		{ID: "bd-1", Title: "first", UpdatedAt: older},
		{ID: "bd-2", Title: "unique", UpdatedAt: now},
		{ID: "bd-1", Title: "second", UpdatedAt: now},
		{ID: "bd-1", Title: "stale", UpdatedAt: older},
	}
	kept, removed := Deduplicate(issues)
	require.Len(t, kept, 2)
	assert.Equal(t, "second", kept[0].Title)
	assert.Equal(t, "bd-2", kept[1].ID)
	require.Len(t, removed, 1)
	assert.Equal(t, "bd-1", removed[0].ID)
	assert.Equal(t, "second", removed[0].KeptVersion.Title)
	assert.Len(t, removed[0].RemovedVersions, 2)
}
