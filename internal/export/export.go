// Package export writes the store to the line-oriented issue log.
//
// An export is all-or-nothing: the new log is written to a temp file in the
// target directory and renamed over the old one, so readers only ever see a
// complete file. Bookkeeping (dirty flags, export hashes, sync metadata and
// the merge base snapshot) is updated only after the rename succeeded.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/jsonl"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// ErrLogChanged is returned when the log on disk is not the one this store
// last wrote or imported. Overwriting it would discard someone else's
// changes; import first, or set Options.Force.
var ErrLogChanged = errors.New("log file changed since the last sync")

// Store is what an export needs from the entity store.
type Store interface {
	GetDirtyMarks(ctx context.Context) (map[string]time.Time, error)
	Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error)
	SnapshotIssues(ctx context.Context, ids []string) ([]*types.Issue, error)
	IssueIDs(ctx context.Context) ([]string, error)
	ClearDirtyIssuesExported(ctx context.Context, marks map[string]time.Time) error
	SetExportHashes(ctx context.Context, hashes map[string]string) error
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// Options controls an export.
type Options struct {
	Mode Mode
	// Force overwrites a log that changed behind the store's back.
	Force bool
	// WriteManifest also writes <name>.manifest.json.
	WriteManifest bool
}

// Result describes a finished export.
type Result struct {
	Path         string
	Mode         Mode
	Exported     int // records in the new log
	Refreshed    int // records taken from the store rather than the old log
	ContentHash  string
	DirtyCleared int
}

// Export writes the store to path.
func Export(ctx context.Context, store Store, path string, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}

	if !opts.Force {
		if err := checkLogUnchanged(ctx, store, path); err != nil {
			return nil, err
		}
	}

	// Capture the dirty marks before reading. Only these marks are cleared
	// afterwards, so an issue re-marked while the export runs stays dirty.
	marks, err := store.GetDirtyMarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read dirty issues: %w", err)
	}
	dirty := make([]string, 0, len(marks))
	for id := range marks {
		dirty = append(dirty, id)
	}
	sort.Strings(dirty)

	var (
		records   []*types.Issue
		refreshed map[string]bool
	)
	mode := opts.Mode
	if mode == ModeIncremental {
		records, refreshed, err = incrementalRecords(ctx, store, path, dirty)
		if errors.Is(err, errNoBaseLog) {
			debug.Logf("export: no existing log at %s, falling back to a full export\n", path)
			mode = ModeFull
		} else if err != nil {
			return nil, err
		}
	}
	if mode == ModeFull {
		records, err = store.Snapshot(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
		refreshed = make(map[string]bool, len(records))
		for _, issue := range records {
			refreshed[issue.ID] = true
		}
	}

	for _, issue := range records {
		PrepareRecord(issue)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	contentHash, err := jsonl.WriteIssuesAtomic(path, records)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	debug.Logf("export: wrote %d records to %s (%s)\n", len(records), path, mode)

	result := &Result{
		Path:        path,
		Mode:        mode,
		Exported:    len(records),
		Refreshed:   len(refreshed),
		ContentHash: contentHash,
	}
	if err := finish(ctx, store, path, records, refreshed, marks, result); err != nil {
		return result, err
	}

	if opts.WriteManifest {
		manifest := &Manifest{
			ExportedAt:   time.Now().UTC(),
			Mode:         mode,
			IssueCount:   result.Exported,
			Refreshed:    result.Refreshed,
			ContentHash:  contentHash,
			DirtyCleared: result.DirtyCleared,
		}
		if err := WriteManifest(path, manifest); err != nil {
			return result, fmt.Errorf("write export manifest: %w", err)
		}
	}
	return result, nil
}

// finish records the bookkeeping of an export whose log is already in place.
func finish(ctx context.Context, store Store, path string, records []*types.Issue, refreshed map[string]bool, marks map[string]time.Time, result *Result) error {
	if err := store.ClearDirtyIssuesExported(ctx, marks); err != nil {
		return fmt.Errorf("clear dirty issues: %w", err)
	}
	result.DirtyCleared = len(marks)

	hashes := make(map[string]string, len(refreshed))
	for _, issue := range records {
		if refreshed[issue.ID] {
			hashes[issue.ID] = issue.ContentHash
		}
	}
	if err := store.SetExportHashes(ctx, hashes); err != nil {
		return fmt.Errorf("record export hashes: %w", err)
	}

	if err := store.SetMetadata(ctx, storage.MetaJSONLContentHash, result.ContentHash); err != nil {
		return fmt.Errorf("record log hash: %w", err)
	}
	if err := store.SetMetadata(ctx, storage.MetaLastExportTime, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record export time: %w", err)
	}
	// The log now equals the store, so it is the base of the next merge.
	if info, err := os.Stat(path); err == nil {
		if err := store.SetMetadata(ctx, storage.MetaLastImportMtime, fmt.Sprint(info.ModTime().UnixNano())); err != nil {
			return fmt.Errorf("record log mtime: %w", err)
		}
	}
	if _, err := jsonl.WriteIssuesAtomic(jsonl.BasePath(path), records); err != nil {
		return fmt.Errorf("write base snapshot: %w", err)
	}
	return nil
}

// checkLogUnchanged fails with ErrLogChanged when an existing, non-empty log
// does not hash to what the store last wrote or imported.
func checkLogUnchanged(ctx context.Context, store Store, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	stored, err := store.GetMetadata(ctx, storage.MetaJSONLContentHash)
	if err != nil {
		return fmt.Errorf("read log hash: %w", err)
	}
	current, err := jsonl.FileHash(path)
	if err != nil {
		return err
	}
	if current != stored {
		return fmt.Errorf("%s: %w; import it first or export with --force", path, ErrLogChanged)
	}
	return nil
}

var errNoBaseLog = errors.New("no existing log")

// incrementalRecords rebuilds the log from its current lines, replacing dirty
// issues with their stored state and dropping issues the store no longer has.
func incrementalRecords(ctx context.Context, store Store, path string, dirty []string) ([]*types.Issue, map[string]bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, errNoBaseLog
	}
	existing, err := jsonl.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read existing log: %w", err)
	}
	fresh, err := store.SnapshotIssues(ctx, dirty)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot dirty issues: %w", err)
	}
	ids, err := store.IssueIDs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list issues: %w", err)
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	byID := make(map[string]*types.Issue, len(existing)+len(fresh))
	for _, issue := range existing {
		if live[issue.ID] {
			byID[issue.ID] = issue
		}
	}
	refreshed := make(map[string]bool, len(fresh))
	for _, issue := range fresh {
		byID[issue.ID] = issue
		refreshed[issue.ID] = true
	}

	records := make([]*types.Issue, 0, len(byID))
	for _, issue := range byID {
		records = append(records, issue)
	}
	return records, refreshed, nil
}

// PrepareRecord puts an issue into its canonical log form: sub-records
// point at the issue, labels are sorted, dependencies are sorted by target,
// comments by time then id, and the content hash is recomputed.
func PrepareRecord(issue *types.Issue) {
	issue.SetDefaults()
	sort.Strings(issue.Labels)
	for _, dep := range issue.Dependencies {
		dep.IssueID = issue.ID
	}
	sort.Slice(issue.Dependencies, func(i, j int) bool {
		return issue.Dependencies[i].DependsOnID < issue.Dependencies[j].DependsOnID
	})
	for _, c := range issue.Comments {
		c.IssueID = issue.ID
	}
	sort.SliceStable(issue.Comments, func(i, j int) bool {
		a, b := issue.Comments[i], issue.Comments[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	issue.ContentHash = issue.ComputeContentHash()
}
