// Package importer reconciles the line-oriented issue log back into the
// store.
//
// An import runs in phases: a staleness check that skips an unchanged log,
// a conflict-marker scan that refuses a half-merged file before anything is
// written, a streaming parse, normalization, collision remapping, and then a
// three-way merge of every record against the base snapshot written by the
// last sync and the current store state. Each record is applied in its own
// transaction. Sync metadata and the new base snapshot are written last, so
// an import that fails midway is simply repeated.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/export"
	"github.com/beadsync/beadsync/internal/jsonl"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// Store is what an import needs from the entity store.
type Store interface {
	Snapshot(ctx context.Context, includeTombstones bool) ([]*types.Issue, error)
	GetDirtyIssues(ctx context.Context) ([]string, error)
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error
}

// SkippedRecord is a record the error policy dropped.
type SkippedRecord struct {
	Line   int    `json:"line,omitempty"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// RejectedDependency is an incoming edge the store refused.
type RejectedDependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Err         error  `json:"-"`
}

// MarshalJSON reports Err as its message.
func (r RejectedDependency) MarshalJSON() ([]byte, error) {
	type plain RejectedDependency
	msg := ""
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(r), msg})
}

// Result contains statistics about the import operation
type Result struct {
	UpToDate   bool              // The log had not changed; nothing was read
	Created    int               // New issues created
	Updated    int               // Existing issues updated
	Unchanged  int               // Existing issues that matched exactly (idempotent)
	Deleted    int               // Local issues tombstoned because the log dropped them
	KeptLocal  int               // Issues whose merged state kept local changes
	Superseded int               // Losing changes recorded as superseded events
	IDMapping  map[string]string // Remapped and unified ids (old -> new)
	Collisions []Collision       // Ids both sides created independently
	Conflicts  []string          // Issues a manual merge could not settle
	Skipped    []SkippedRecord
	Warnings   []string

	RejectedDependencies []RejectedDependency
	ContentHash          string
	ManifestPath         string
}

// importer carries the state of one ImportFile call.
type importer struct {
	store  Store
	path   string
	opts   Options
	result *Result

	base      map[string]*types.Issue
	hasBase   bool
	local     map[string]*types.Issue
	preDirty  map[string]bool
	touched   map[string]bool
	synced    map[string]bool   // stored state equals the log record
	remapped  map[string]string // new id -> colliding id
	mustFlush map[string]bool
}

// ImportFile reconciles the log at path into store.
func ImportFile(ctx context.Context, store Store, path string, opts Options) (*Result, error) {
	opts.setDefaults()
	imp := &importer{
		store:     store,
		path:      path,
		opts:      opts,
		result:    &Result{IDMapping: make(map[string]string)},
		touched:   make(map[string]bool),
		synced:    make(map[string]bool),
		remapped:  make(map[string]string),
		mustFlush: make(map[string]bool),
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	mtime := fmt.Sprint(info.ModTime().UnixNano())
	if !opts.Force {
		stored, err := store.GetMetadata(ctx, storage.MetaLastImportMtime)
		if err != nil {
			return nil, fmt.Errorf("read import mtime: %w", err)
		}
		if stored == mtime {
			debug.Logf("import: %s unchanged since the last sync (mtime)\n", path)
			imp.result.UpToDate = true
			return imp.result, nil
		}
	}

	// Nothing is written before the markers are ruled out.
	if err := jsonl.CheckFileConflictMarkers(path); err != nil {
		return nil, err
	}

	hash, err := jsonl.FileHash(path)
	if err != nil {
		return nil, err
	}
	imp.result.ContentHash = hash
	if !opts.Force {
		stored, err := store.GetMetadata(ctx, storage.MetaJSONLContentHash)
		if err != nil {
			return nil, fmt.Errorf("read log hash: %w", err)
		}
		if stored == hash {
			debug.Logf("import: %s unchanged since the last sync (hash)\n", path)
			if err := store.SetMetadata(ctx, storage.MetaLastImportMtime, mtime); err != nil {
				return nil, fmt.Errorf("record log mtime: %w", err)
			}
			imp.result.UpToDate = true
			return imp.result, nil
		}
	}

	incoming, err := imp.parse(ctx)
	if err != nil {
		return imp.result, err
	}
	if err := imp.loadState(ctx); err != nil {
		return imp.result, err
	}
	incoming, err = imp.remap(ctx, incoming)
	if err != nil {
		return imp.result, err
	}

	placeholders, incoming, err := imp.checkOrphans(incoming)
	if err != nil {
		return imp.result, err
	}

	for _, issue := range placeholders {
		if err := imp.applyPlaceholder(ctx, issue); err != nil {
			return imp.result, err
		}
	}
	for _, issue := range incoming {
		if err := ctx.Err(); err != nil {
			return imp.result, err
		}
		if err := imp.applyWithPolicy(ctx, issue); err != nil {
			return imp.result, err
		}
	}
	if err := imp.applyDeletions(ctx, incoming); err != nil {
		return imp.result, err
	}

	if err := imp.finish(ctx, incoming, mtime); err != nil {
		return imp.result, err
	}
	debug.Logf("import: %s created=%d updated=%d unchanged=%d deleted=%d skipped=%d\n",
		path, imp.result.Created, imp.result.Updated, imp.result.Unchanged, imp.result.Deleted, len(imp.result.Skipped))
	return imp.result, nil
}

// parse streams the log, applying the error policy to malformed lines.
func (imp *importer) parse(ctx context.Context) ([]*types.Issue, error) {
	// #nosec G304 - path is the configured log location
	f, err := os.Open(imp.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", imp.path, err)
	}
	defer func() { _ = f.Close() }()

	reader := jsonl.NewReader(f)
	if imp.opts.ErrorPolicy == PolicyRequiredCore {
		reader.Lenient()
	}

	var issues []*types.Issue
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		var perr *jsonl.ParseError
		if errors.As(err, &perr) {
			if imp.opts.ErrorPolicy == PolicyStrict || imp.opts.ErrorPolicy == PolicyRequiredCore {
				return nil, err
			}
			imp.skip(SkippedRecord{Line: perr.Line, ID: perr.ID, Reason: perr.Error()})
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(rec.Dropped) > 0 {
			imp.warn("line %d (%s): dropped undecodable fields %s", rec.Line, rec.Issue.ID, strings.Join(rec.Dropped, ", "))
		}
		normalize(rec.Issue)
		if rec.Issue.ID == "" {
			if imp.opts.ErrorPolicy == PolicyStrict || imp.opts.ErrorPolicy == PolicyRequiredCore {
				return nil, &jsonl.ParseError{Line: rec.Line, Field: "id", Err: errors.New("record has no id")}
			}
			imp.skip(SkippedRecord{Line: rec.Line, Reason: "record has no id"})
			continue
		}
		issues = append(issues, rec.Issue)
	}

	issues, removed := jsonl.Deduplicate(issues)
	for _, dup := range removed {
		imp.warn("%s appears %d times in the log; kept the version updated %s",
			dup.ID, len(dup.RemovedVersions)+1, dup.KeptVersion.UpdatedAt.Format(time.RFC3339))
	}
	return issues, nil
}

// loadState reads the base snapshot and the current store.
func (imp *importer) loadState(ctx context.Context) error {
	basePath := jsonl.BasePath(imp.path)
	base, err := jsonl.ReadFile(basePath)
	if err != nil {
		debug.Logf("import: ignoring unreadable base snapshot %s: %v\n", basePath, err)
		base = nil
	}
	if _, statErr := os.Stat(basePath); statErr == nil && err == nil {
		imp.hasBase = true
	}
	imp.base = make(map[string]*types.Issue, len(base))
	for _, issue := range base {
		normalize(issue)
		imp.base[issue.ID] = issue
	}

	local, err := imp.store.Snapshot(ctx, true)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	imp.local = make(map[string]*types.Issue, len(local))
	for _, issue := range local {
		issue.ContentHash = issue.ComputeContentHash()
		imp.local[issue.ID] = issue
	}

	dirty, err := imp.store.GetDirtyIssues(ctx)
	if err != nil {
		return fmt.Errorf("read dirty issues: %w", err)
	}
	imp.preDirty = make(map[string]bool, len(dirty))
	for _, id := range dirty {
		imp.preDirty[id] = true
	}
	return nil
}

// remap unifies duplicates onto their local id and moves colliding records
// to fresh ids, rewriting references in every incoming record.
func (imp *importer) remap(ctx context.Context, incoming []*types.Issue) ([]*types.Issue, error) {
	unified := detectDuplicates(incoming, imp.local, imp.base)
	if len(unified) > 0 {
		kept := incoming[:0]
		for _, issue := range incoming {
			if localID, ok := unified[issue.ID]; ok {
				debug.Logf("import: %s duplicates local %s, unified\n", issue.ID, localID)
				imp.result.IDMapping[issue.ID] = localID
				continue
			}
			kept = append(kept, issue)
		}
		incoming = kept
		rewriteReferences(incoming, unified)
	}

	prefix, err := imp.store.GetConfig(ctx, "issue_prefix")
	if err != nil {
		return nil, fmt.Errorf("read issue prefix: %w", err)
	}
	collisions := detectCollisions(incoming, imp.local, imp.base, imp.hasBase, prefix)
	if len(collisions) > 0 {
		rewriteReferences(incoming, collisions)
		oldIDs := make([]string, 0, len(collisions))
		for oldID := range collisions {
			oldIDs = append(oldIDs, oldID)
		}
		sort.Strings(oldIDs)
		for _, oldID := range oldIDs {
			newID := collisions[oldID]
			debug.Logf("import: %s collides with a different local issue, remapped to %s\n", oldID, newID)
			imp.result.IDMapping[oldID] = newID
			imp.result.Collisions = append(imp.result.Collisions, Collision{OldID: oldID, NewID: newID})
			imp.remapped[newID] = oldID
			imp.mustFlush[newID] = true
		}
	}

	sort.Slice(incoming, func(i, j int) bool { return incoming[i].ID < incoming[j].ID })
	return incoming, nil
}

// skip records a dropped record and warns about it.
func (imp *importer) skip(rec SkippedRecord) {
	imp.result.Skipped = append(imp.result.Skipped, rec)
	switch {
	case rec.ID != "" && rec.Line > 0:
		imp.warn("skipped line %d (%s): %s", rec.Line, rec.ID, rec.Reason)
	case rec.ID != "":
		imp.warn("skipped %s: %s", rec.ID, rec.Reason)
	default:
		imp.warn("skipped line %d: %s", rec.Line, rec.Reason)
	}
}

func (imp *importer) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	imp.result.Warnings = append(imp.result.Warnings, msg)
	debug.Warnf("%s\n", msg)
}

// finish records the bookkeeping of an import whose records are all applied.
func (imp *importer) finish(ctx context.Context, incoming []*types.Issue, mtime string) error {
	// Issues dirty before the import keep their flag unless the import left
	// them equal to the log.
	var clear []string
	for id := range imp.touched {
		if (imp.synced[id] || !imp.preDirty[id]) && !imp.mustFlush[id] {
			clear = append(clear, id)
		}
	}
	for id := range imp.synced {
		if !imp.touched[id] && !imp.mustFlush[id] {
			clear = append(clear, id)
		}
	}
	sort.Strings(clear)
	if err := imp.store.ClearDirtyIssuesByID(ctx, clear); err != nil {
		return fmt.Errorf("clear import dirty flags: %w", err)
	}

	if imp.opts.ErrorPolicy == PolicyPartial {
		imp.result.ManifestPath = jsonl.ManifestPath(imp.path, "import-manifest")
		manifest := &Manifest{
			ImportedAt:  time.Now().UTC(),
			Path:        imp.path,
			ContentHash: imp.result.ContentHash,
			Skipped:     imp.result.Skipped,
		}
		if err := jsonl.WriteJSONAtomic(imp.result.ManifestPath, manifest); err != nil {
			return fmt.Errorf("write import manifest: %w", err)
		}
	}

	// A skipped record keeps its old base entry so the next import still
	// merges it instead of reading its absence as a deletion.
	snapshot := append([]*types.Issue(nil), incoming...)
	for _, rec := range imp.result.Skipped {
		if prev := imp.base[rec.ID]; prev != nil && !containsID(incoming, rec.ID) {
			snapshot = append(snapshot, prev)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	for _, issue := range snapshot {
		export.PrepareRecord(issue)
	}
	if _, err := jsonl.WriteIssuesAtomic(jsonl.BasePath(imp.path), snapshot); err != nil {
		return fmt.Errorf("write base snapshot: %w", err)
	}

	if err := imp.store.SetMetadata(ctx, storage.MetaJSONLContentHash, imp.result.ContentHash); err != nil {
		return fmt.Errorf("record log hash: %w", err)
	}
	if err := imp.store.SetMetadata(ctx, storage.MetaLastImportTime, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record import time: %w", err)
	}
	if err := imp.store.SetMetadata(ctx, storage.MetaLastImportMtime, mtime); err != nil {
		return fmt.Errorf("record log mtime: %w", err)
	}
	return nil
}

func containsID(issues []*types.Issue, id string) bool {
	for _, issue := range issues {
		if issue.ID == id {
			return true
		}
	}
	return false
}
