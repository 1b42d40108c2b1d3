package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/export"
	"github.com/beadsync/beadsync/internal/importer"
	"github.com/beadsync/beadsync/internal/storage"
)

const watchDebounce = 500 * time.Millisecond

type syncResult struct {
	Import *importer.Result `json:"import,omitempty"`
	Export *export.Result   `json:"export,omitempty"`
}

// syncOnce imports the log, then exports whatever is dirty. The export is
// skipped when nothing changed so that a clean sync leaves the log alone.
func (s *session) syncOnce(store storage.Storage, imp importFlags, exp exportFlags) (*syncResult, error) {
	result := &syncResult{}
	err := s.withSyncLock("sync", func() error {
		_, statErr := os.Stat(s.jsonlPath)
		logExists := statErr == nil
		if logExists {
			imported, err := s.importLog(store, s.jsonlPath, imp)
			if err != nil {
				return err
			}
			result.Import = imported
		}

		dirty, err := store.GetDirtyIssueCount(s.ctx)
		if err != nil {
			return err
		}
		if dirty == 0 && logExists && !exp.force {
			return nil
		}
		if exp.mode == "" && !exp.incremental {
			exp.incremental = true
		}
		result.Export, err = s.exportLog(store, s.jsonlPath, exp)
		return err
	})
	return result, err
}

func newSyncCmd(s *session) *cobra.Command {
	var imp importFlags
	var exp exportFlags
	var watch bool

	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: groupSync,
		Short:   "Import the JSONL log, then export local changes",
		Long: `Merge the JSONL log into the database, then write dirty issues back to
the log. Run it after pulling and before committing.

With --watch, bd keeps running and syncs every time the log changes on
disk, for example after a git pull or checkout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			run := func() error {
				result, err := s.syncOnce(store, imp, exp)
				if err != nil {
					return err
				}
				return s.emit(result, func(w io.Writer) { printSyncResult(w, s.jsonlPath, result) })
			}
			if err := run(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			fmt.Fprintf(s.stderr, "Watching %s for changes... (Ctrl+C to stop)\n", s.jsonlPath)
			return watchFile(s.ctx, s.jsonlPath, watchDebounce, func() error {
				// A forced import would rewrite an unchanged log on every event.
				imp.force = false
				return run()
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&imp.force, "force-import", false, "Import even if the log looks unchanged")
	flags.StringVar(&imp.orphanHandling, "orphan-handling", "", "Missing parents: strict, resurrect, skip or allow")
	flags.StringVar(&imp.errorPolicy, "error-policy", "", "Bad records: strict, best-effort, partial or required-core")
	flags.StringVar(&imp.strategy, "strategy", "", "Fields both sides changed: newest, ours, theirs or manual")
	flags.StringVar(&exp.mode, "mode", "", "Export mode: full or incremental (default incremental)")
	flags.BoolVar(&exp.manifest, "manifest", false, "Write <log>.manifest.json next to the log")
	flags.BoolVarP(&watch, "watch", "w", false, "Keep running and sync whenever the log changes")
	return cmd
}

func printSyncResult(w io.Writer, path string, r *syncResult) {
	if r.Import != nil {
		printImportResult(w, path, r.Import)
	}
	if r.Export != nil {
		fmt.Fprintf(w, "✓ Exported %d issue(s) to %s (%s, %d refreshed)\n",
			r.Export.Exported, r.Export.Path, r.Export.Mode, r.Export.Refreshed)
	} else {
		fmt.Fprintln(w, "✓ No local changes to export")
	}
}

// watchFile calls onChange after path is written, created or renamed into
// place, coalescing bursts of events within debounce. It returns nil when ctx
// is cancelled. Errors from onChange are logged and do not stop the watch.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: atomic writes replace the file, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	name := filepath.Base(path)

	g, gctx := errgroup.WithContext(ctx)
	changes := make(chan struct{}, 1)

	g.Go(func() error {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != name || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case changes <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				debug.Warnf("watcher error: %v\n", err)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-changes:
				if err := onChange(); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					debug.Warnf("sync after change: %v\n", err)
				}
			}
		}
	})

	return g.Wait()
}
