package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/importer"
	"github.com/beadsync/beadsync/internal/merge"
	"github.com/beadsync/beadsync/internal/storage"
)

// importFlags are command-line overrides of the configured import options.
// Empty strings keep the configured value.
type importFlags struct {
	force          bool
	orphanHandling string
	errorPolicy    string
	strategy       string
}

func (f importFlags) apply(opts *importer.Options) error {
	var err error
	opts.Force = opts.Force || f.force
	if f.orphanHandling != "" {
		if opts.OrphanHandling, err = storage.ParseOrphanHandling(f.orphanHandling); err != nil {
			return fmt.Errorf("%v: %w", err, storage.ErrInvalidInput)
		}
	}
	if f.errorPolicy != "" {
		if opts.ErrorPolicy, err = importer.ParseErrorPolicy(f.errorPolicy); err != nil {
			return fmt.Errorf("%v: %w", err, storage.ErrInvalidInput)
		}
	}
	if f.strategy != "" {
		if opts.Strategy, err = merge.ParseStrategy(f.strategy); err != nil {
			return fmt.Errorf("%v: %w", err, storage.ErrInvalidInput)
		}
	}
	return nil
}

// runImport imports the log at path under the sync lock.
func (s *session) runImport(store storage.Storage, path string, f importFlags) (*importer.Result, error) {
	var result *importer.Result
	err := s.withSyncLock("import", func() error {
		var err error
		result, err = s.importLog(store, path, f)
		return err
	})
	return result, err
}

// importLog imports without taking the sync lock; the caller holds it.
func (s *session) importLog(store storage.Storage, path string, f importFlags) (*importer.Result, error) {
	opts, err := importer.LoadOptions(s.ctx, store)
	if err != nil {
		return nil, err
	}
	if err := f.apply(&opts); err != nil {
		return nil, err
	}
	opts.Actor = s.actor
	return importer.ImportFile(s.ctx, store, path, opts)
}

func newImportCmd(s *session) *cobra.Command {
	var input string
	var f importFlags

	cmd := &cobra.Command{
		Use:     "import",
		GroupID: groupSync,
		Short:   "Merge the JSONL log into the database",
		Long: `Three-way merge the JSONL log into the database, using the snapshot of the
last sync as the common base. Issues both sides created under the same ID
are remapped, fields both sides changed are settled by the conflict
strategy, and issues the log dropped are tombstoned.

An unchanged log is skipped unless --force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			if input == "" {
				input = s.jsonlPath
			}
			result, err := s.runImport(store, input, f)
			if err != nil {
				return err
			}
			return s.emit(result, func(w io.Writer) { printImportResult(w, input, result) })
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "Log to import (default: the project log)")
	flags.BoolVar(&f.force, "force", false, "Import even if the log looks unchanged")
	flags.StringVar(&f.orphanHandling, "orphan-handling", "", "Missing parents: strict, resurrect, skip or allow")
	flags.StringVar(&f.errorPolicy, "error-policy", "", "Bad records: strict, best-effort, partial or required-core")
	flags.StringVar(&f.strategy, "strategy", "", "Fields both sides changed: newest, ours, theirs or manual")
	return cmd
}

func printImportResult(w io.Writer, path string, r *importer.Result) {
	if r.UpToDate {
		fmt.Fprintf(w, "✓ %s is up to date\n", path)
		return
	}
	fmt.Fprintf(w, "✓ Imported %s: %d created, %d updated, %d unchanged, %d deleted\n",
		path, r.Created, r.Updated, r.Unchanged, r.Deleted)
	if r.KeptLocal > 0 || r.Superseded > 0 {
		fmt.Fprintf(w, "  merged: %d kept local changes, %d superseded\n", r.KeptLocal, r.Superseded)
	}
	if len(r.IDMapping) > 0 {
		fmt.Fprintln(w, "  remapped IDs:")
		old := make([]string, 0, len(r.IDMapping))
		for id := range r.IDMapping {
			old = append(old, id)
		}
		sort.Strings(old)
		for _, id := range old {
			fmt.Fprintf(w, "    %s → %s\n", id, r.IDMapping[id])
		}
	}
	for _, id := range r.Conflicts {
		fmt.Fprintf(w, "  conflict: %s needs a manual merge\n", id)
	}
	for _, rec := range r.Skipped {
		if rec.Line > 0 {
			fmt.Fprintf(w, "  skipped line %d: %s\n", rec.Line, rec.Reason)
		} else {
			fmt.Fprintf(w, "  skipped %s: %s\n", rec.ID, rec.Reason)
		}
	}
	for _, dep := range r.RejectedDependencies {
		fmt.Fprintf(w, "  rejected dependency %s → %s: %v\n", dep.IssueID, dep.DependsOnID, dep.Err)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	if r.ManifestPath != "" {
		fmt.Fprintf(w, "  manifest: %s\n", r.ManifestPath)
	}
}
