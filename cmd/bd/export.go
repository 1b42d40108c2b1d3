package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/export"
	"github.com/beadsync/beadsync/internal/storage"
)

// exportFlags are command-line overrides of the configured export options.
type exportFlags struct {
	mode        string
	incremental bool
	force       bool
	manifest    bool
}

// exportOptions resolves the export options: flags first, then the
// database config table, then config.yaml.
func (s *session) exportOptions(store storage.Storage, f exportFlags) (export.Options, error) {
	opts, err := export.LoadOptions(s.ctx, store)
	if err != nil {
		return opts, err
	}
	stored, err := store.GetConfig(s.ctx, export.ConfigKeyMode)
	if err != nil {
		return opts, err
	}
	mode := f.mode
	if f.incremental {
		mode = string(export.ModeIncremental)
	}
	if mode == "" && stored == "" && config.GetValueSource(config.KeyExportMode) != config.SourceDefault {
		mode = config.GetString(config.KeyExportMode)
	}
	if mode != "" {
		if opts.Mode, err = export.ParseMode(mode); err != nil {
			return opts, fmt.Errorf("%v: %w", err, storage.ErrInvalidInput)
		}
	}
	opts.Force = f.force
	opts.WriteManifest = opts.WriteManifest || f.manifest
	return opts, nil
}

// exportLog exports without taking the sync lock; the caller holds it.
func (s *session) exportLog(store storage.Storage, path string, f exportFlags) (*export.Result, error) {
	opts, err := s.exportOptions(store, f)
	if err != nil {
		return nil, err
	}
	return export.Export(s.ctx, store, path, opts)
}

func newExportCmd(s *session) *cobra.Command {
	var output string
	var f exportFlags

	cmd := &cobra.Command{
		Use:     "export",
		GroupID: groupSync,
		Short:   "Write the database to the JSONL log",
		Long: `Write issues to the JSONL log, one issue per line sorted by ID.

A full export rewrites every issue. An incremental export keeps the lines
of the existing log and refreshes only issues changed since the last
export. Export refuses to overwrite a log that changed since the last sync
unless --force; run 'bd sync' to merge it instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.incremental && f.mode != "" && f.mode != string(export.ModeIncremental) {
				return fmt.Errorf("--incremental conflicts with --mode %s: %w", f.mode, storage.ErrInvalidInput)
			}
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			if output == "" {
				output = s.jsonlPath
			}
			var result *export.Result
			err = s.withSyncLock("export", func() error {
				result, err = s.exportLog(store, output, f)
				return err
			})
			if err != nil {
				return err
			}
			return s.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Exported %d issue(s) to %s (%s, %d refreshed)\n",
					result.Exported, result.Path, result.Mode, result.Refreshed)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "Log to write (default: the project log)")
	flags.StringVar(&f.mode, "mode", "", "Export mode: full or incremental")
	flags.BoolVar(&f.incremental, "incremental", false, "Shorthand for --mode incremental")
	flags.BoolVar(&f.force, "force", false, "Overwrite a log that changed since the last sync")
	flags.BoolVar(&f.manifest, "manifest", false, "Write <log>.manifest.json next to the log")
	return cmd
}
