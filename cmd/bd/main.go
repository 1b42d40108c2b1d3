// Command bd is the command-line front end of the issue store: it edits
// issues in the local database and syncs them with the JSONL log.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/telemetry"
)

var (
	// Version is the current version of bd (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

// Command groups shown in help.
const (
	groupIssues = "issues"
	groupViews  = "views"
	groupDeps   = "deps"
	groupSync   = "sync"
	groupSetup  = "setup"
)

// newRootCmd builds the command tree around s. Every subcommand reads its
// runtime state from s rather than from package globals, so tests can build
// as many independent trees as they need.
func newRootCmd(s *session) *cobra.Command {
	var verbose, quiet bool

	root := &cobra.Command{
		Use:           "bd",
		Short:         "bd - Dependency-aware issue tracker",
		Long:          `Issues chained together like beads. A local SQLite store kept in sync with a line-oriented JSONL log.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Build),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug.SetVerbose(verbose)
			debug.SetQuiet(quiet)
			if err := config.Initialize(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := s.configure(cmd); err != nil {
				return err
			}
			if err := telemetry.Init(s.ctx, "bd", Version); err != nil {
				debug.Warnf("telemetry disabled: %v\n", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.close()
		},
	}

	root.AddGroup(
		&cobra.Group{ID: groupIssues, Title: "Working With Issues:"},
		&cobra.Group{ID: groupViews, Title: "Views & Reports:"},
		&cobra.Group{ID: groupDeps, Title: "Dependencies & Structure:"},
		&cobra.Group{ID: groupSync, Title: "Sync & Data:"},
		&cobra.Group{ID: groupSetup, Title: "Setup & Configuration:"},
	)

	flags := root.PersistentFlags()
	flags.StringVar(&s.dbFlag, "db", "", "Database path (default: .beads/beads.db)")
	flags.StringVar(&s.actorFlag, "actor", "", "Actor name for audit trail (default: $BD_ACTOR, $USER)")
	flags.BoolVar(&s.jsonFlag, "json", false, "Output in JSON format")
	flags.StringVar(&s.formatFlag, "format", formatAuto, "Output format: auto, text or json (auto picks json when stdout is not a terminal)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output (errors only)")

	root.AddCommand(
		newInitCmd(s),
		newConfigCmd(s),
		newCreateCmd(s),
		newShowCmd(s),
		newUpdateCmd(s),
		newCloseCmd(s),
		newReopenCmd(s),
		newDeleteCmd(s),
		newListCmd(s),
		newLabelCmd(s),
		newCommentCmd(s),
		newCommentsCmd(s),
		newDepCmd(s),
		newReadyCmd(s),
		newBlockedCmd(s),
		newStatsCmd(s),
		newExportCmd(s),
		newImportCmd(s),
		newSyncCmd(s),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	s := newSession(ctx, os.Stdout, os.Stderr)
	root := newRootCmd(s)

	err := root.Execute()
	_ = s.close()
	if shutdownErr := telemetry.Shutdown(context.Background()); shutdownErr != nil {
		debug.Logf("telemetry shutdown: %v\n", shutdownErr)
	}
	cancel()
	if err != nil {
		s.reportError(err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps interrupted runs to 130 like a shell would; everything else
// exits 1.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
