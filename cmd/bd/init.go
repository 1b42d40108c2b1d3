package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/storage/sqlite"
)

var validPrefix = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// gitignoreTemplate keeps clone-local state out of version control; only
// the log is shared.
const gitignoreTemplate = `# Local database and sync state
*.db
*.db-journal
*.db-wal
*.db-shm
*.base.jsonl
*.import-manifest.json
*.manifest.json
sync.lock
.last_touched_id
`

type initResult struct {
	Path     string `json:"path"`
	Database string `json:"database"`
	Prefix   string `json:"prefix"`
	Imported int    `json:"imported"`
}

func newInitCmd(s *session) *cobra.Command {
	var prefix string
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		GroupID: groupSetup,
		Short:   "Initialize bd in the current directory",
		Long: `Create .beads/ with a config file and an empty database.

If .beads/issues.jsonl already exists (for example after cloning a repository
that tracks it) the log is imported into the new database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("BEADS_DIR") == "" {
				s.beadsDir = filepath.Join(s.workDir, beadsDirName)
			}
			if err := os.MkdirAll(s.beadsDir, 0o750); err != nil {
				return fmt.Errorf("create %s: %w", s.beadsDir, err)
			}
			s.dbPath, s.jsonlPath = config.LoadLocalConfigWithEnv(s.beadsDir).Paths(s.beadsDir)
			if s.dbFlag != "" {
				s.dbPath = s.dbFlag
			}

			if prefix == "" {
				prefix = config.GetString(config.KeyIssuePrefix)
			}
			if prefix == "" {
				prefix = derivePrefix(s.workDir)
			}
			prefix = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(prefix)), "-")
			if !validPrefix.MatchString(prefix) {
				return fmt.Errorf("invalid prefix %q: use lowercase letters, digits and dashes: %w", prefix, storage.ErrInvalidInput)
			}

			if err := writeProjectFiles(s.beadsDir, prefix); err != nil {
				return err
			}

			store, err := s.openStore(true)
			if err != nil {
				return err
			}
			existing, err := store.GetConfig(s.ctx, sqlite.ConfigIssuePrefix)
			if err != nil {
				return err
			}
			if existing != "" && existing != prefix && !force {
				return fmt.Errorf("database already uses prefix %q (pass --force to switch to %q): %w", existing, prefix, storage.ErrPrefixMismatch)
			}
			if err := store.SetConfig(s.ctx, sqlite.ConfigIssuePrefix, prefix); err != nil {
				return err
			}

			result := initResult{Path: s.beadsDir, Database: s.dbPath, Prefix: prefix}
			if _, err := os.Stat(s.jsonlPath); err == nil {
				imported, err := s.runImport(store, s.jsonlPath, importFlags{})
				if err != nil {
					return fmt.Errorf("import existing log: %w", err)
				}
				result.Imported = imported.Created + imported.Updated
			}

			return s.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Initialized bd in %s (prefix %q)\n", s.beadsDir, prefix)
				if result.Imported > 0 {
					fmt.Fprintf(w, "  Imported %d issues from %s\n", result.Imported, s.jsonlPath)
				}
				fmt.Fprintf(w, "  Create an issue with: bd create \"First issue\"\n")
			})
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Issue ID prefix (default: issue-prefix config or directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace the prefix of an existing database")
	return cmd
}

// derivePrefix turns a directory name into a usable issue prefix.
func derivePrefix(dir string) string {
	name := strings.ToLower(filepath.Base(dir))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9' && b.Len() > 0:
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	prefix := strings.Trim(b.String(), "-")
	if prefix == "" {
		return "bd"
	}
	return prefix
}

func writeProjectFiles(beadsDir, prefix string) error {
	configPath := filepath.Join(beadsDir, config.ProjectConfigFile)
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := config.SetYamlValue(configPath, config.KeyIssuePrefix, prefix); err != nil {
			return err
		}
	}
	ignorePath := filepath.Join(beadsDir, ".gitignore")
	if _, err := os.Stat(ignorePath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignorePath, []byte(gitignoreTemplate), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", ignorePath, err)
		}
	}
	return nil
}
