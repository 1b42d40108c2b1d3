package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/lockfile"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/storage/sqlite"
	"github.com/beadsync/beadsync/internal/telemetry"
)

const (
	beadsDirName    = ".beads"
	lastTouchedFile = ".last_touched_id"
)

// session holds the runtime state of one bd invocation: who is acting,
// where the project lives, the open store and the issue the user touched
// last. Commands get it passed in instead of reading globals.
type session struct {
	ctx            context.Context
	stdout, stderr io.Writer
	workDir        string

	// Flag values, bound by newRootCmd.
	dbFlag     string
	actorFlag  string
	jsonFlag   bool
	formatFlag string

	actor     string
	format    string
	beadsDir  string
	dbPath    string
	jsonlPath string

	raw   *sqlite.SQLiteStorage
	store storage.Storage
}

func newSession(ctx context.Context, stdout, stderr io.Writer) *session {
	wd, _ := os.Getwd()
	return &session{ctx: ctx, stdout: stdout, stderr: stderr, workDir: wd, format: formatText}
}

// configure resolves actor, output format and project paths once flags and
// config are loaded.
func (s *session) configure(cmd *cobra.Command) error {
	s.actor = resolveActor(s.actorFlag)

	format, err := resolveFormat(s.jsonFlag || config.GetBool(config.KeyJSON), s.formatFlag, s.stdout)
	if err != nil {
		return err
	}
	s.format = format

	s.beadsDir = findBeadsDir(s.workDir)
	s.dbPath, s.jsonlPath = config.LoadLocalConfigWithEnv(s.beadsDir).Paths(s.beadsDir)
	if s.dbFlag != "" {
		s.dbPath = s.dbFlag
	}
	debug.Logf("session: actor=%s db=%s jsonl=%s format=%s\n", s.actor, s.dbPath, s.jsonlPath, s.format)
	return nil
}

// resolveActor picks the audit name: --actor, then BD_ACTOR/BEADS_ACTOR or
// the actor config key, then the login user.
func resolveActor(flag string) string {
	if flag != "" {
		return flag
	}
	if actor := config.GetString(config.KeyActor); actor != "" {
		return actor
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if user := os.Getenv(key); user != "" {
			return user
		}
	}
	return "unknown"
}

// findBeadsDir returns $BEADS_DIR, else the nearest .beads directory above
// dir, else dir/.beads (where init will create it).
func findBeadsDir(dir string) string {
	if env := os.Getenv("BEADS_DIR"); env != "" {
		return env
	}
	for d := dir; ; d = filepath.Dir(d) {
		candidate := filepath.Join(d, beadsDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return filepath.Join(dir, beadsDirName)
}

// openStore opens the project database, creating it only when create is
// set. The result is cached for the rest of the invocation.
func (s *session) openStore(create bool) (storage.Storage, error) {
	if s.store != nil {
		return s.store, nil
	}
	if !create {
		if _, err := os.Stat(s.dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no database at %s: %w", s.dbPath, storage.ErrNotInitialized)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(s.dbPath), err)
	}

	journal, err := sqlite.ParseJournalMode(config.GetString(config.KeyJournalMode))
	if err != nil {
		return nil, err
	}
	raw, err := sqlite.New(s.ctx, s.dbPath,
		sqlite.WithJournalMode(journal),
		sqlite.WithBusyTimeout(config.GetLockTimeout()),
	)
	if err != nil {
		return nil, err
	}
	s.raw = raw
	s.store = telemetry.WrapStorage(raw)
	return s.store, nil
}

// mustStore is openStore for commands that need an initialized project.
func (s *session) mustStore() (storage.Storage, error) {
	return s.openStore(false)
}

func (s *session) close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store, s.raw = nil, nil
	return err
}

// withSyncLock runs fn while holding the project's sync lock.
func (s *session) withSyncLock(command string, fn func() error) error {
	path := filepath.Join(s.beadsDir, lockfile.SyncLockName)
	lock, err := lockfile.Acquire(s.ctx, path, lockfile.LockInfo{
		PID:        os.Getpid(),
		Command:    command,
		Database:   s.dbPath,
		AcquiredAt: time.Now().UTC(),
	}, config.GetLockTimeout())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			debug.Warnf("release %s: %v\n", path, err)
		}
	}()
	return fn()
}

func (s *session) lastTouchedPath() string {
	return filepath.Join(s.beadsDir, lastTouchedFile)
}

// lastTouched returns the ID of the issue most recently created or changed
// from this project, or "" when none is recorded.
func (s *session) lastTouched() string {
	data, err := os.ReadFile(s.lastTouchedPath()) // #nosec G304 - path inside .beads
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *session) setLastTouched(id string) {
	if id == "" {
		return
	}
	if err := os.WriteFile(s.lastTouchedPath(), []byte(id+"\n"), 0o600); err != nil {
		debug.Logf("record last touched issue: %v\n", err)
	}
}

// resolveIDs expands partial IDs. With no arguments it falls back to the
// last touched issue.
func (s *session) resolveIDs(store storage.Storage, args []string) ([]string, error) {
	if len(args) == 0 {
		last := s.lastTouched()
		if last == "" {
			return nil, fmt.Errorf("no issue ID given and no last touched issue: %w", storage.ErrInvalidInput)
		}
		args = []string{last}
	}
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := store.ResolveID(s.ctx, arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *session) resolveID(store storage.Storage, arg string) (string, error) {
	ids, err := s.resolveIDs(store, []string{arg})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}
