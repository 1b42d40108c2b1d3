// Package lockfile takes the advisory lock that serializes export, import
// and sync between bd processes sharing one .beads directory.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beadsync/beadsync/internal/debug"
)

// SyncLockName is the lock file bd keeps inside the .beads directory.
const SyncLockName = "sync.lock"

var (
	// ErrLockBusy means another process holds the lock right now.
	ErrLockBusy = errors.New("lock is held by another process")

	// ErrLockTimeout means the lock stayed busy for the whole timeout.
	ErrLockTimeout = errors.New("timed out waiting for lock")
)

// LockInfo is what a holder writes into the lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Command    string    `json:"command,omitempty"`
	Database   string    `json:"database,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held lock. Release it when done.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// TryAcquire takes the lock at path without waiting. It returns ErrLockBusy
// when another process holds it.
func TryAcquire(path string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	// #nosec G304 - path is derived from the .beads directory
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.AcquiredAt.IsZero() {
		info.AcquiredAt = time.Now().UTC()
	}
	if err := writeInfo(f, info); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, err
	}
	return &Lock{path: path, file: f}, nil
}

// Acquire takes the lock at path, retrying with backoff until timeout. A
// timeout of zero or less tries once.
func Acquire(ctx context.Context, path string, info LockInfo, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return TryAcquire(path, info)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = timeout

	var lock *Lock
	err := backoff.Retry(func() error {
		var err error
		lock, err = TryAcquire(path, info)
		if errors.Is(err, ErrLockBusy) {
			debug.Logf("lockfile: %s busy, retrying\n", path)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err == nil {
		return lock, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, ErrLockBusy) {
		return nil, fmt.Errorf("%w %s after %v%s", ErrLockTimeout, path, timeout, describeHolder(path))
	}
	return nil, err
}

// Release drops the lock. The file stays so its inode is stable for the
// next holder.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	unlockErr := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}

func writeInfo(f *os.File, info LockInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// ReadLockInfo reads the holder details from a lock file. A bare PID,
// as older files hold, is accepted.
func ReadLockInfo(path string) (*LockInfo, error) {
	// #nosec G304 - path is derived from the .beads directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format in %s", path)
	}
	return &LockInfo{PID: pid}, nil
}

// describeHolder names the process holding path, for error messages.
func describeHolder(path string) string {
	info, err := ReadLockInfo(path)
	if err != nil || info.PID == 0 {
		return ""
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running"
	}
	if info.Command != "" {
		return fmt.Sprintf(" (held by pid %d, %s, %s)", info.PID, info.Command, state)
	}
	return fmt.Sprintf(" (held by pid %d, %s)", info.PID, state)
}
