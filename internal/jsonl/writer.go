package jsonl

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/beadsync/beadsync/internal/debug"
	"github.com/beadsync/beadsync/internal/types"
)

// FileMode is the permission of a committed log file.
const FileMode os.FileMode = 0o644

// AtomicWriter writes a file that appears at its final path only once it is
// complete. Bytes go to <path>.tmp.<pid> in the same directory; Commit syncs
// and renames it over the target, Abort removes it.
type AtomicWriter struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	sum     hash.Hash
	count   int
	done    bool
}

// CreateAtomic starts an atomic write of path.
func CreateAtomic(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	// #nosec G304 - temp file next to the configured log
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	sum := sha256.New()
	return &AtomicWriter{
		path:    path,
		tmpPath: tmpPath,
		file:    f,
		buf:     bufio.NewWriter(io.MultiWriter(f, sum)),
		sum:     sum,
	}, nil
}

// Write implements io.Writer.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// WriteIssue appends one record line.
func (w *AtomicWriter) WriteIssue(issue *types.Issue) error {
	data, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("encode issue %s: %w", issue.ID, err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("write issue %s: %w", issue.ID, err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write issue %s: %w", issue.ID, err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *AtomicWriter) Count() int { return w.count }

// Hash returns the hex SHA-256 of everything written so far. It is final
// once Commit has returned.
func (w *AtomicWriter) Hash() string {
	return hex.EncodeToString(w.sum.Sum(nil))
}

// Commit flushes, syncs and renames the temp file over the target. The
// target is untouched if any step fails.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return fmt.Errorf("atomic write of %s already finished", w.path)
	}
	w.done = true
	if err := w.buf.Flush(); err != nil {
		w.cleanup()
		return fmt.Errorf("flush %s: %w", w.tmpPath, err)
	}
	if err := w.file.Sync(); err != nil {
		w.cleanup()
		return fmt.Errorf("sync %s: %w", w.tmpPath, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("close %s: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("replace %s: %w", w.path, err)
	}
	if err := os.Chmod(w.path, FileMode); err != nil {
		// Non-fatal: the content is already in place.
		debug.Logf("jsonl: chmod %s: %v\n", w.path, err)
	}
	return nil
}

// Abort discards the temp file. Calling it after Commit is a no-op, so it
// can be deferred.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.cleanup()
}

func (w *AtomicWriter) cleanup() {
	_ = w.file.Close()
	_ = os.Remove(w.tmpPath)
}

// WriteIssuesAtomic writes issues to path in order and returns the hash of
// the bytes written.
func WriteIssuesAtomic(path string, issues []*types.Issue) (string, error) {
	w, err := CreateAtomic(path)
	if err != nil {
		return "", err
	}
	defer w.Abort()
	for _, issue := range issues {
		if err := w.WriteIssue(issue); err != nil {
			return "", err
		}
	}
	if err := w.Commit(); err != nil {
		return "", err
	}
	return w.Hash(), nil
}

// WriteJSONAtomic writes v as indented JSON to path atomically. Used for the
// small sidecar files next to the log.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	w, err := CreateAtomic(path)
	if err != nil {
		return err
	}
	defer w.Abort()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Commit()
}

// FileHash returns the hex SHA-256 of the file at path, streaming it.
func FileHash(path string) (string, error) {
	// #nosec G304 - path is the configured log location
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// BasePath returns where the merge base snapshot for the log at path lives.
func BasePath(path string) string {
	return sidecarPath(path, ".base.jsonl")
}

// ManifestPath returns the path of a JSON sidecar such as
// issues.import-manifest.json.
func ManifestPath(path, kind string) string {
	return sidecarPath(path, "."+kind+".json")
}

func sidecarPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + suffix
}
