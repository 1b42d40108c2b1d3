package sqlite

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// JournalMode selects the SQLite journal.
type JournalMode string

// Journal modes accepted by db.journal-mode.
const (
	JournalAuto   JournalMode = "auto"
	JournalWAL    JournalMode = "wal"
	JournalDelete JournalMode = "delete"
)

// ParseJournalMode validates a configured journal mode. Empty means auto.
func ParseJournalMode(value string) (JournalMode, error) {
	switch mode := JournalMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "":
		return JournalAuto, nil
	case JournalAuto, JournalWAL, JournalDelete:
		return mode, nil
	}
	return "", fmt.Errorf("invalid journal mode %q (valid: auto, wal, delete)", value)
}

// windowsMountRe matches WSL2 mounts of Windows drives and Docker Desktop
// bind mounts, where WAL shared memory does not work.
var windowsMountRe = regexp.MustCompile(`^/mnt/([a-zA-Z]|wsl)(/|$)`)

func isWindowsMountPath(path string) bool {
	return windowsMountRe.MatchString(path)
}

var (
	wslOnce sync.Once
	inWSL   bool
)

func runningInWSL() bool {
	wslOnce.Do(func() {
		data, err := os.ReadFile("/proc/version")
		if err != nil {
			return
		}
		version := strings.ToLower(string(data))
		inWSL = strings.Contains(version, "microsoft") || strings.Contains(version, "wsl")
	})
	return inWSL
}

// isWSL2WindowsPath reports whether path is a Windows filesystem seen from WSL2.
func isWSL2WindowsPath(path string) bool {
	return runningInWSL() && isWindowsMountPath(path)
}

// chooseJournalMode resolves auto to WAL or DELETE for the database at path
// and returns the reason a rollback journal was picked.
func chooseJournalMode(path string, requested JournalMode) (JournalMode, string) {
	switch requested {
	case JournalWAL, JournalDelete:
		return requested, "configured"
	}
	if path == ":memory:" {
		return JournalDelete, "in-memory database"
	}
	if isWSL2WindowsPath(path) {
		return JournalDelete, "WSL2 Windows mount"
	}
	if isNetworkFilesystem(path) {
		return JournalDelete, "network filesystem"
	}
	return JournalWAL, ""
}
