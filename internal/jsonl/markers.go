package jsonl

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

var (
	markerOurs   = []byte("<<<<<<< ")
	markerSplit  = []byte("=======")
	markerTheirs = []byte(">>>>>>> ")
)

// isConflictMarker matches the three marker lines git writes, with or
// without a label after the angle brackets.
func isConflictMarker(line []byte) bool {
	line = bytes.TrimRight(line, "\r")
	switch {
	case bytes.Equal(line, markerSplit):
		return true
	case bytes.HasPrefix(line, markerOurs), bytes.Equal(line, bytes.TrimSpace(markerOurs)):
		return true
	case bytes.HasPrefix(line, markerTheirs), bytes.Equal(line, bytes.TrimSpace(markerTheirs)):
		return true
	}
	return false
}

// CheckConflictMarkers scans r for conflict markers and returns a
// *ConflictMarkerError listing their lines when any are found.
func CheckConflictMarkers(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), MaxLineSize)
	var lines []int
	for n := 1; scanner.Scan(); n++ {
		if isConflictMarker(scanner.Bytes()) {
			lines = append(lines, n)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan for conflict markers: %w", err)
	}
	if len(lines) > 0 {
		return &ConflictMarkerError{Lines: lines}
	}
	return nil
}

// CheckFileConflictMarkers runs CheckConflictMarkers over the file at path.
// A missing file has no markers.
func CheckFileConflictMarkers(path string) error {
	// #nosec G304 - path is the configured log location
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	err = CheckConflictMarkers(f)
	if cme, ok := err.(*ConflictMarkerError); ok {
		cme.Path = path
	}
	return err
}
