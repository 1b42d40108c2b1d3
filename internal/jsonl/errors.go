package jsonl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse marks a log line that could not be decoded.
	ErrParse = errors.New("malformed log record")

	// ErrConflictMarkers is returned when a log still contains the markers an
	// external merge tool leaves behind. The user must resolve them by hand.
	ErrConflictMarkers = errors.New("unresolved merge conflict markers")
)

// ParseError locates a malformed record. ID and Field are empty when the
// line was too broken to tell.
type ParseError struct {
	Line  int
	ID    string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d", e.Line)
	if e.ID != "" {
		fmt.Fprintf(&b, " (issue %s)", e.ID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap lets errors.Is match both ErrParse and the decoder's error.
func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// ConflictMarkerError lists the lines holding conflict markers.
type ConflictMarkerError struct {
	Path  string
	Lines []int
}

func (e *ConflictMarkerError) Error() string {
	where := e.Path
	if where == "" {
		where = "log"
	}
	nums := make([]string, len(e.Lines))
	for i, n := range e.Lines {
		nums[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s contains unresolved merge conflict markers at line(s) %s; resolve them and retry",
		where, strings.Join(nums, ", "))
}

func (e *ConflictMarkerError) Unwrap() error { return ErrConflictMarkers }
