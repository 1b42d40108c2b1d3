package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/beadsync/beadsync/internal/export"
	"github.com/beadsync/beadsync/internal/jsonl"
	"github.com/beadsync/beadsync/internal/lockfile"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

const (
	formatAuto = "auto"
	formatText = "text"
	formatJSON = "json"
)

// resolveFormat settles the output format. Auto means text on a terminal
// and JSON when stdout is piped or redirected.
func resolveFormat(forceJSON bool, requested string, stdout io.Writer) (string, error) {
	if forceJSON {
		return formatJSON, nil
	}
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "", formatAuto:
		if isTerminal(stdout) {
			return formatText, nil
		}
		return formatJSON, nil
	case formatText:
		return formatText, nil
	case formatJSON:
		return formatJSON, nil
	}
	return "", fmt.Errorf("invalid --format %q (valid: auto, text, json): %w", requested, storage.ErrInvalidInput)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) // #nosec G115 - file descriptors fit in int
}

func (s *session) jsonOutput() bool {
	return s.format == formatJSON
}

// emit writes v as indented JSON in JSON mode, otherwise calls text.
func (s *session) emit(v interface{}, text func(w io.Writer)) error {
	if s.jsonOutput() {
		enc := json.NewEncoder(s.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(s.stdout)
	return nil
}

// reportError prints err on stderr, as {"error","code"} JSON in JSON mode.
func (s *session) reportError(err error) {
	code := errorCode(err)
	if s.jsonOutput() {
		obj := map[string]string{"error": err.Error()}
		if code != "" {
			obj["code"] = code
		}
		enc := json.NewEncoder(s.stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(obj)
		return
	}
	fmt.Fprintf(s.stderr, "Error: %v\n", err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(s.stderr, "Hint: %s\n", hint)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrAmbiguousID):
		return "ambiguous_id"
	case errors.Is(err, storage.ErrCycle):
		return "cycle"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrBusy), errors.Is(err, lockfile.ErrLockTimeout):
		return "busy"
	case errors.Is(err, jsonl.ErrConflictMarkers):
		return "conflict_markers"
	case errors.Is(err, jsonl.ErrParse):
		return "parse_error"
	case errors.Is(err, export.ErrLogChanged):
		return "log_changed"
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, storage.ErrPrefixMismatch):
		return "invalid_input"
	}
	return ""
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotInitialized):
		return "run 'bd init --prefix <prefix>' to create a project"
	case errors.Is(err, jsonl.ErrConflictMarkers):
		return "resolve the merge conflict in the log, then run 'bd import' again"
	case errors.Is(err, export.ErrLogChanged):
		return "run 'bd sync' to merge the log first"
	case errors.Is(err, lockfile.ErrLockTimeout):
		return "another bd process is syncing; raise lock-timeout or retry"
	case errors.Is(err, storage.ErrAmbiguousID):
		return "use more characters of the ID"
	}
	return ""
}

func formatIssueLine(issue *types.Issue) string {
	line := fmt.Sprintf("%s [P%d] [%s] %s - %s", issue.ID, issue.Priority, issue.IssueType, issue.Status, issue.Title)
	if issue.Assignee != "" {
		line += " @" + issue.Assignee
	}
	return line
}

func printIssueList(w io.Writer, issues []*types.Issue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return
	}
	for _, issue := range issues {
		fmt.Fprintln(w, formatIssueLine(issue))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printIssueDetail(w io.Writer, issue *types.Issue, dependents []*types.Dependency) {
	fmt.Fprintf(w, "%s: %s\n", issue.ID, issue.Title)
	fmt.Fprintf(w, "Status: %s  Priority: P%d  Type: %s\n", issue.Status, issue.Priority, issue.IssueType)
	if issue.Assignee != "" {
		fmt.Fprintf(w, "Assignee: %s\n", issue.Assignee)
	}
	fmt.Fprintf(w, "Created: %s by %s  Updated: %s\n", formatTime(&issue.CreatedAt), issue.CreatedBy, formatTime(&issue.UpdatedAt))
	if issue.ClosedAt != nil {
		fmt.Fprintf(w, "Closed: %s", formatTime(issue.ClosedAt))
		if issue.CloseReason != "" {
			fmt.Fprintf(w, " (%s)", issue.CloseReason)
		}
		fmt.Fprintln(w)
	}
	if issue.DeferUntil != nil {
		fmt.Fprintf(w, "Deferred until: %s\n", formatTime(issue.DeferUntil))
	}
	if issue.DueAt != nil {
		fmt.Fprintf(w, "Due: %s\n", formatTime(issue.DueAt))
	}
	if issue.ExternalRef != nil {
		fmt.Fprintf(w, "External: %s\n", *issue.ExternalRef)
	}
	for _, section := range []struct{ name, text string }{
		{"Description", issue.Description},
		{"Design", issue.Design},
		{"Acceptance Criteria", issue.AcceptanceCriteria},
		{"Notes", issue.Notes},
	} {
		if section.text != "" {
			fmt.Fprintf(w, "\n%s:\n%s\n", section.name, section.text)
		}
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(w, "\nLabels: %s\n", strings.Join(issue.Labels, ", "))
	}
	if len(issue.Dependencies) > 0 {
		fmt.Fprintf(w, "\nDepends on:\n")
		for _, dep := range issue.Dependencies {
			fmt.Fprintf(w, "  → %s (%s)\n", dep.DependsOnID, dep.Type)
		}
	}
	if len(dependents) > 0 {
		fmt.Fprintf(w, "\nDependents:\n")
		for _, dep := range dependents {
			fmt.Fprintf(w, "  ← %s (%s)\n", dep.IssueID, dep.Type)
		}
	}
	if len(issue.Comments) > 0 {
		fmt.Fprintf(w, "\nComments:\n")
		printComments(w, issue.Comments)
	}
}

func printComments(w io.Writer, comments []*types.Comment) {
	for _, c := range comments {
		fmt.Fprintf(w, "  [%s] %s: %s\n", formatTime(&c.CreatedAt), c.Author, c.Text)
	}
}
