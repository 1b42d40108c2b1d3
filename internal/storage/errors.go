package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by every backend. Callers match them with errors.Is;
// backends wrap them with the offending issue ID and the violated condition.
var (
	// ErrNotFound is returned when a requested entity does not exist in the database.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousID is returned when an ID prefix matches more than one issue.
	ErrAmbiguousID = errors.New("ambiguous ID")

	// ErrInvalidInput is returned when a write would violate an invariant.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when an optimistic precondition lost a race.
	ErrConflict = errors.New("conflict")

	// ErrCycle is returned when a blocking dependency would close a cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrBusy is returned when lock contention outlasted every retry.
	ErrBusy = errors.New("database busy")

	// ErrMigration is returned when the schema cannot be brought up to date.
	// The store must not be used after it.
	ErrMigration = errors.New("schema migration failed")

	// ErrNotInitialized is returned when the database has not been initialized
	// (e.g., issue_prefix config is missing).
	ErrNotInitialized = errors.New("database not initialized")

	// ErrPrefixMismatch is returned when an issue ID does not match the configured prefix.
	ErrPrefixMismatch = errors.New("prefix mismatch")
)

// AmbiguousIDError lists the candidates an ID prefix matched.
type AmbiguousIDError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("ambiguous ID %q matches %d issues: %s",
		e.Prefix, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// Unwrap lets errors.Is match ErrAmbiguousID.
func (e *AmbiguousIDError) Unwrap() error { return ErrAmbiguousID }

// CycleError describes the path a rejected edge would have closed.
type CycleError struct {
	IssueID     string
	DependsOnID string
	Path        []string // DependsOnID ... IssueID, empty when the depth cap was hit
	DepthCapped bool
}

func (e *CycleError) Error() string {
	if e.DepthCapped {
		return fmt.Sprintf("cannot add dependency %s → %s: dependency chain exceeds the depth limit, cycle suspected",
			e.IssueID, e.DependsOnID)
	}
	return fmt.Sprintf("cannot add dependency %s → %s: would create a cycle (%s → %s)",
		e.IssueID, e.DependsOnID, e.IssueID, strings.Join(e.Path, " → "))
}

// Unwrap lets errors.Is match ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }

// InvalidInput wraps a validation failure for issue id as ErrInvalidInput.
func InvalidInput(id string, err error) error {
	if err == nil {
		return nil
	}
	if id == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: issue %s: %w", ErrInvalidInput, id, err)
}
