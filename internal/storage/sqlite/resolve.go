package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/beadsync/beadsync/internal/storage"
)

// maxAmbiguousCandidates caps the candidate list in an AmbiguousIDError.
const maxAmbiguousCandidates = 10

// ResolveID expands a full or partial issue ID. It tries the exact ID, then
// prefix-<input>, then a unique ID prefix match among live issues.
func (s *SQLiteStorage) ResolveID(ctx context.Context, partial string) (string, error) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return "", storage.InvalidInput("", fmt.Errorf("issue ID is required"))
	}

	var resolved string
	err := s.readTx(ctx, func(q dbtx) error {
		if ok, err := issueExists(ctx, q, partial); err != nil || ok {
			resolved = partial
			return err
		}

		prefix, err := issuePrefix(ctx, q)
		if err != nil && !errors.Is(err, storage.ErrNotInitialized) {
			return err
		}
		var withPrefix string
		if prefix != "" && !strings.HasPrefix(partial, prefix+"-") {
			withPrefix = prefix + "-" + partial
			if ok, err := issueExists(ctx, q, withPrefix); err != nil || ok {
				resolved = withPrefix
				return err
			}
		}

		patterns := []interface{}{likeEscape(partial) + "%"}
		clause := `id LIKE ? ESCAPE '\'`
		if withPrefix != "" {
			patterns = append(patterns, likeEscape(withPrefix)+"%")
			clause = `(id LIKE ? ESCAPE '\' OR id LIKE ? ESCAPE '\')`
		}
		rows, err := q.QueryContext(ctx,
			`SELECT id FROM issues WHERE status != 'tombstone' AND `+clause+` ORDER BY id`, patterns...)
		if err != nil {
			return wrapDBError("resolve issue ID", err)
		}
		defer func() { _ = rows.Close() }()

		var candidates []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			candidates = append(candidates, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		switch len(candidates) {
		case 0:
			return fmt.Errorf("no issue found matching %q: %w", partial, storage.ErrNotFound)
		case 1:
			resolved = candidates[0]
			return nil
		}
		sort.Strings(candidates)
		if len(candidates) > maxAmbiguousCandidates {
			candidates = candidates[:maxAmbiguousCandidates]
		}
		return &storage.AmbiguousIDError{Prefix: partial, Candidates: candidates}
	})
	if err != nil {
		return "", err
	}
	return resolved, nil
}
