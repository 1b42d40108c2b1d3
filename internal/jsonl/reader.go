// Package jsonl reads and writes the line-oriented issue log: one JSON
// record per line, each carrying its labels, dependencies and comments.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/beadsync/beadsync/internal/types"
)

const (
	// initialBufferSize is the scanner's starting line buffer.
	initialBufferSize = 64 * 1024
	// MaxLineSize bounds a single record. Longer lines fail the read.
	MaxLineSize = 64 * 1024 * 1024
)

// CoreFields are the record fields an issue cannot be rebuilt without.
var CoreFields = map[string]bool{
	"id":         true,
	"title":      true,
	"status":     true,
	"priority":   true,
	"issue_type": true,
	"created_at": true,
	"updated_at": true,
}

// Record is one decoded log line.
type Record struct {
	Line  int
	Issue *types.Issue
	// Dropped names the non-core fields discarded by a lenient decode.
	Dropped []string
}

// Reader streams records from a log without loading the whole file.
// Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	lenient bool
}

// NewReader returns a strict Reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Lenient makes the reader drop undecodable non-core fields instead of
// failing the record. Core fields still fail with a ParseError.
func (r *Reader) Lenient() *Reader {
	r.lenient = true
	return r
}

// Next returns the next record, or io.EOF after the last one. A malformed
// line yields a *ParseError; reading may continue past it.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if r.lenient {
			issue, dropped, err := DecodeLenient(raw)
			if err != nil {
				err.Line = r.line
				return nil, err
			}
			return &Record{Line: r.line, Issue: issue, Dropped: dropped}, nil
		}
		issue, err := Decode(raw)
		if err != nil {
			err.Line = r.line
			return nil, err
		}
		return &Record{Line: r.line, Issue: issue}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log at line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Line returns the number of the last line read.
func (r *Reader) Line() int { return r.line }

// Decode parses one record strictly.
func Decode(raw []byte) (*types.Issue, *ParseError) {
	var issue types.Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		perr := &ParseError{ID: peekID(raw), Err: err}
		if te, ok := err.(*json.UnmarshalTypeError); ok {
			perr.Field = te.Field
		}
		return nil, perr
	}
	return &issue, nil
}

// DecodeLenient parses a record field by field. A core field that fails to
// decode fails the record; other failing fields are dropped and reported.
func DecodeLenient(raw []byte) (*types.Issue, []string, *ParseError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, &ParseError{ID: peekID(raw), Err: err}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	issue := &types.Issue{}
	var dropped []string
	for _, key := range keys {
		single, err := json.Marshal(map[string]json.RawMessage{key: fields[key]})
		if err != nil {
			return nil, nil, &ParseError{ID: peekID(raw), Field: key, Err: err}
		}
		// Decode into a copy so a half-applied field never leaks into the result.
		trial := *issue
		if err := json.Unmarshal(single, &trial); err != nil {
			if CoreFields[key] {
				return nil, nil, &ParseError{ID: peekID(raw), Field: key, Err: err}
			}
			dropped = append(dropped, key)
			continue
		}
		*issue = trial
	}
	return issue, dropped, nil
}

// peekID pulls the id out of a line that may not decode as a whole.
func peekID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &probe) == nil {
		return probe.ID
	}
	return ""
}

// ReadFile strictly decodes every record of the log at path. A missing file
// reads as empty.
func ReadFile(path string) ([]*types.Issue, error) {
	// #nosec G304 - path is the configured log location
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var issues []*types.Issue
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return issues, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		issues = append(issues, rec.Issue)
	}
}
