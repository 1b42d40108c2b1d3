package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSQLiteConnString(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		readOnly bool
		busy     time.Duration
		want     string
	}{
		{
			name: "plain path",
			path: "/tmp/beads.db",
			busy: 5 * time.Second,
			want: "file:/tmp/beads.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite",
		},
		{
			name: "default timeout",
			path: "/tmp/beads.db",
			want: "file:/tmp/beads.db?_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)&_time_format=sqlite",
		},
		{
			name:     "read only",
			path:     "/tmp/beads.db",
			readOnly: true,
			busy:     time.Second,
			want:     "file:/tmp/beads.db?mode=ro&_pragma=busy_timeout(1000)&_pragma=foreign_keys(1)&_time_format=sqlite",
		},
		{
			name: "existing uri keeps its pragmas",
			path: "file:x.db?_pragma=busy_timeout(10)",
			busy: time.Second,
			want: "file:x.db?_pragma=busy_timeout(10)&_pragma=foreign_keys(1)&_time_format=sqlite",
		},
		{
			name: "empty",
			path: "  ",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SQLiteConnString(tt.path, tt.readOnly, tt.busy); got != tt.want {
				t.Errorf("SQLiteConnString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	amb := fmt.Errorf("resolve: %w", &AmbiguousIDError{Prefix: "bd-a", Candidates: []string{"bd-a1", "bd-a2"}})
	if !errors.Is(amb, ErrAmbiguousID) {
		t.Error("AmbiguousIDError should match ErrAmbiguousID")
	}
	if !strings.Contains(amb.Error(), "bd-a1, bd-a2") {
		t.Errorf("ambiguous error should list candidates: %v", amb)
	}

	cyc := &CycleError{IssueID: "bd-b", DependsOnID: "bd-a", Path: []string{"bd-a", "bd-b"}}
	if !errors.Is(cyc, ErrCycle) {
		t.Error("CycleError should match ErrCycle")
	}
	if !strings.Contains(cyc.Error(), "bd-b → bd-a → bd-b") {
		t.Errorf("cycle error should show the path: %v", cyc)
	}
	capped := &CycleError{IssueID: "bd-b", DependsOnID: "bd-a", DepthCapped: true}
	if !strings.Contains(capped.Error(), "depth limit") {
		t.Errorf("capped cycle error should mention the depth limit: %v", capped)
	}

	inv := InvalidInput("bd-1", errors.New("title is required"))
	if !errors.Is(inv, ErrInvalidInput) || !strings.Contains(inv.Error(), "bd-1") {
		t.Errorf("unexpected invalid input error: %v", inv)
	}
	if InvalidInput("bd-1", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestParseOrphanHandling(t *testing.T) {
	for in, want := range map[string]OrphanHandling{
		"":          OrphanAllow,
		"allow":     OrphanAllow,
		"skip":      OrphanSkip,
		"strict":    OrphanStrict,
		"resurrect": OrphanResurrect,
	} {
		got, err := ParseOrphanHandling(in)
		if err != nil || got != want {
			t.Errorf("ParseOrphanHandling(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseOrphanHandling("ignore"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestValidateMetadataKeyCommonCases(t *testing.T) {
	for _, key := range []string{MetaJSONLContentHash, MetaSchemaVersion, "jira.sprint", "_x"} {
		if err := ValidateMetadataKey(key); err != nil {
			t.Errorf("ValidateMetadataKey(%q) = %v", key, err)
		}
	}
	for _, key := range []string{"", "1abc", "a b", "a;drop"} {
		if err := ValidateMetadataKey(key); err == nil {
			t.Errorf("ValidateMetadataKey(%q) should fail", key)
		}
	}
}
