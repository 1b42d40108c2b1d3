package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestIsYamlOnlyKey(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"json", true},
		{"db", true},
		{"jsonl", true},
		{"actor", true},
		{"lock-timeout", true},
		{"db.journal-mode", true},

		// Keys that also live in the database config table
		{"status.custom", false},
		{"import.orphan-handling", false},
		{"sync.conflict-strategy", false},
		{"issue_prefix", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := IsYamlOnlyKey(tt.key)
			if got != tt.expected {
				t.Errorf("IsYamlOnlyKey(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func decodeYaml(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("result is not valid yaml: %v\n%s", err, data)
	}
	return out
}

func TestSetYamlKey(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
		value   string
		check   func(t *testing.T, doc map[string]interface{}, raw string)
	}{
		{
			name:  "empty file gets a top-level key",
			key:   "json",
			value: "true",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				if doc["json"] != true {
					t.Errorf("json = %#v, want true", doc["json"])
				}
			},
		},
		{
			name:    "dotted key becomes nested section",
			content: "actor: alice\n",
			key:     "import.orphan-handling",
			value:   "resurrect",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				section, ok := doc["import"].(map[string]interface{})
				if !ok {
					t.Fatalf("import section missing:\n%s", raw)
				}
				if section["orphan-handling"] != "resurrect" {
					t.Errorf("orphan-handling = %#v", section["orphan-handling"])
				}
				if doc["actor"] != "alice" {
					t.Errorf("actor lost: %#v", doc["actor"])
				}
			},
		},
		{
			name:    "existing value replaced, comments kept",
			content: "# project settings\nsync:\n  conflict-strategy: newest # default\n",
			key:     "sync.conflict-strategy",
			value:   "manual",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				section := doc["sync"].(map[string]interface{})
				if section["conflict-strategy"] != "manual" {
					t.Errorf("conflict-strategy = %#v", section["conflict-strategy"])
				}
				if !strings.Contains(raw, "# project settings") || !strings.Contains(raw, "# default") {
					t.Errorf("comments dropped:\n%s", raw)
				}
			},
		},
		{
			name:    "flat dotted key updated in place",
			content: "db.journal-mode: wal\n",
			key:     "db.journal-mode",
			value:   "delete",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				if doc["db.journal-mode"] != "delete" {
					t.Errorf("flat key not updated:\n%s", raw)
				}
				if _, nested := doc["db"]; nested {
					t.Errorf("flat key duplicated as a section:\n%s", raw)
				}
			},
		},
		{
			name:  "durations stay unquoted",
			key:   "lock-timeout",
			value: "45s",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				if !strings.Contains(raw, "lock-timeout: 45s") {
					t.Errorf("unexpected encoding:\n%s", raw)
				}
			},
		},
		{
			name:  "special characters survive",
			key:   "actor",
			value: "ops: night #2",
			check: func(t *testing.T, doc map[string]interface{}, raw string) {
				if doc["actor"] != "ops: night #2" {
					t.Errorf("actor = %#v\n%s", doc["actor"], raw)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := setYamlKey([]byte(tt.content), tt.key, tt.value)
			if err != nil {
				t.Fatalf("setYamlKey: %v", err)
			}
			tt.check(t, decodeYaml(t, out), string(out))
		})
	}
}

func TestSetYamlKeyRejectsBadPaths(t *testing.T) {
	if _, err := setYamlKey([]byte("sync: on\n"), "sync.conflict-strategy", "ours"); err == nil {
		t.Error("expected error when a value sits where a section is needed")
	}
	if _, err := setYamlKey(nil, "import..policy", "x"); err == nil {
		t.Error("expected error for an empty key segment")
	}
	if _, err := setYamlKey([]byte("- a\n- b\n"), "json", "true"); err == nil {
		t.Error("expected error for a non-mapping document")
	}
}

func TestSetProjectValue(t *testing.T) {
	tmp := t.TempDir()
	beadsDir := filepath.Join(tmp, ".beads")
	if err := os.MkdirAll(filepath.Join(tmp, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(beadsDir, 0o750); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(beadsDir, ProjectConfigFile)
	if err := os.WriteFile(configPath, []byte("issue-prefix: bd\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	oldWD, _ := os.Getwd()
	if err := os.Chdir(filepath.Join(tmp, "sub")); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(oldWD) }()

	if err := SetProjectValue("import.error-policy", "partial"); err != nil {
		t.Fatalf("SetProjectValue: %v", err)
	}

	ResetForTesting()
	defer ResetForTesting()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := GetString(KeyImportErrorPolicy); got != "partial" {
		t.Errorf("viper read %s = %q, want partial", KeyImportErrorPolicy, got)
	}
	if got := GetString(KeyIssuePrefix); got != "bd" {
		t.Errorf("issue-prefix = %q, want bd", got)
	}
}

func TestSetProjectValueWithoutProject(t *testing.T) {
	oldWD, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(oldWD) }()

	if err := SetProjectValue("json", "true"); err == nil {
		t.Error("expected error outside a project")
	}
}
