package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalConfig(t *testing.T) {
	tests := []struct {
		name       string
		configYAML string
		want       LocalConfig
	}{
		{name: "empty config", configYAML: ""},
		{
			name:       "all fields",
			configYAML: "db: data/bd.db\njsonl: log.jsonl\nissue-prefix: web\nactor: alice\n",
			want:       LocalConfig{DB: "data/bd.db", JSONL: "log.jsonl", IssuePrefix: "web", Actor: "alice"},
		},
		{
			name:       "commented key is ignored",
			configYAML: "# db: other.db\nissue-prefix: test\n",
			want:       LocalConfig{IssuePrefix: "test"},
		},
		{
			name:       "quoted values",
			configYAML: `jsonl: "my log.jsonl"` + "\nactor: 'bob'\n",
			want:       LocalConfig{JSONL: "my log.jsonl", Actor: "bob"},
		},
		{
			name:       "invalid yaml reads as empty",
			configYAML: "db: [broken\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beadsDir := t.TempDir()
			if tt.configYAML != "" {
				if err := os.WriteFile(filepath.Join(beadsDir, "config.yaml"), []byte(tt.configYAML), 0600); err != nil {
					t.Fatalf("write config: %v", err)
				}
			}
			got := LoadLocalConfig(beadsDir)
			if got == nil {
				t.Fatal("LoadLocalConfig returned nil")
			}
			if *got != tt.want {
				t.Errorf("LoadLocalConfig() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestLoadLocalConfigMissingDir(t *testing.T) {
	got := LoadLocalConfig(filepath.Join(t.TempDir(), "missing"))
	if got == nil || *got != (LocalConfig{}) {
		t.Errorf("LoadLocalConfig(missing) = %+v, want empty", got)
	}
}

func TestLoadLocalConfigWithEnv(t *testing.T) {
	beadsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(beadsDir, "config.yaml"), []byte("db: file.db\njsonl: file.jsonl\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BD_DB", "/env/bd.db")

	got := LoadLocalConfigWithEnv(beadsDir)
	if got.DB != "/env/bd.db" {
		t.Errorf("DB = %q, want env override", got.DB)
	}
	if got.JSONL != "file.jsonl" {
		t.Errorf("JSONL = %q, want value from file", got.JSONL)
	}
}

func TestLocalConfigPaths(t *testing.T) {
	beadsDir := filepath.Join(t.TempDir(), ".beads")

	db, log := (&LocalConfig{}).Paths(beadsDir)
	if db != filepath.Join(beadsDir, "beads.db") || log != filepath.Join(beadsDir, "issues.jsonl") {
		t.Errorf("default Paths() = %q, %q", db, log)
	}

	db, log = (&LocalConfig{DB: "/abs/x.db", JSONL: "sub/y.jsonl"}).Paths(beadsDir)
	if db != "/abs/x.db" {
		t.Errorf("absolute db path rewritten to %q", db)
	}
	if log != filepath.Join(beadsDir, "sub", "y.jsonl") {
		t.Errorf("relative jsonl path = %q", log)
	}
}
