package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/beadsync/beadsync/internal/types"
)

// project is a bd project rooted in a temp directory. Tests using it must
// not run in parallel: config loading follows the working directory.
type project struct {
	t   *testing.T
	dir string
}

func newProject(t *testing.T) *project {
	t.Helper()
	dir := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("BEADS_DIR", "")
	t.Setenv("BD_ACTOR", "tester")
	t.Setenv("BEADS_ACTOR", "")
	t.Setenv("BD_JSON", "")
	t.Chdir(dir)
	return &project{t: t, dir: dir}
}

// enter makes p the working directory again after another project ran.
func (p *project) enter() {
	p.t.Chdir(p.dir)
}

// run executes bd with JSON output and returns stdout.
func (p *project) run(args ...string) (string, error) {
	p.t.Helper()
	var stdout, stderr bytes.Buffer
	s := newSession(context.Background(), &stdout, &stderr)
	s.workDir = p.dir
	root := newRootCmd(s)
	root.SetArgs(append([]string{"--format", "json"}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	if closeErr := s.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return stdout.String(), err
}

func (p *project) mustRun(args ...string) string {
	p.t.Helper()
	out, err := p.run(args...)
	if err != nil {
		p.t.Fatalf("bd %v: %v", args, err)
	}
	return out
}

func (p *project) init(prefix string) {
	p.t.Helper()
	p.mustRun("init", "--prefix", prefix)
}

func (p *project) create(title string, args ...string) *types.Issue {
	p.t.Helper()
	var issue types.Issue
	decode(p.t, p.mustRun(append([]string{"create", title}, args...)...), &issue)
	return &issue
}

func (p *project) show(id string) *issueDetail {
	p.t.Helper()
	args := []string{"show"}
	if id != "" {
		args = append(args, id)
	}
	var details []*issueDetail
	decode(p.t, p.mustRun(args...), &details)
	if len(details) != 1 {
		p.t.Fatalf("show %s returned %d issues", id, len(details))
	}
	return details[0]
}

func decode(t *testing.T, out string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
}

func ids(issues []*types.Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.ID
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
