package sqlite

import "testing"

func TestIsWindowsMountPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/mnt/c/Users/test/project/.beads/beads.db", true},
		{"/mnt/d/work/.beads/beads.db", true},
		{"/mnt/wsl/docker-desktop-bind-mounts/Ubuntu/abc/.beads/beads.db", true},
		{"/mnt/wsl/", true},
		{"/home/user/project/.beads/beads.db", false},
		{"/tmp/beads.db", false},
		{"/mnt/nfs/share/beads.db", false},
		{"/mnt/wsls/beads.db", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isWindowsMountPath(tt.path); got != tt.want {
				t.Errorf("isWindowsMountPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWSL2DetectionRequiresWSL(t *testing.T) {
	if runningInWSL() {
		t.Skip("running inside WSL")
	}
	if isWSL2WindowsPath("/mnt/c/project/beads.db") {
		t.Error("Windows mount paths must not match outside WSL")
	}
}

func TestParseJournalMode(t *testing.T) {
	tests := []struct {
		in      string
		want    JournalMode
		wantErr bool
	}{
		{"", JournalAuto, false},
		{"auto", JournalAuto, false},
		{"WAL", JournalWAL, false},
		{" delete ", JournalDelete, false},
		{"truncate", "", true},
	}
	for _, tt := range tests {
		got, err := ParseJournalMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseJournalMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseJournalMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChooseJournalMode(t *testing.T) {
	if mode, _ := chooseJournalMode("/tmp/x.db", JournalDelete); mode != JournalDelete {
		t.Errorf("configured delete: got %q", mode)
	}
	if mode, _ := chooseJournalMode("/mnt/c/x.db", JournalWAL); mode != JournalWAL {
		t.Errorf("configured wal must win over detection: got %q", mode)
	}
	if mode, reason := chooseJournalMode(":memory:", JournalAuto); mode != JournalDelete || reason == "" {
		t.Errorf("memory: got %q (%q)", mode, reason)
	}
	mode, _ := chooseJournalMode(t.TempDir()+"/x.db", JournalAuto)
	if mode != JournalWAL && mode != JournalDelete {
		t.Errorf("unexpected mode %q", mode)
	}
}
