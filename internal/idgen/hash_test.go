package idgen

import (
	"testing"
	"time"
)

func TestGenerateHashIDMatchesJiraVector(t *testing.T) {
	timestamp := time.Date(2024, 1, 2, 3, 4, 5, 6*1_000_000, time.UTC)
	prefix := "bd"
	title := "Fix login"
	description := "Details"
	creator := "jira-import"

	tests := map[int]string{
		3: "bd-vju",
		4: "bd-8d8e",
		5: "bd-bi3tk",
		6: "bd-8bi3tk",
		7: "bd-r5sr6bm",
		8: "bd-8r5sr6bm",
	}

	for length, expected := range tests {
		got := GenerateHashID(prefix, title, description, creator, timestamp, length, 0)
		if got != expected {
			t.Fatalf("length %d: got %s, want %s", length, got, expected)
		}
	}
}

func TestGenerateHashIDNonceChangesID(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := GenerateHashID("bd", "t", "d", "me", ts, 6, 0)
	b := GenerateHashID("bd", "t", "d", "me", ts, 6, 1)
	if a == b {
		t.Fatalf("expected nonce to change the ID, both were %s", a)
	}
}

func TestGenerateHashIDInvalidLength(t *testing.T) {
	id := GenerateHashID("bd", "t", "d", "me", time.Unix(0, 0), 42, 0)
	if len(id) != len("bd-")+4 {
		t.Fatalf("expected 4-char fallback suffix, got %s", id)
	}
}

func TestGenerateRemapIDDeterministic(t *testing.T) {
	a := GenerateRemapID("bd", "bd-abc", "deadbeef", 6, 0)
	b := GenerateRemapID("bd", "bd-abc", "deadbeef", 6, 0)
	if a != b {
		t.Fatalf("remap is not deterministic: %s vs %s", a, b)
	}
	if a == GenerateRemapID("bd", "bd-abc", "cafebabe", 6, 0) {
		t.Fatal("different content should remap differently")
	}
	if a == "bd-abc" {
		t.Fatal("remap should not return the original ID")
	}
}

func TestEncodeBase36(t *testing.T) {
	tests := []struct {
		data   []byte
		length int
		want   string
	}{
		{[]byte{0}, 3, "000"},
		{[]byte{35}, 1, "z"},
		{[]byte{36}, 2, "10"},
		{[]byte{1, 0}, 2, "74"}, // 256 = 7*36 + 4
		{[]byte{1, 0}, 1, "4"},  // truncated to least significant digit
	}
	for _, tt := range tests {
		if got := EncodeBase36(tt.data, tt.length); got != tt.want {
			t.Errorf("EncodeBase36(%v, %d) = %q, want %q", tt.data, tt.length, got, tt.want)
		}
	}
}

func TestParentID(t *testing.T) {
	tests := []struct {
		id         string
		wantParent string
		wantOK     bool
	}{
		{"bd-abc.1", "bd-abc", true},
		{"bd-abc.1.2", "bd-abc.1", true},
		{"bd-abc", "", false},
		{"bd-abc.", "", false},
		{"bd-v1.x", "", false},
	}
	for _, tt := range tests {
		parent, ok := ParentID(tt.id)
		if parent != tt.wantParent || ok != tt.wantOK {
			t.Errorf("ParentID(%q) = (%q, %v), want (%q, %v)", tt.id, parent, ok, tt.wantParent, tt.wantOK)
		}
	}
	if ChildID("bd-abc", 3) != "bd-abc.3" {
		t.Errorf("unexpected child id %s", ChildID("bd-abc", 3))
	}
}

func TestAdaptiveLengthAndPrefix(t *testing.T) {
	if AdaptiveLength(0) != 4 || AdaptiveLength(1000) != 5 || AdaptiveLength(10_000_000) != MaxHashLength {
		t.Error("unexpected adaptive lengths")
	}
	if ExtractPrefix("my-proj-abc.1") != "my-proj" {
		t.Errorf("ExtractPrefix = %q", ExtractPrefix("my-proj-abc.1"))
	}
	if ExtractPrefix("noprefix") != "" {
		t.Error("expected empty prefix")
	}
}
