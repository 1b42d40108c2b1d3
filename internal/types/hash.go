package types

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
)

// ComputeContentHash creates a deterministic SHA-256 hash of the issue's content.
//
// Only semantic fields participate, in a fixed order. The ID, every timestamp,
// provenance (created_by, source repo) and compaction metadata are excluded, so
// two issues with identical content share a hash and re-saving an unchanged
// issue never changes it. Fields are separated by a NUL byte so that moving text
// between adjacent fields changes the digest.
func (i *Issue) ComputeContentHash() string {
	h := sha256.New()
	w := hashWriter{h: h}

	w.str(i.Title)
	w.str(i.Description)
	w.str(i.Design)
	w.str(i.AcceptanceCriteria)
	w.str(i.Notes)
	w.str(string(i.Status))
	w.int(i.Priority)
	w.str(string(i.IssueType))
	w.str(i.Assignee)
	w.str(i.Owner)
	w.optInt(i.EstimatedMinutes)
	w.optStr(i.ExternalRef)
	w.str(i.SourceSystem)
	w.str(i.CloseReason)
	w.str(i.DeleteReason)
	w.str(i.Sender)
	w.flag(i.Ephemeral)
	w.flag(i.Pinned)
	w.flag(i.IsTemplate)

	return hex.EncodeToString(h.Sum(nil))
}

// hashWriter appends NUL-terminated field encodings to a hash.
type hashWriter struct {
	h hash.Hash
}

func (w hashWriter) str(s string) {
	w.h.Write([]byte(s))
	w.h.Write([]byte{0})
}

func (w hashWriter) int(n int) {
	w.str(strconv.Itoa(n))
}

// optStr distinguishes nil from the empty string.
func (w hashWriter) optStr(s *string) {
	if s == nil {
		w.h.Write([]byte{1, 0})
		return
	}
	w.str(*s)
}

func (w hashWriter) optInt(n *int) {
	if n == nil {
		w.h.Write([]byte{1, 0})
		return
	}
	w.int(*n)
}

func (w hashWriter) flag(b bool) {
	if b {
		w.str("1")
		return
	}
	w.str("")
}
