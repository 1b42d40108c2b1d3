package export

import (
	"time"

	"github.com/beadsync/beadsync/internal/jsonl"
)

// Manifest summarises one export. It is written next to the log as
// <name>.manifest.json when Options.WriteManifest is set.
type Manifest struct {
	ExportedAt   time.Time `json:"exported_at"`
	Mode         Mode      `json:"mode"`
	IssueCount   int       `json:"issue_count"`
	Refreshed    int       `json:"refreshed"`
	ContentHash  string    `json:"content_hash"`
	DirtyCleared int       `json:"dirty_cleared"`
}

// WriteManifest writes an export manifest alongside the log at jsonlPath.
func WriteManifest(jsonlPath string, manifest *Manifest) error {
	return jsonl.WriteJSONAtomic(jsonl.ManifestPath(jsonlPath, "manifest"), manifest)
}
