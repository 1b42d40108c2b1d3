package importer

import "time"

// Manifest lists what a partial import left behind. It is written next to
// the log as <name>.import-manifest.json.
type Manifest struct {
	ImportedAt  time.Time       `json:"imported_at"`
	Path        string          `json:"path"`
	ContentHash string          `json:"content_hash"`
	Skipped     []SkippedRecord `json:"skipped"`
}
