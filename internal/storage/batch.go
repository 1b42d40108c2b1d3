package storage

import "fmt"

// OrphanHandling specifies how to handle issues with missing parent references.
type OrphanHandling string

const (
	// OrphanStrict fails import on missing parent (safest)
	OrphanStrict OrphanHandling = "strict"
	// OrphanResurrect creates a tombstoned placeholder for the missing parent
	OrphanResurrect OrphanHandling = "resurrect"
	// OrphanSkip skips orphaned issues with warning
	OrphanSkip OrphanHandling = "skip"
	// OrphanAllow imports orphans without validation (default)
	OrphanAllow OrphanHandling = "allow"
)

// ParseOrphanHandling validates a configured orphan policy. Empty means allow.
func ParseOrphanHandling(value string) (OrphanHandling, error) {
	switch OrphanHandling(value) {
	case "":
		return OrphanAllow, nil
	case OrphanStrict, OrphanResurrect, OrphanSkip, OrphanAllow:
		return OrphanHandling(value), nil
	}
	return "", fmt.Errorf("invalid orphan handling %q (valid: strict, resurrect, skip, allow)", value)
}
