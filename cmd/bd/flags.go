package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/timeparsing"
	"github.com/beadsync/beadsync/internal/types"
)

// clearValues are accepted by --defer and --due to unset the field.
var clearValues = map[string]bool{"none": true, "clear": true, "-": true}

// parseTimeFlag reads a --defer/--due value: "+2d", "next monday",
// "2025-03-01" or RFC3339. cleared reports an explicit unset.
func parseTimeFlag(name, value string, now time.Time) (t *time.Time, cleared bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false, nil
	}
	if clearValues[strings.ToLower(value)] {
		return nil, true, nil
	}
	parsed, err := timeparsing.ParseRelativeTime(value, now)
	if err != nil {
		return nil, false, fmt.Errorf("--%s %q: %v: %w", name, value, err, storage.ErrInvalidInput)
	}
	parsed = parsed.UTC()
	return &parsed, false, nil
}

// parseDependencySpec reads "type:id" or a bare id (type blocks).
func parseDependencySpec(spec string) (types.DependencyType, string, error) {
	spec = strings.TrimSpace(spec)
	depType, target := types.DepBlocks, spec
	if i := strings.Index(spec, ":"); i >= 0 {
		depType, target = types.DependencyType(strings.TrimSpace(spec[:i])), strings.TrimSpace(spec[i+1:])
	}
	if target == "" {
		return "", "", fmt.Errorf("dependency %q has no target: %w", spec, storage.ErrInvalidInput)
	}
	if !depType.IsValid() {
		return "", "", fmt.Errorf("dependency %q: invalid type %q: %w", spec, depType, storage.ErrInvalidInput)
	}
	return depType, target, nil
}

// normalizeLabels trims, drops empties and dedupes, keeping the result sorted.
func normalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// parsePriority accepts 0-4 or P0-P4.
func parsePriority(value string) (int, error) {
	v := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(value)), "P")
	if len(v) == 1 && v[0] >= '0' && v[0] <= '4' {
		return int(v[0] - '0'), nil
	}
	return 0, fmt.Errorf("invalid priority %q (use 0-4 or P0-P4): %w", value, storage.ErrInvalidInput)
}
