package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how much of the log an export rewrites.
type Mode string

const (
	// ModeFull writes every issue.
	ModeFull Mode = "full"
	// ModeIncremental rewrites only dirty issues, keeping the other lines of
	// the existing log.
	ModeIncremental Mode = "incremental"
)

// Config keys consumed by LoadOptions.
const (
	ConfigKeyMode          = "export.mode"
	ConfigKeyWriteManifest = "export.write-manifest"
)

// ConfigStore is the slice of the store that LoadOptions reads.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// ParseMode validates a mode name. Empty means full.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.TrimSpace(value)) {
	case "":
		return ModeFull, nil
	case ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("invalid export mode %q (valid: full, incremental)", value)
}

// LoadOptions builds Options from the store's config table.
func LoadOptions(ctx context.Context, store ConfigStore) (Options, error) {
	var opts Options
	mode, err := store.GetConfig(ctx, ConfigKeyMode)
	if err != nil {
		return opts, fmt.Errorf("read %s: %w", ConfigKeyMode, err)
	}
	if opts.Mode, err = ParseMode(mode); err != nil {
		return opts, err
	}

	manifest, err := store.GetConfig(ctx, ConfigKeyWriteManifest)
	if err != nil {
		return opts, fmt.Errorf("read %s: %w", ConfigKeyWriteManifest, err)
	}
	if manifest != "" {
		if opts.WriteManifest, err = strconv.ParseBool(manifest); err != nil {
			return opts, fmt.Errorf("invalid %s %q: %w", ConfigKeyWriteManifest, manifest, err)
		}
	}
	return opts, nil
}
