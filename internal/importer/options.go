package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/merge"
	"github.com/beadsync/beadsync/internal/storage"
)

// ErrorPolicy decides what a bad record does to the rest of the import.
type ErrorPolicy string

const (
	// PolicyStrict aborts on the first bad record (default).
	PolicyStrict ErrorPolicy = "strict"
	// PolicyBestEffort skips bad records with a warning.
	PolicyBestEffort ErrorPolicy = "best-effort"
	// PolicyPartial retries a failed write once, then skips the record and
	// lists it in <name>.import-manifest.json.
	PolicyPartial ErrorPolicy = "partial"
	// PolicyRequiredCore aborts when a core field cannot be decoded and drops
	// undecodable non-core fields.
	PolicyRequiredCore ErrorPolicy = "required-core"
)

// ParseErrorPolicy validates a policy name. Empty means strict.
func ParseErrorPolicy(value string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.TrimSpace(value)); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyBestEffort, PolicyPartial, PolicyRequiredCore:
		return p, nil
	}
	return "", fmt.Errorf("invalid import error policy %q (valid: strict, best-effort, partial, required-core)", value)
}

// Options contains import configuration
type Options struct {
	Actor          string                 // Recorded on every event the import writes (default "import")
	Force          bool                   // Import even when the log looks unchanged since the last sync
	OrphanHandling storage.OrphanHandling // How to treat children whose parent is missing (default: allow)
	ErrorPolicy    ErrorPolicy            // What a bad record does (default: strict)
	Strategy       merge.Strategy         // Settles fields both sides changed (default: newest)
}

func (o *Options) setDefaults() {
	if o.Actor == "" {
		o.Actor = "import"
	}
	if o.OrphanHandling == "" {
		o.OrphanHandling = storage.OrphanAllow
	}
	if o.ErrorPolicy == "" {
		o.ErrorPolicy = PolicyStrict
	}
	if o.Strategy == "" {
		o.Strategy = merge.StrategyNewest
	}
}

// ConfigStore is the slice of the store that LoadOptions reads.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// LoadOptions builds Options from the database config table, falling back
// to config.yaml and the environment, then to the defaults.
func LoadOptions(ctx context.Context, store ConfigStore) (Options, error) {
	var opts Options
	lookup := func(key string) (string, error) {
		value, err := store.GetConfig(ctx, key)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		if value == "" {
			value = config.GetString(key)
		}
		return value, nil
	}

	value, err := lookup(config.KeyOrphanHandling)
	if err != nil {
		return opts, err
	}
	if opts.OrphanHandling, err = storage.ParseOrphanHandling(value); err != nil {
		return opts, err
	}

	if value, err = lookup(config.KeyImportErrorPolicy); err != nil {
		return opts, err
	}
	if opts.ErrorPolicy, err = ParseErrorPolicy(value); err != nil {
		return opts, err
	}

	// A bad strategy in config.yaml only warns; a bad one in the database fails.
	if value, err = store.GetConfig(ctx, config.KeyConflictStrategy); err != nil {
		return opts, fmt.Errorf("read %s: %w", config.KeyConflictStrategy, err)
	}
	if value == "" {
		opts.Strategy = merge.Strategy(config.GetConflictStrategy())
	} else if opts.Strategy, err = merge.ParseStrategy(strings.ToLower(value)); err != nil {
		return opts, err
	}

	opts.setDefaults()
	return opts, nil
}
