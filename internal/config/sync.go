package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ConfigWarningWriter receives warnings about invalid config values.
var ConfigWarningWriter io.Writer = os.Stderr

// ConflictStrategy represents the conflict resolution strategy
type ConflictStrategy string

const (
	// ConflictStrategyNewest uses last-write-wins (default)
	ConflictStrategyNewest ConflictStrategy = "newest"
	// ConflictStrategyOurs prefers local changes
	ConflictStrategyOurs ConflictStrategy = "ours"
	// ConflictStrategyTheirs prefers remote changes
	ConflictStrategyTheirs ConflictStrategy = "theirs"
	// ConflictStrategyManual requires manual resolution
	ConflictStrategyManual ConflictStrategy = "manual"
)

var validConflictStrategies = map[ConflictStrategy]bool{
	ConflictStrategyNewest: true,
	ConflictStrategyOurs:   true,
	ConflictStrategyTheirs: true,
	ConflictStrategyManual: true,
}

// DefaultLockTimeout bounds every lock wait when lock-timeout is unset or invalid.
const DefaultLockTimeout = 30 * time.Second

// GetConflictStrategy retrieves the conflict resolution strategy configuration.
// Returns the configured strategy, or ConflictStrategyNewest (default) if not set or invalid.
// Logs a warning to stderr if an invalid value is configured.
//
// Config key: sync.conflict-strategy
// Valid values: newest, ours, theirs, manual
func GetConflictStrategy() ConflictStrategy {
	value := GetString(KeyConflictStrategy)
	if value == "" {
		return ConflictStrategyNewest
	}

	strategy := ConflictStrategy(strings.ToLower(strings.TrimSpace(value)))
	if !validConflictStrategies[strategy] {
		fmt.Fprintf(ConfigWarningWriter, "Warning: invalid %s %q in config (valid: newest, ours, theirs, manual), using default 'newest'\n", KeyConflictStrategy, value)
		return ConflictStrategyNewest
	}
	return strategy
}

// GetLockTimeout retrieves how long lock acquisition may wait.
//
// Config key: lock-timeout
func GetLockTimeout() time.Duration {
	d := GetDuration(KeyLockTimeout)
	if d <= 0 {
		return DefaultLockTimeout
	}
	return d
}
