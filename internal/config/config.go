package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beadsync/beadsync/internal/debug"
)

// Keys shared by the command layer and the sync engine.
const (
	KeyJSON              = "json"
	KeyDB                = "db"
	KeyJSONL             = "jsonl"
	KeyActor             = "actor"
	KeyIssuePrefix       = "issue-prefix"
	KeyLockTimeout       = "lock-timeout"
	KeyJournalMode       = "db.journal-mode"
	KeyOrphanHandling    = "import.orphan-handling"
	KeyImportErrorPolicy = "import.error-policy"
	KeyConflictStrategy  = "sync.conflict-strategy"
	KeyReadySortPolicy   = "ready.sort-policy"
	KeyCustomStatuses    = "status.custom"
	KeyCustomTypes       = "types.custom"
	KeyFailureReasons    = "deps.conditional-blocks.failure-reasons"
	KeyWaitsForMode      = "deps.waits-for.mode"
	KeyExportMode        = "export.mode"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton
// Should be called once at application startup
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: project .beads/config.yaml > ~/.config/bd/config.yaml
	configFileSet := false
	if configPath, err := findProjectConfigYaml(); err == nil {
		v.SetConfigFile(configPath)
		configFileSet = true
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "bd", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file,
	// e.g. BD_JSON, BD_ACTOR, BD_IMPORT_ERROR_POLICY.
	v.SetEnvPrefix("BD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyActor, "BD_ACTOR", "BEADS_ACTOR")
	_ = v.BindEnv(KeyLockTimeout, "BD_LOCK_TIMEOUT", "BEADS_LOCK_TIMEOUT")

	v.SetDefault(KeyJSON, false)
	v.SetDefault(KeyDB, "")
	v.SetDefault(KeyJSONL, "")
	v.SetDefault(KeyActor, "")
	v.SetDefault(KeyIssuePrefix, "")
	v.SetDefault(KeyLockTimeout, "30s")
	v.SetDefault(KeyJournalMode, "auto")
	v.SetDefault(KeyOrphanHandling, "allow")
	v.SetDefault(KeyImportErrorPolicy, "strict")
	v.SetDefault(KeyConflictStrategy, ConflictStrategyNewest)
	v.SetDefault(KeyReadySortPolicy, "hybrid")
	v.SetDefault(KeyCustomStatuses, "")
	v.SetDefault(KeyCustomTypes, "")
	v.SetDefault(KeyFailureReasons, "")
	v.SetDefault(KeyWaitsForMode, "all-children")
	v.SetDefault(KeyExportMode, "full")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}
	return nil
}

// ResetForTesting clears the config state, allowing Initialize() to be called again.
// WARNING: Not thread-safe. Only call from single-threaded test contexts.
func ResetForTesting() {
	v = nil
}

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
)

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "BD_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// IsSet reports whether key has a value from any source, defaults included.
func IsSet(key string) bool {
	return v != nil && v.IsSet(key)
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// ConfigFileUsed returns the path to the config file that was loaded, or ""
// when none was found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// GetList reads a list that may be written either as a YAML sequence or as
// one comma-separated string. Blank entries are dropped.
func GetList(key string) []string {
	if v == nil {
		return []string{}
	}
	var raw []string
	switch value := v.Get(key).(type) {
	case string:
		raw = strings.Split(value, ",")
	default:
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
