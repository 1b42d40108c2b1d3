package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml needed before viper is
// initialized or after the CWD changed: where the database and the log live.
type LocalConfig struct {
	DB          string `yaml:"db"`
	JSONL       string `yaml:"jsonl"`
	IssuePrefix string `yaml:"issue-prefix"`
	Actor       string `yaml:"actor"`
}

// LoadLocalConfig reads and parses config.yaml directly from the specified beads directory.
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(beadsDir string) *LocalConfig {
	configPath := filepath.Join(beadsDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from beadsDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment variable overrides.
//
// Supported environment variables:
// - BD_DB: overrides db
// - BD_JSONL: overrides jsonl
func LoadLocalConfigWithEnv(beadsDir string) *LocalConfig {
	cfg := LoadLocalConfig(beadsDir)
	if db := os.Getenv("BD_DB"); db != "" {
		cfg.DB = db
	}
	if path := os.Getenv("BD_JSONL"); path != "" {
		cfg.JSONL = path
	}
	return cfg
}

// Paths resolves the database and log locations for beadsDir. Relative
// values in config.yaml are relative to beadsDir.
func (c *LocalConfig) Paths(beadsDir string) (dbPath, jsonlPath string) {
	dbPath, jsonlPath = c.DB, c.JSONL
	if dbPath == "" {
		dbPath = "beads.db"
	}
	if jsonlPath == "" {
		jsonlPath = "issues.jsonl"
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(beadsDir, dbPath)
	}
	if !filepath.IsAbs(jsonlPath) {
		jsonlPath = filepath.Join(beadsDir, jsonlPath)
	}
	return dbPath, jsonlPath
}
