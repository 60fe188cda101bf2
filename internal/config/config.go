// Package config holds nccatalog configuration: a JSON config file with
// environment-variable overrides on top of compiled-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config is the full nccatalog configuration.
type Config struct {
	// Database is the path of the catalog file.
	Database string `json:"database"`

	Index IndexConfig `json:"index"`
	Query QueryConfig `json:"query"`

	Logging LoggingConfig `json:"logging"`
}

// IndexConfig controls the incremental indexer.
type IndexConfig struct {
	// Glob matched against file base names during the scan.
	Glob string `json:"glob"`
	// FollowSymlinks enables traversal through symlinked directories.
	FollowSymlinks bool `json:"follow_symlinks"`
	// Workers bounds concurrent per-file metadata extraction.
	Workers int `json:"workers"`
	// Policy is the prune policy: "flag" or "delete".
	Policy string `json:"policy"`
}

// QueryConfig controls query disambiguation.
type QueryConfig struct {
	// Strict promotes ambiguity warnings to errors.
	Strict bool `json:"strict"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Verbose bool `json:"verbose"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Database: "catalog.db",
		Index: IndexConfig{
			Glob:    "*.nc",
			Workers: runtime.NumCPU(),
			Policy:  "flag",
		},
	}
}

// Load reads a config file over the defaults and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment override variables.
const (
	EnvDatabase       = "NCCATALOG_DB"
	EnvGlob           = "NCCATALOG_GLOB"
	EnvWorkers        = "NCCATALOG_WORKERS"
	EnvPolicy         = "NCCATALOG_POLICY"
	EnvFollowSymlinks = "NCCATALOG_FOLLOW_SYMLINKS"
	EnvStrict         = "NCCATALOG_STRICT"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvGlob); v != "" {
		c.Index.Glob = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		c.Index.Policy = v
	}
	if v := os.Getenv(EnvFollowSymlinks); v != "" {
		c.Index.FollowSymlinks = isTruthy(v)
	}
	if v := os.Getenv(EnvStrict); v != "" {
		c.Query.Strict = isTruthy(v)
	}
}

func (c *Config) validate() error {
	if c.Index.Policy != "flag" && c.Index.Policy != "delete" {
		return fmt.Errorf("invalid prune policy %q (want \"flag\" or \"delete\")", c.Index.Policy)
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("invalid worker count %d", c.Index.Workers)
	}
	if c.Index.Glob == "" {
		return fmt.Errorf("empty scan glob")
	}
	return nil
}

func isTruthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
