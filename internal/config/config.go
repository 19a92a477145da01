// Package config loads the YAML configuration that wires a rule
// directory, a correlation-state backend, and logging into a running
// sigmacore collection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sigmacore/sigmacore/internal/logutil"
)

// Config is the complete sigmacore configuration.
type Config struct {
	Rules RulesConfig `yaml:"rules"`
	State StateConfig `yaml:"state"`
	Log   LogConfig   `yaml:"log"`
}

// RulesConfig locates the rule set and controls reload behavior.
type RulesConfig struct {
	Path  string `yaml:"path"`  // directory of Sigma rule YAML files, loaded recursively
	Watch bool   `yaml:"watch"` // reload automatically when files under Path change
}

// StateConfig selects the correlation-state backend.
type StateConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "bbolt"
	DBPath     string `yaml:"db_path"` // used when Backend == "bbolt"; defaults to /var/lib/sigmacore/state.db
	SyncWrites bool   `yaml:"sync_writes"`
}

// LogConfig controls console output verbosity.
type LogConfig struct {
	Level      string `yaml:"level"`
	Timestamps bool   `yaml:"timestamps"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rules.Path == "" {
		c.Rules.Path = "/etc/sigmacore/rules"
	}

	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.State.Backend == "bbolt" && c.State.DBPath == "" {
		c.State.DBPath = "/var/lib/sigmacore/state.db"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Rules.Path == "" {
		return fmt.Errorf("rules.path is required")
	}
	if !filepath.IsAbs(c.Rules.Path) {
		return fmt.Errorf("rules.path must be an absolute path")
	}

	switch c.State.Backend {
	case "memory":
	case "bbolt":
		if !filepath.IsAbs(c.State.DBPath) {
			return fmt.Errorf("state.db_path must be an absolute path")
		}
	default:
		return fmt.Errorf("state.backend must be 'memory' or 'bbolt', got %q", c.State.Backend)
	}
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	level = strings.ToLower(level)
	return level == "debug" || level == "info" || level == "warn" || level == "error"
}

// ApplyLogging pushes Log.Level/Log.Timestamps into the process-wide
// logutil settings. "debug" maps to logutil.VerboseLevel; everything else
// (info/warn/error all share console output, spec.md has no per-level
// suppression) maps to logutil.NormalLevel.
func (c *Config) ApplyLogging() {
	level := logutil.NormalLevel
	if strings.ToLower(c.Log.Level) == "debug" {
		level = logutil.VerboseLevel
	}
	logutil.SetVerbosity(level)
	logutil.SetTimestamps(c.Log.Timestamps)
}
