// Package config loads dakbench configuration from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dakbench configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// GitHub API access
	GitHub GitHubConfig `yaml:"github"`

	// Staging ground persistence
	Staging StagingConfig `yaml:"staging"`

	// Commit coordination
	Commit CommitConfig `yaml:"commit"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GitHubConfig configures the GitHub REST client.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StagingConfig configures the local persistence store.
type StagingConfig struct {
	// SQLite database holding staged sessions
	DatabasePath string `yaml:"database_path"`

	// Directory for cross-process revision signals; empty disables them
	SignalsDir string `yaml:"signals_dir"`
}

// CommitConfig configures the commit coordinator.
type CommitConfig struct {
	// Bounded fan-out for per-file commits
	Concurrency int `yaml:"concurrency"`

	// Refuse to save when validation reports errors
	BlockOnValidationErrors bool `yaml:"block_on_validation_errors"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dakbench",
		Version: "0.3.0",

		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
			Timeout: "30s",
		},

		Staging: StagingConfig{
			DatabasePath: ".dakbench/staging.db",
			SignalsDir:   ".dakbench/signals",
		},

		Commit: CommitConfig{
			Concurrency:             4,
			BlockOnValidationErrors: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "dakbench.log",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets the environment supply credentials so tokens never
// need to live in the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DAKBENCH_GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	} else if v := os.Getenv("GITHUB_TOKEN"); v != "" && c.GitHub.Token == "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("DAKBENCH_GITHUB_BASE_URL"); v != "" {
		c.GitHub.BaseURL = v
	}
	if v := os.Getenv("DAKBENCH_DB_PATH"); v != "" {
		c.Staging.DatabasePath = v
	}
}

// GitHubTimeout parses the configured API timeout, defaulting to 30s.
func (c *Config) GitHubTimeout() time.Duration {
	d, err := time.ParseDuration(c.GitHub.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
