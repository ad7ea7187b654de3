package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all actcore configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Task/thought/correlation persistence
	Database DatabaseConfig `yaml:"database"`

	// Secrets store
	Secrets SecretsConfig `yaml:"secrets"`

	// Action handler tuning
	Handlers HandlerConfig `yaml:"handlers"`

	// Audit trail
	Audit AuditConfig `yaml:"audit"`

	// Deferred-task scheduler
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the sqlite stores.
type DatabaseConfig struct {
	Path       string `yaml:"path"`        // tasks, thoughts, correlations
	MemoryPath string `yaml:"memory_path"` // memory graph
}

// AuditConfig configures the hash-chained audit log.
type AuditConfig struct {
	DatabasePath string `yaml:"database_path"`
	SigningKey   string `yaml:"-"` // hex, from ACTCORE_AUDIT_KEY only
}

// SchedulerConfig configures the deferred-task scheduler.
type SchedulerConfig struct {
	Timezone string `yaml:"timezone"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "actcore",
		Version: "0.4.0",

		Database: DatabaseConfig{
			Path:       "data/actcore.db",
			MemoryPath: "data/memory.db",
		},

		Secrets: DefaultSecretsConfig(),

		Handlers: DefaultHandlerConfig(),

		Audit: AuditConfig{
			DatabasePath: "data/audit.db",
		},

		Scheduler: SchedulerConfig{
			Timezone: "UTC",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults, still subject to environment overrides
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ACTCORE_DB"); path != "" {
		c.Database.Path = path
	}
	if path := os.Getenv("ACTCORE_MEMORY_DB"); path != "" {
		c.Database.MemoryPath = path
	}
	if path := os.Getenv("ACTCORE_SECRETS_DB"); path != "" {
		c.Secrets.DatabasePath = path
	}

	// Key material is never read from the YAML file
	if key := os.Getenv("ACTCORE_SECRETS_KEY"); key != "" {
		c.Secrets.MasterKey = key
	}
	if key := os.Getenv("ACTCORE_AUDIT_KEY"); key != "" {
		c.Audit.SigningKey = key
	}

	if level := os.Getenv("ACTCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.Handlers.Validate(); err != nil {
		return err
	}
	if err := c.Secrets.Validate(); err != nil {
		return err
	}
	if c.Audit.SigningKey != "" {
		if _, err := hex.DecodeString(c.Audit.SigningKey); err != nil {
			return fmt.Errorf("audit signing key must be hex: %w", err)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
		}
	}
	return nil
}

// SchedulerLocation returns the scheduler timezone, defaulting to UTC.
func (c *Config) SchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil || c.Scheduler.Timezone == "" {
		return time.UTC
	}
	return loc
}
