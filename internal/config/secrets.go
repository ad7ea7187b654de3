package config

import (
	"encoding/hex"
	"fmt"
)

// SecretsConfig configures the encrypted secrets store.
type SecretsConfig struct {
	DatabasePath string `yaml:"database_path"`

	// MasterKey is hex encoded (32 bytes). Only ACTCORE_SECRETS_KEY sets it.
	MasterKey string `yaml:"-"`

	// Sliding-window limits per accessor
	MaxAccessesPerMinute int `yaml:"max_accesses_per_minute"`
	MaxAccessesPerHour   int `yaml:"max_accesses_per_hour"`
}

// DefaultSecretsConfig returns the default secrets configuration.
func DefaultSecretsConfig() SecretsConfig {
	return SecretsConfig{
		DatabasePath:         "data/secrets.db",
		MaxAccessesPerMinute: 10,
		MaxAccessesPerHour:   100,
	}
}

// Validate checks the secrets configuration.
func (c SecretsConfig) Validate() error {
	if c.MaxAccessesPerMinute < 1 {
		return fmt.Errorf("secrets.max_accesses_per_minute must be >= 1")
	}
	if c.MaxAccessesPerHour < c.MaxAccessesPerMinute {
		return fmt.Errorf("secrets.max_accesses_per_hour must be >= max_accesses_per_minute")
	}
	if c.MasterKey != "" {
		key, err := hex.DecodeString(c.MasterKey)
		if err != nil {
			return fmt.Errorf("secrets master key must be hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("secrets master key must be 32 bytes, got %d", len(key))
		}
	}
	return nil
}
