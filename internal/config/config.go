// Package config provides configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"tender-cost/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Persistence contains snapshot persistence settings
	Persistence PersistenceConfig `json:"persistence"`

	// Pricing contains tender-wide pricing defaults
	Pricing PricingConfig `json:"pricing"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// PersistenceConfig contains persistence-related settings
type PersistenceConfig struct {
	// Backend selects the snapshot store (memory, file, sqlite)
	Backend string `json:"backend"`

	// Path is the file-store directory or sqlite database path
	Path string `json:"path"`

	// DebounceMs is the trailing-edge debounce window after the last
	// edit before a snapshot is persisted
	DebounceMs int `json:"debounce_ms"`

	// WriteTimeoutMs bounds each repository write attempt
	WriteTimeoutMs int `json:"write_timeout_ms"`

	// MaxRetries is how many times a failed write is retried
	MaxRetries int `json:"max_retries"`

	// RetryBackoffMs is the base delay between retries
	RetryBackoffMs int `json:"retry_backoff_ms"`
}

// PricingConfig contains the tender-wide default overhead rates
type PricingConfig struct {
	// DefaultAdministrative is the default administrative percentage
	DefaultAdministrative float64 `json:"default_administrative"`

	// DefaultOperational is the default operational percentage
	DefaultOperational float64 `json:"default_operational"`

	// DefaultProfit is the default profit percentage
	DefaultProfit float64 `json:"default_profit"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	storePath := filepath.Join(homeDir, ".tender-cost", "store")

	return &Config{
		Version: "1.0",
		Persistence: PersistenceConfig{
			Backend:        "file",
			Path:           storePath,
			DebounceMs:     2000,
			WriteTimeoutMs: 5000,
			MaxRetries:     2,
			RetryBackoffMs: 250,
		},
		Pricing: PricingConfig{
			DefaultAdministrative: 5,
			DefaultOperational:    5,
			DefaultProfit:         15,
		},
		Logging: logging.DefaultConfig(),
	}
}

// DebounceWindow returns the debounce window as a duration
func (p PersistenceConfig) DebounceWindow() time.Duration {
	return time.Duration(p.DebounceMs) * time.Millisecond
}

// WriteTimeout returns the write timeout as a duration
func (p PersistenceConfig) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutMs) * time.Millisecond
}

// RetryBackoff returns the retry backoff as a duration
func (p PersistenceConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMs) * time.Millisecond
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
