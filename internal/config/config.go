// Package config loads hexdash configuration from .hexdash/config.yaml with
// environment overrides. Storage backends are selected here, at startup,
// never by runtime environment sniffing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hexdash configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data directory holding sessions, entries, cache and logs
	DataDir string `yaml:"data_dir"`

	// External activity source (the IDE's local database)
	Source SourceConfig `yaml:"source"`

	// Session lifecycle
	Session SessionConfig `yaml:"session"`

	// Entry log
	Entries EntriesConfig `yaml:"entries"`

	// Cross-tier synchronization
	Sync SyncConfig `yaml:"sync"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SourceConfig configures the external activity source.
type SourceConfig struct {
	// Path to the IDE's sqlite activity database
	DatabasePath string `yaml:"database_path"`
}

// SessionConfig configures session lifecycle behavior.
type SessionConfig struct {
	// Inactivity threshold after which an active session is auto-ended
	TimeoutThreshold string `yaml:"timeout_threshold"`
}

// EntriesConfig configures the entry log.
type EntriesConfig struct {
	// Maximum retained entries; oldest are evicted first
	MaxEntries int `yaml:"max_entries"`
}

// SyncConfig configures the sync bridge tiers.
type SyncConfig struct {
	// Cache tier sqlite database path (relative paths resolve under DataDir)
	CachePath string `yaml:"cache_path"`

	// Remote tier is optional and identity-linked
	RemoteEnabled bool   `yaml:"remote_enabled"`
	OwnerID       string `yaml:"owner_id"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hexdash",
		Version: "1.2.0",
		DataDir: ".hexdash",

		Source: SourceConfig{
			DatabasePath: "",
		},

		Session: SessionConfig{
			TimeoutThreshold: "2h",
		},

		Entries: EntriesConfig{
			MaxEntries: 10000,
		},

		Sync: SyncConfig{
			CachePath:     "cache.db",
			RemoteEnabled: false,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("HEXDASH_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if path := os.Getenv("HEXDASH_SOURCE_DB"); path != "" {
		c.Source.DatabasePath = path
	}
	if owner := os.Getenv("HEXDASH_OWNER_ID"); owner != "" {
		c.Sync.OwnerID = owner
		c.Sync.RemoteEnabled = true
	}
	if threshold := os.Getenv("HEXDASH_SESSION_TIMEOUT"); threshold != "" {
		c.Session.TimeoutThreshold = threshold
	}
}

// GetTimeoutThreshold returns the session inactivity threshold as a duration.
func (c *Config) GetTimeoutThreshold() time.Duration {
	d, err := time.ParseDuration(c.Session.TimeoutThreshold)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// SessionsPath returns the file-tier session document path.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// ActiveSessionPath returns the active-session pointer file path.
func (c *Config) ActiveSessionPath() string {
	return filepath.Join(c.DataDir, "active_session")
}

// EntriesPath returns the entry log file path.
func (c *Config) EntriesPath() string {
	return filepath.Join(c.DataDir, "token_entries.json")
}

// CachePath returns the cache tier database path.
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.Sync.CachePath) {
		return c.Sync.CachePath
	}
	return filepath.Join(c.DataDir, c.Sync.CachePath)
}
