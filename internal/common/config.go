// Package common provides shared utilities for Fundwatch
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Fundwatch
type Config struct {
	Environment string        `toml:"environment"`
	Profile     string        `toml:"profile"` // local state owner id, default "local"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Sync        SyncConfig    `toml:"sync"`
	Clients     ClientsConfig `toml:"clients"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the local persisted state location.
type StorageConfig struct {
	Path string `toml:"path"` // BadgerHold directory for local state
}

// SyncConfig holds the remote config store (SurrealDB) settings.
// Sync stays disabled until Enabled is true and UserID is set.
type SyncConfig struct {
	Enabled   bool   `toml:"enabled"`
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	UserID    string `toml:"user_id"`
	Debounce  string `toml:"debounce"` // duration string, default "2s"
}

// GetDebounce parses and returns the sync debounce window.
func (c *SyncConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Eastmoney EastmoneyConfig `toml:"eastmoney"`
}

// EastmoneyConfig holds the fund valuation gateway configuration
type EastmoneyConfig struct {
	EstimateBaseURL string `toml:"estimate_base_url"`
	HistoryBaseURL  string `toml:"history_base_url"`
	RateLimit       int    `toml:"rate_limit"`
	Timeout         string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EastmoneyConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Profile:     "local",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Path: "data/state",
		},
		Sync: SyncConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "fundwatch",
			Database:  "fundwatch",
			Username:  "root",
			Password:  "root",
			Debounce:  "2s",
		},
		Clients: ClientsConfig{
			Eastmoney: EastmoneyConfig{
				EstimateBaseURL: "https://fundgz.1234567.com.cn",
				HistoryBaseURL:  "https://api.fund.eastmoney.com",
				RateLimit:       10,
				Timeout:         "30s",
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Outputs:  []string{"console"},
			FilePath: "./logs/fundwatch.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Profile == "" {
		config.Profile = "local"
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FUNDWATCH_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("FUNDWATCH_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("FUNDWATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("FUNDWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("FUNDWATCH_DATA_PATH"); path != "" {
		config.Storage.Path = filepath.Join(path, "state")
	}

	if profile := os.Getenv("FUNDWATCH_PROFILE"); profile != "" {
		config.Profile = profile
	}

	// Sync overrides
	if v := os.Getenv("FUNDWATCH_SYNC_ENABLED"); v != "" {
		config.Sync.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FUNDWATCH_SYNC_ADDRESS"); v != "" {
		config.Sync.Address = v
	}
	if v := os.Getenv("FUNDWATCH_SYNC_NAMESPACE"); v != "" {
		config.Sync.Namespace = v
	}
	if v := os.Getenv("FUNDWATCH_SYNC_DATABASE"); v != "" {
		config.Sync.Database = v
	}
	if v := os.Getenv("FUNDWATCH_SYNC_USERNAME"); v != "" {
		config.Sync.Username = v
	}
	if v := os.Getenv("FUNDWATCH_SYNC_PASSWORD"); v != "" {
		config.Sync.Password = v
	}
	if v := os.Getenv("FUNDWATCH_SYNC_USER_ID"); v != "" {
		config.Sync.UserID = v
	}

	if v := os.Getenv("FUNDWATCH_EASTMONEY_ESTIMATE_URL"); v != "" {
		config.Clients.Eastmoney.EstimateBaseURL = v
	}
	if v := os.Getenv("FUNDWATCH_EASTMONEY_HISTORY_URL"); v != "" {
		config.Clients.Eastmoney.HistoryBaseURL = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// SyncReady reports whether remote sync can be started.
func (c *Config) SyncReady() bool {
	return c.Sync.Enabled && c.Sync.UserID != "" && c.Sync.Address != ""
}
