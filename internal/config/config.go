// Package config loads the companion configuration from
// ~/.openclaw-companion/config.yaml, with environment variable
// expansion for the gateway URL and token.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the companion needs to run.
type Config struct {
	// Gateway connection settings
	GatewayURL string `yaml:"gateway_url"` // ws:// or wss:// endpoint
	Token      string `yaml:"token"`       // Bearer token, may be ${VAR}
	ClientID   string `yaml:"client_id"`   // Stable client identifier
	ClientMode string `yaml:"client_mode"` // "companion" unless overridden
	Platform   string `yaml:"platform"`    // Reported in the handshake

	DataDir string `yaml:"data_dir"` // Device state and skill root

	// Reconnect and heartbeat tuning, all in milliseconds
	ReconnectIntervalMs  int64 `yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int   `yaml:"max_reconnect_attempts"`
	HeartbeatIntervalMs  int64 `yaml:"heartbeat_interval_ms"`
	RequestTimeoutMs     int64 `yaml:"request_timeout_ms"`
	AutoReconnect        bool  `yaml:"auto_reconnect"`

	Sandbox SandboxConfig `yaml:"sandbox"`
}

// SandboxConfig tunes the script execution sandbox.
type SandboxConfig struct {
	TimeoutMs     int64 `yaml:"timeout_ms"`
	MemoryLimitMB int   `yaml:"memory_limit_mb"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GatewayURL:           "ws://localhost:27895/gateway",
		ClientMode:           "companion",
		DataDir:              DefaultDataDir(),
		ReconnectIntervalMs:  3000,
		MaxReconnectAttempts: 10,
		HeartbeatIntervalMs:  30000,
		RequestTimeoutMs:     30000,
		AutoReconnect:        true,
		Sandbox: SandboxConfig{
			TimeoutMs:     5000,
			MemoryLimitMB: 128,
		},
	}
}

// DefaultDataDir returns the default data directory
// (~/.openclaw-companion).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openclaw-companion"
	}
	return filepath.Join(home, ".openclaw-companion")
}

// Load loads config from the default data dir, falling back to
// defaults when no file exists yet.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(DefaultDataDir(), "config.yaml"))
}

// LoadFrom loads config from a specific path. A missing file is not an
// error; a malformed one is.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.GatewayURL = os.ExpandEnv(cfg.GatewayURL)
	cfg.Token = os.ExpandEnv(cfg.Token)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if c.ReconnectIntervalMs < 0 || c.HeartbeatIntervalMs < 0 || c.RequestTimeoutMs < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

// Save writes the config back to the data dir.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, "config.yaml"), data, 0600)
}

// ReconnectInterval returns the tuned interval as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the tuned interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// RequestTimeout returns the tuned timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
