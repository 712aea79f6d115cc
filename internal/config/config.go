// Package config loads the client configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the client daemon settings.
type Config struct {
	// Tenant scopes every backend read and write.
	TenantID string `yaml:"tenant_id"`
	// BackendAddr is the websocket URL of the backend collection service.
	BackendAddr string `yaml:"backend_addr"`
	// LocalStatePath is the SQLite file for device-local preferences.
	LocalStatePath string `yaml:"local_state_path"`
	// PollInterval is the now-playing polling period.
	PollInterval time.Duration `yaml:"poll_interval"`
	// SessionTimeout bounds inactivity before re-authentication.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BackendAddr:    "ws://127.0.0.1:8090/sync",
		LocalStatePath: "setsync.db",
		PollInterval:   5 * time.Second,
		SessionTimeout: 30 * time.Minute,
		LogLevel:       "info",
	}
}

// Load reads YAML from path over the defaults. A missing file yields the
// defaults without error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.BackendAddr == "" {
		return fmt.Errorf("config: backend_addr is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	return nil
}
