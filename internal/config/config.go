// Package config provides the configuration surface of the sync daemon.
// All sync tuning knobs are hot-reconfigurable via Watch.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openpharm/posync/internal/errors"
)

// Config holds the full configuration of the sync daemon.
// Durations are expressed in milliseconds, matching the wire defaults.
type Config struct {
	// Server endpoints
	ServerURL string `yaml:"server_url"`
	ProbeURL  string `yaml:"probe_url"`

	// Local surfaces
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// Branch identity stamped onto sync metadata
	BranchID   string `yaml:"branch_id"`
	BranchCode string `yaml:"branch_code"`
	TerminalID string `yaml:"terminal_id"`

	// Sync tuning
	MaxConcurrent          int     `yaml:"max_concurrent"`
	MaxRetries             int     `yaml:"max_retries"`
	RetryDelayMs           int     `yaml:"retry_delay_ms"`
	RetryJitter            float64 `yaml:"retry_jitter"`
	PriorityBoost          bool    `yaml:"priority_boost"`
	ConflictResolution     string  `yaml:"conflict_resolution"`
	PeriodicSyncIntervalMs int     `yaml:"periodic_sync_interval_ms"`
	ProbeIntervalMs        int     `yaml:"probe_interval_ms"`
	MaxQueueSize           int     `yaml:"max_queue_size"`
	StorageKey             string  `yaml:"storage_key"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ServerURL:              "http://localhost:8080",
		ProbeURL:               "http://localhost:8080/api/health",
		ListenAddr:             "127.0.0.1:8091",
		DataDir:                "./data",
		BranchID:               "branch-1",
		BranchCode:             "B001",
		TerminalID:             "pos-1",
		MaxConcurrent:          3,
		MaxRetries:             5,
		RetryDelayMs:           5000,
		RetryJitter:            0.1,
		PriorityBoost:          false,
		ConflictResolution:     "server_wins",
		PeriodicSyncIntervalMs: 30000,
		ProbeIntervalMs:        10000,
		MaxQueueSize:           1000,
		StorageKey:             "sync_queue_state",
	}
}

// Load reads a YAML config file on top of the defaults.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to parse config file", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv layers environment overrides for deployment-specific paths
// and endpoints over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("POSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("POSYNC_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("POSYNC_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return errors.New(errors.ErrConfigInvalid, "max_concurrent must be at least 1")
	}
	if c.MaxRetries < 1 {
		return errors.New(errors.ErrConfigInvalid, "max_retries must be at least 1")
	}
	if c.RetryDelayMs < 1 {
		return errors.New(errors.ErrConfigInvalid, "retry_delay_ms must be at least 1")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New(errors.ErrConfigInvalid, "retry_jitter must be between 0 and 1")
	}
	if c.MaxQueueSize < 1 {
		return errors.New(errors.ErrConfigInvalid, "max_queue_size must be at least 1")
	}
	if c.StorageKey == "" {
		return errors.New(errors.ErrConfigInvalid, "storage_key must not be empty")
	}
	switch c.ConflictResolution {
	case "client_wins", "server_wins", "manual":
	default:
		return errors.New(errors.ErrConfigInvalid,
			fmt.Sprintf("conflict_resolution must be client_wins, server_wins or manual, got %q", c.ConflictResolution))
	}
	return nil
}

// RetryDelay returns the backoff base delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// PeriodicSyncInterval returns the periodic dispatch wake-up interval.
func (c *Config) PeriodicSyncInterval() time.Duration {
	return time.Duration(c.PeriodicSyncIntervalMs) * time.Millisecond
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}
