// Package config loads the Fathom configuration via Viper.
package config

import (
	"time"
)

// Config represents the core Fathom configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Press    PressConfig    `mapstructure:"press"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the event stream endpoint
type ServerConfig struct {
	EventsListenAddr string `mapstructure:"events_listen_addr"` // WebSocket event stream address (empty = disabled)
}

// PressConfig configures the press job system (executor, pool, scheduler)
type PressConfig struct {
	// Executor
	MaxWorkers            int `mapstructure:"max_workers"`             // Concurrent job executions (default: 4)
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"` // Per-job deadline (default: 300, 0 = none)

	// Worker pool
	NumWorkers             int     `mapstructure:"num_workers"`              // Queue consumer loops (default: 4)
	QueueSize              int     `mapstructure:"queue_size"`               // Bounded queue depth (default: 100)
	ShutdownTimeoutSeconds int     `mapstructure:"shutdown_timeout_seconds"` // Pool stop bound (default: 30)
	DispatchPerSecond      float64 `mapstructure:"dispatch_per_second"`      // Executor handoff rate (0 = unlimited)

	// Scheduler
	PollIntervalSeconds    int `mapstructure:"poll_interval_seconds"`    // Due-schedule poll cadence (default: 15, floor: 5)
	DispatchTimeoutSeconds int `mapstructure:"dispatch_timeout_seconds"` // Bound on one schedule trigger (default: 30)
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "fathom.db" // Fallback default
	}
	return c.Database.Path
}

// DefaultTimeout returns the per-job execution deadline
func (c *PressConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the worker pool stop bound
func (c *PressConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// PollInterval returns the scheduler poll cadence
func (c *PressConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DispatchTimeout returns the bound on one schedule trigger
func (c *PressConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}
