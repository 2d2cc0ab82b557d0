package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "fathom.db")

	// Press (async job infrastructure) defaults
	v.SetDefault("press.max_workers", 4)
	v.SetDefault("press.default_timeout_seconds", 300) // 5 minute per-job deadline
	v.SetDefault("press.num_workers", 4)
	v.SetDefault("press.queue_size", 100)
	v.SetDefault("press.shutdown_timeout_seconds", 30)
	v.SetDefault("press.dispatch_per_second", 0.0) // 0 = unlimited
	v.SetDefault("press.poll_interval_seconds", 15)
	v.SetDefault("press.dispatch_timeout_seconds", 30)

	// Server defaults
	v.SetDefault("server.events_listen_addr", "") // empty = event stream disabled
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("database.path", "FATHOM_DATABASE_PATH")
}
