package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "listkeeper.db")

	// Worker pool defaults
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.job_timeout_seconds", 120)
	v.SetDefault("worker.lease_seconds", 300)

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_seconds", 1)
	v.SetDefault("scheduler.reconcile_interval_seconds", 86400) // nightly
}
