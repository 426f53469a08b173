// Package config holds the listkeeper configuration, loaded from TOML via
// viper. The daemon reads it once at startup; the Watcher reports file
// changes so operators know a restart is needed for tunables to apply.
package config

import "sort"

// Config represents the core listkeeper configuration
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database" toml:"database"`
	Worker    WorkerConfig              `mapstructure:"worker" toml:"worker"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler" toml:"scheduler"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms" toml:"platforms"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// WorkerConfig configures the job worker pool
type WorkerConfig struct {
	// Workers is the number of concurrent job executors (default: 4)
	Workers int `mapstructure:"workers" toml:"workers"`

	// PollIntervalMS is how often an idle worker checks for new jobs (default: 1000)
	PollIntervalMS int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`

	// JobTimeoutSeconds bounds a single handler execution (default: 120).
	// Timeouts are treated as transient failures and retried.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" toml:"job_timeout_seconds"`

	// LeaseSeconds is how long a leased job stays owned by a worker before
	// another worker may reclaim it (default: 300)
	LeaseSeconds int `mapstructure:"lease_seconds" toml:"lease_seconds"`
}

// SchedulerConfig configures the recurring-job scheduler
type SchedulerConfig struct {
	// TickIntervalSeconds is how often the scheduler checks for due
	// definitions (default: 1)
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`

	// ReconcileIntervalSeconds is the interval of the built-in
	// reconciliation schedule (default: 86400, one day; 0 disables seeding)
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds" toml:"reconcile_interval_seconds"`
}

// PlatformConfig configures one marketplace integration
type PlatformConfig struct {
	// Enabled controls whether the listing manager fans out to this platform
	Enabled bool `mapstructure:"enabled" toml:"enabled"`

	// MaxCallsPerMinute rate-limits adapter calls for this platform
	// (default: 30; 0 = unlimited)
	MaxCallsPerMinute int `mapstructure:"max_calls_per_minute" toml:"max_calls_per_minute"`

	// APIKey authenticates against the marketplace API
	APIKey string `mapstructure:"api_key" toml:"api_key"`
}

// EnabledPlatforms returns the names of all enabled platforms, useful for
// fan-out decisions in the listing manager.
func (c *Config) EnabledPlatforms() []string {
	names := make([]string, 0, len(c.Platforms))
	for name, pc := range c.Platforms {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
