package config

import "github.com/listkeeper/listkeeper/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Worker count: 0 = no background workers (enqueue-only mode), negative = invalid
	if c.Worker.Workers < 0 {
		return errors.Newf("worker.workers must be >= 0, got %d", c.Worker.Workers)
	}

	if c.Worker.PollIntervalMS <= 0 {
		return errors.Newf("worker.poll_interval_ms must be > 0, got %d", c.Worker.PollIntervalMS)
	}

	if c.Worker.JobTimeoutSeconds <= 0 {
		return errors.Newf("worker.job_timeout_seconds must be > 0, got %d", c.Worker.JobTimeoutSeconds)
	}

	// Lease must outlive the job timeout or a live worker's job gets reclaimed mid-flight
	if c.Worker.LeaseSeconds <= c.Worker.JobTimeoutSeconds {
		return errors.Newf("worker.lease_seconds (%d) must exceed worker.job_timeout_seconds (%d)",
			c.Worker.LeaseSeconds, c.Worker.JobTimeoutSeconds)
	}

	// Tick interval: 0 = scheduler disabled, negative = invalid
	if c.Scheduler.TickIntervalSeconds < 0 {
		return errors.Newf("scheduler.tick_interval_seconds must be >= 0, got %d", c.Scheduler.TickIntervalSeconds)
	}

	if c.Scheduler.ReconcileIntervalSeconds < 0 {
		return errors.Newf("scheduler.reconcile_interval_seconds must be >= 0, got %d", c.Scheduler.ReconcileIntervalSeconds)
	}

	for name, pc := range c.Platforms {
		if pc.MaxCallsPerMinute < 0 {
			return errors.Newf("platforms.%s.max_calls_per_minute must be >= 0, got %d", name, pc.MaxCallsPerMinute)
		}
	}

	return nil
}
