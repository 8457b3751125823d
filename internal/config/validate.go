package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
// path names the config key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks everything that can be checked without other packages.
// Every problem is reported, joined.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	check("cycle.period", c.Cycle.Period)
	check("cycle.budget", c.Cycle.Budget)
	if c.Cycle.MaxIdleCycles < 0 {
		errs = append(errs, errors.New("cycle.max_idle_cycles: must be >= 0"))
	}

	check("workers.timeout", c.Workers.Timeout)
	check("workers.retry_base", c.Workers.RetryBase)
	check("workers.retry_max_delay", c.Workers.RetryMaxDelay)
	if c.Workers.MaxConcurrency < 0 {
		errs = append(errs, errors.New("workers.max_concurrency: must be >= 0"))
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		check("storage.busy_timeout", s.BusyTimeout)
		check("storage.retention", s.Retention)
	}

	check("diagnostics.snapshot_every", c.Diagnostics.SnapshotEvery)

	for name, sc := range c.Schedules {
		if strings.TrimSpace(sc.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules.%s.spec: required", name))
		}
		switch sc.Job {
		case JobSnapshot, JobPruneHistory:
		default:
			errs = append(errs, fmt.Errorf("schedules.%s.job: unknown job %q", name, sc.Job))
		}
		if tz := strings.TrimSpace(sc.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("schedules.%s.timezone: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
