package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cyclekit/internal/config"
	"cyclekit/internal/schedule"
)

// Validate checks what config.Validate cannot: values that only make sense
// to the components they configure.
func Validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var errs []error
	if _, err := mapCycleConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapWorkerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if every, err := config.ParseDurationField("diagnostics.snapshot_every", cfg.Diagnostics.SnapshotEvery); err == nil && every > 0 && every < time.Second {
		errs = append(errs, errors.New("diagnostics.snapshot_every: must be at least 1s"))
	}
	for name, sc := range cfg.Schedules {
		if _, err := scheduleSpec(sc); err != nil {
			errs = append(errs, fmt.Errorf("schedules.%s.spec: %w", name, err))
		}
		if sc.Job == config.JobPruneHistory && cfg.Storage == nil {
			errs = append(errs, fmt.Errorf("schedules.%s: job %q needs a storage section", name, sc.Job))
		}
	}
	return errors.Join(errs...)
}

// scheduleSpec returns the spec to register for sc. Cron specs get the
// schedule's timezone as a CRON_TZ prefix.
func scheduleSpec(sc config.ScheduleConfig) (string, error) {
	p, err := schedule.ParseSchedule(sc.Spec)
	if err != nil {
		return "", err
	}
	if p.Kind == schedule.SpecInterval {
		if p.Every < time.Second {
			return "", fmt.Errorf("interval must be at least 1s, got %s", p.Every)
		}
		return "every:" + p.Every.String(), nil
	}
	tz := strings.TrimSpace(sc.Timezone)
	if tz == "" || strings.HasPrefix(p.Cron, "CRON_TZ=") || strings.HasPrefix(p.Cron, "TZ=") {
		return p.Cron, nil
	}
	return "CRON_TZ=" + tz + " " + p.Cron, nil
}
