package app

import (
	"fmt"
	"strings"
	"time"

	"cyclekit/internal/config"
	"cyclekit/internal/cycle"
	"cyclekit/internal/diag"
	"cyclekit/internal/storage"
	"cyclekit/internal/worker"
	logx "cyclekit/pkg/logx"
)

// cycleSettings are the parsed values of the cycle section.
type cycleSettings struct {
	Period        time.Duration
	Budget        time.Duration
	MaxIdleCycles int
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Sink: logx.SinkConfig{
			Enabled:         lc.Sink.Enabled,
			MinLevel:        lc.Sink.MinLevel,
			RatePerSec:      lc.Sink.RatePerSec,
			RepeatPerMinute: lc.Sink.RepeatPerMinute,
		},
	}
}

func mapCycleConfig(cfg *config.Config) (cycleSettings, error) {
	period, err := config.ParseDurationOrDefault("cycle.period", cfg.Cycle.Period, 50*time.Millisecond)
	if err != nil {
		return cycleSettings{}, err
	}
	budget, err := config.ParseDurationOrDefault("cycle.budget", cfg.Cycle.Budget, cycle.DefaultBudget)
	if err != nil {
		return cycleSettings{}, err
	}
	idle := cfg.Cycle.MaxIdleCycles
	if idle <= 0 {
		idle = cycle.DefaultMaxIdleCycles
	}
	return cycleSettings{Period: period, Budget: cycle.NormalizeBudget(budget), MaxIdleCycles: idle}, nil
}

func mapWorkerConfig(cfg *config.Config) (worker.Config, error) {
	wc := cfg.Workers
	timeout, err := config.ParseDurationField("workers.timeout", wc.Timeout)
	if err != nil {
		return worker.Config{}, err
	}
	base, err := config.ParseDurationField("workers.retry_base", wc.RetryBase)
	if err != nil {
		return worker.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("workers.retry_max_delay", wc.RetryMaxDelay)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		MaxConcurrency: wc.MaxConcurrency,
		Timeout:        timeout,
		RetryMax:       wc.RetryMax,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
		HistorySize:    wc.HistorySize,
	}, nil
}

// mapStorageConfig reports enabled=false when the section is absent or the driver is "none".
// retention 0 keeps history forever.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, retention time.Duration, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, 0, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, false, nil
	}
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return storage.Config{}, 0, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	retention, err = config.ParseDurationField("storage.retention", s.Retention)
	if err != nil {
		return storage.Config{}, 0, false, err
	}
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, retention, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, 0, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, retention, true, nil
	default:
		return storage.Config{}, 0, false, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	d := cfg.Diagnostics
	return diag.Config{
		Enabled: d.Enabled,
		Addr:    strings.TrimSpace(d.Addr),
		Token:   d.Token,
		Pprof:   d.Pprof,
	}
}

func historyLimit(cfg *config.Config) int {
	if n := cfg.Diagnostics.HistoryLimit; n > 0 {
		return n
	}
	return 50
}
