package config

// Config is the cyclehost configuration file. All durations are Go duration
// strings ("50ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig             `json:"logging"`
	Cycle       CycleConfig               `json:"cycle"`
	Workers     WorkersConfig             `json:"workers"`
	Storage     *StorageConfig            `json:"storage,omitempty"`
	Diagnostics DiagnosticsConfig         `json:"diagnostics"`
	Schedules   map[string]ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Sink    LoggingSink `json:"sink"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSink forwards records at or above MinLevel to the host console.
type LoggingSink struct {
	Enabled         bool   `json:"enabled"`
	MinLevel        string `json:"min_level"`
	RatePerSec      int    `json:"rate_per_sec"`
	RepeatPerMinute int    `json:"repeat_per_minute,omitempty"`
}

// CycleConfig controls the main cycle and the shared queues.
//
// Defaults: period "50ms", budget "50ms" (values above 50ms are clamped),
// max_idle_cycles 200.
type CycleConfig struct {
	Period        string `json:"period,omitempty"`
	Budget        string `json:"budget,omitempty"`
	MaxIdleCycles int    `json:"max_idle_cycles,omitempty"`
}

// WorkersConfig controls the worker pool that runs suppliers off the main cycle.
//
// max_concurrency 0 leaves the pool unbounded.
type WorkersConfig struct {
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig enables the task history store. Omit the section to disable it.
//
//	"storage": { "driver": "sqlite", "path": "./cyclekit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// DiagnosticsConfig controls the debug HTTP endpoint and periodic snapshots.
//
// Prefer a loopback addr. A token, when set, is required as a bearer token.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	SnapshotEvery string `json:"snapshot_every,omitempty"`
	HistoryLimit  int    `json:"history_limit,omitempty"`
}

// ScheduleConfig binds a built-in job to a wall-clock schedule.
//
// Spec accepts cron expressions, Go durations, "every:<dur>" and "HH:MM"
// intervals ("01:30" runs every 90 minutes). Timezone applies to cron specs only.
type ScheduleConfig struct {
	Spec     string `json:"spec"`
	Job      string `json:"job"`
	Timezone string `json:"timezone,omitempty"`
}

// Built-in scheduled jobs.
const (
	JobSnapshot     = "snapshot"
	JobPruneHistory = "prune_history"
)
