package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cyclekit/pkg/logx"
)

// SummarizeChange returns the sorted list of changed sections and safe
// fields for logging. Secrets (diagnostics.token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.sink_enabled", newCfg.Logging.Sink.Enabled),
		)
	}

	if oldCfg.Cycle != newCfg.Cycle {
		changed = append(changed, "cycle")
		attrs = append(attrs,
			logx.String("cycle.period", strings.TrimSpace(newCfg.Cycle.Period)),
			logx.String("cycle.budget", strings.TrimSpace(newCfg.Cycle.Budget)),
			logx.Int("cycle.max_idle_cycles", newCfg.Cycle.MaxIdleCycles),
		)
	}

	if oldCfg.Workers != newCfg.Workers {
		changed = append(changed, "workers")
		attrs = append(attrs,
			logx.Int("workers.max_concurrency", newCfg.Workers.MaxConcurrency),
			logx.String("workers.timeout", strings.TrimSpace(newCfg.Workers.Timeout)),
			logx.Int("workers.retry_max", newCfg.Workers.RetryMax),
		)
	}

	// Nil storage means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.enabled", newCfg.Storage != nil),
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	oD, nD := oldCfg.Diagnostics, newCfg.Diagnostics
	if oD.Enabled != nD.Enabled ||
		strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		oD.Pprof != nD.Pprof ||
		oD.SnapshotEvery != nD.SnapshotEvery ||
		oD.HistoryLimit != nD.HistoryLimit ||
		(oD.Token != "") != (nD.Token != "") {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", nD.Enabled),
			logx.String("diagnostics.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("diagnostics.token_set", nD.Token != ""),
			logx.Bool("diagnostics.pprof", nD.Pprof),
		)
	}

	if names := diffSchedules(oldCfg.Schedules, newCfg.Schedules); len(names) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Int("schedules.changed_count", len(names)),
			logx.String("schedules.changed", strings.Join(names, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func diffSchedules(oldM, newM map[string]ScheduleConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
