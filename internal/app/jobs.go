package app

import (
	"context"
	"time"

	"cyclekit/internal/config"
	"cyclekit/internal/diag"
	"cyclekit/internal/eventbus"
	"cyclekit/internal/storage"
	logx "cyclekit/pkg/logx"
)

const (
	configJobPrefix  = "config:"
	snapshotJobName  = "diag.snapshot"
	builtinJobBudget = 30 * time.Second
)

// applySchedules replaces the schedules registered from cfg.
func (a *App) applySchedules(cfg *config.Config) {
	a.mu.Lock()
	old := a.jobs
	a.jobs = nil
	a.mu.Unlock()
	for _, name := range old {
		a.sched.Remove(name)
	}

	var names []string
	for name, sc := range cfg.Schedules {
		spec, err := scheduleSpec(sc)
		if err != nil {
			a.log.Warn("schedule skipped", logx.String("schedule", name), logx.Err(err))
			continue
		}
		full := configJobPrefix + name
		if err := a.sched.Add(full, spec, a.builtinJob(sc.Job)); err != nil {
			a.log.Warn("schedule skipped", logx.String("schedule", name), logx.Err(err))
			continue
		}
		names = append(names, full)
	}

	if every, _ := config.ParseDurationField("diagnostics.snapshot_every", cfg.Diagnostics.SnapshotEvery); every > 0 {
		if err := a.sched.AddInterval(snapshotJobName, every, a.builtinJob(config.JobSnapshot)); err != nil {
			a.log.Warn("snapshot schedule skipped", logx.Err(err))
		} else {
			names = append(names, snapshotJobName)
		}
	}

	a.mu.Lock()
	a.jobs = names
	a.mu.Unlock()
	a.log.Debug("schedules applied", logx.Int("count", len(names)))
}

// builtinJob returns the main-cycle trigger of a built-in job. The work
// itself goes to the pool so the main cycle never blocks on IO.
func (a *App) builtinJob(job string) func() {
	var work func(ctx context.Context) error
	switch job {
	case config.JobSnapshot:
		work = a.logSnapshot
	case config.JobPruneHistory:
		work = a.pruneHistory
	default:
		return func() { a.log.Warn("unknown scheduled job", logx.String("job", job)) }
	}
	return func() {
		err := a.Executor().Go("job:"+job, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, builtinJobBudget)
			defer cancel()
			return work(ctx)
		})
		if err != nil {
			a.log.Warn("scheduled job not submitted", logx.String("job", job), logx.Err(err))
		}
	}
}

func (a *App) logSnapshot(ctx context.Context) error {
	diag.LogSnapshot(ctx, a.collector, a.log)
	return nil
}

func (a *App) pruneHistory(ctx context.Context) error {
	a.mu.Lock()
	retention := a.retention
	a.mu.Unlock()
	if a.store == nil || retention <= 0 {
		return nil
	}
	n, err := a.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	a.log.Info("history pruned", logx.Int64("removed", n), logx.Duration("retention", retention))
	return nil
}

// registerSections wires every component into the diagnostics report.
func (a *App) registerSections() {
	c := a.collector
	c.Static("host", func() any { return a.host.Snapshot() })
	c.Static("schedule", func() any { return a.sched.Snapshot() })
	c.Static("eventbus", func() any { return eventbus.StatsOf(a.bus) })
	c.Static("supervisor", func() any {
		if a.sup == nil {
			return nil
		}
		return a.sup.Snapshot()
	})
	c.Static("workers", func() any {
		a.mu.Lock()
		p := a.pool
		a.mu.Unlock()
		if p == nil {
			return nil
		}
		return p.Snapshot()
	})
	c.Static("plugins", func() any {
		kits := a.kitList()
		out := make([]any, 0, len(kits))
		for _, k := range kits {
			out = append(out, k.Snapshot())
		}
		return out
	})
	c.Register("history", func(ctx context.Context) (any, error) {
		if a.store == nil {
			return nil, storage.ErrDisabled
		}
		return a.store.RecentTaskEvents(ctx, historyLimit(a.cfgm.Get()))
	})
	if a.recorder != nil {
		c.Static("recorder", func() any { return a.recorder.Stats() })
	}
}
