package app

import (
	"context"
	"slices"
	"strings"

	"cyclekit/internal/config"
	logx "cyclekit/pkg/logx"
)

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig pushes a reloaded config into the running components.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		// A rotated diagnostics token is not part of the change summary.
		a.diag.Reconfigure(ctx, mapDiagConfig(cfg))
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for driver or path changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(cfg))

	if cyc, err := mapCycleConfig(cfg); err != nil {
		a.log.Warn("invalid cycle config; keeping previous", logx.Err(err))
	} else {
		a.mu.Lock()
		a.cyc = cyc
		a.mu.Unlock()
		a.host.SetPeriod(cyc.Period)
		for _, k := range a.kitList() {
			k.Apply(cyc.Budget, cyc.MaxIdleCycles)
		}
	}

	if wcfg, err := mapWorkerConfig(cfg); err != nil {
		a.log.Warn("invalid workers config; keeping previous", logx.Err(err))
	} else {
		a.mu.Lock()
		a.workers = wcfg
		p := a.pool
		a.mu.Unlock()
		if p != nil {
			p.Apply(wcfg)
		}
	}

	if _, retention, _, err := mapStorageConfig(cfg); err == nil {
		a.mu.Lock()
		a.retention = retention
		a.mu.Unlock()
	}

	a.applySchedules(cfg)
	a.diag.Reconfigure(ctx, mapDiagConfig(cfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
