package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"cyclekit/internal/config"
	"cyclekit/internal/cycle"
	"cyclekit/internal/diag"
	"cyclekit/internal/eventbus"
	"cyclekit/internal/host"
	"cyclekit/internal/pluginkit"
	"cyclekit/internal/runtime/supervisor"
	"cyclekit/internal/schedule"
	"cyclekit/internal/storage"
	"cyclekit/internal/worker"
	logx "cyclekit/pkg/logx"
)

// Option configures New.
type Option func(*options)

type options struct {
	sink logx.Sink
}

// WithSink forwards log records selected by logging.sink to s instead of stderr.
func WithSink(s logx.Sink) Option { return func(o *options) { o.sink = s } }

// consoleSink is the default host console: one line per record on stderr.
var consoleSink = logx.SinkFunc(func(level logx.Level, line string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level.String(), line)
})

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	env  cycle.Env

	store    storage.Store
	recorder *storage.Recorder

	host      *host.Ticker
	sched     *schedule.Service
	diag      *diag.Service
	collector *diag.Collector

	sup     *supervisor.Supervisor
	hostSup *supervisor.Supervisor

	mu        sync.Mutex
	pool      *worker.Pool
	workers   worker.Config
	cyc       cycleSettings
	retention time.Duration
	jobs      []string
	kits      map[string]*pluginkit.Kit
	started   bool
	stopped   bool
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{sink: consoleSink}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg), o.sink)
	bus := eventbus.New()

	cyc, err := mapCycleConfig(cfg)
	if err != nil {
		return nil, err
	}
	wcfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     bus,
		workers: wcfg,
		cyc:     cyc,
		kits:    map[string]*pluginkit.Kit{},
	}

	if sc, retention, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(context.Background(), sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.retention = retention
		a.recorder = storage.NewRecorder(st, bus, log)
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.host = host.NewTicker(log.With(logx.String("comp", "host")), cyc.Period)
	a.env = cycle.Env{Host: a.host, Log: log, Bus: bus}
	a.sched = schedule.New(a.env, "")
	a.collector = diag.NewCollector()
	a.diag = diag.New(mapDiagConfig(cfg), a.collector, log)
	a.registerSections()
	return a, nil
}

// Env is the shared environment: the main-cycle host, root logger and bus.
func (a *App) Env() cycle.Env { return a.env }

func (a *App) Host() *host.Ticker { return a.host }

func (a *App) Schedule() *schedule.Service { return a.sched }

func (a *App) Collector() *diag.Collector { return a.collector }

// DiagAddr is the bound diagnostics address, or "" when it is not serving.
func (a *App) DiagAddr() string { return a.diag.Addr() }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Executor submits work to the pool once the app has started.
func (a *App) Executor() worker.Executor { return executor{a} }

type executor struct{ a *App }

func (e executor) Go(name string, fn func(ctx context.Context) error) error {
	e.a.mu.Lock()
	p := e.a.pool
	e.a.mu.Unlock()
	if p == nil {
		return worker.ErrStopped
	}
	return p.Go(name, fn)
}

// NewKit creates the kit of a plugin. Kits created after Start are enabled
// right away, and hooks later added through OnEnable run immediately; the
// others are enabled by Start.
func (a *App) NewKit(name string) (*pluginkit.Kit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.kits[name]; dup {
		return nil, fmt.Errorf("plugin %q already registered", name)
	}
	k := pluginkit.New(name, pluginkit.Deps{
		Env:      a.env,
		Executor: a.Executor(),
		Schedule: a.sched,
		Queue:    cycle.QueueOptions{Budget: a.cyc.Budget, MaxIdleCycles: a.cyc.MaxIdleCycles},
	})
	if a.started {
		if err := k.Enable(a.sup.Context()); err != nil {
			return nil, err
		}
	}
	a.kits[name] = k
	return k, nil
}

func (a *App) kitList() []*pluginkit.Kit {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*pluginkit.Kit, 0, len(a.kits))
	for _, k := range a.kits {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the main cycle, the worker pool, the plugins, the schedules and
// the config watcher. An App starts at most once.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app: already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	a.mu.Lock()
	a.pool = worker.NewPool(a.sup, a.log.With(logx.String("comp", "workers")), a.workers)
	a.started = true
	kits := make([]*pluginkit.Kit, 0, len(a.kits))
	for _, k := range a.kits {
		kits = append(kits, k)
	}
	a.mu.Unlock()

	if a.recorder != nil {
		a.sup.Go("history.recorder", a.recorder.Run)
	}

	// The main cycle gets its own supervisor so Stop can halt it before
	// draining the kits.
	a.hostSup = supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log), supervisor.WithCancelOnError(false))
	a.hostSup.GoRestart("main.cycle", a.host.Run, supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))

	for _, k := range kits {
		if err := k.Enable(a.sup.Context()); err != nil {
			return fmt.Errorf("plugin %s: %w", k.Name(), err)
		}
	}

	cfg := a.cfgm.Get()
	a.applySchedules(cfg)
	a.sched.Start(a.sup.Context())
	a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(cfg))

	a.startReloadLoop()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Duration("period", a.cyc.Period), logx.Duration("budget", a.cyc.Budget), logx.Int("plugins", len(kits)))
	return nil
}

// Stop shuts the components down in reverse start order. Only the first
// call does anything.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.sup == nil || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("main.cycle", 2*time.Second, func(c context.Context) error {
		return a.hostSup.Stop(c)
	})
	// The main cycle is halted, so the kits drain on this goroutine.
	step("plugins", 4*time.Second, func(c context.Context) error {
		for _, k := range a.kitList() {
			if err := k.Disable(c); err != nil {
				return fmt.Errorf("plugin %s: %w", k.Name(), err)
			}
		}
		return nil
	})
	step("workers", time.Second, func(context.Context) error {
		a.mu.Lock()
		p := a.pool
		a.started = false
		a.mu.Unlock()
		p.Stop()
		return nil
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
