package pluginkit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cyclekit/internal/cycle"
	"cyclekit/internal/schedule"
	"cyclekit/internal/worker"
	logx "cyclekit/pkg/logx"
)

var (
	ErrDisabled   = errors.New("pluginkit: kit is disabled")
	ErrNoSchedule = errors.New("pluginkit: scheduler not available")
)

// Deps are the shared collaborators a Kit is built from.
type Deps struct {
	Env      cycle.Env
	Executor worker.Executor
	Schedule *schedule.Service // optional
	Queue    cycle.QueueOptions
}

// listener is the type-erased view of a snapshot worker owned by a Kit.
type listener interface {
	Shutdown()
	Apply(maxIdleCycles int)
	Snapshot() cycle.QueueSnapshot
}

type Kit struct {
	name string
	deps Deps
	env  cycle.Env

	mu        sync.Mutex
	enabled   bool
	opts      cycle.QueueOptions
	delayed   *cycle.DelayedActions
	relay     *cycle.Relay
	listeners map[string]listener
	schedules map[string]struct{}
	setups    []func(ctx context.Context, k *Kit) error
	ctx       context.Context // of the last Enable
}

func New(name string, deps Deps) *Kit {
	env := deps.Env
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	env.Log = env.Log.With(logx.String("plugin", name))
	return &Kit{
		name:      name,
		deps:      deps,
		env:       env,
		opts:      deps.Queue,
		listeners: map[string]listener{},
		schedules: map[string]struct{}{},
	}
}

func (k *Kit) Name() string { return k.name }

// Env is the plugin-scoped environment (its logger carries the plugin name).
func (k *Kit) Env() cycle.Env { return k.env }

func (k *Kit) Log() logx.Logger { return k.env.Log }

func (k *Kit) Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.enabled
}

// OnEnable adds fn to the hooks run by every Enable. Schedules and listeners
// are dropped by Disable, so plugins register them here. On a Kit that is
// already enabled fn also runs right away and its error is returned.
func (k *Kit) OnEnable(fn func(ctx context.Context, k *Kit) error) error {
	if fn == nil {
		return nil
	}
	k.mu.Lock()
	k.setups = append(k.setups, fn)
	enabled, ctx := k.enabled, k.ctx
	k.mu.Unlock()
	if !enabled {
		return nil
	}
	return fn(ctx, k)
}

// Enable creates the plugin's queues and runs the OnEnable hooks. Calling it
// twice is a no-op. A failing hook disables the Kit again.
func (k *Kit) Enable(ctx context.Context) error {
	k.mu.Lock()
	if k.enabled {
		k.mu.Unlock()
		return nil
	}
	k.delayed = cycle.NewDelayedActions(k.env, k.queueOpts("delayed"))
	k.relay = cycle.NewRelay(k.env, k.deps.Executor, k.queueOpts("relay"))
	k.enabled = true
	k.ctx = ctx
	setups := append([]func(context.Context, *Kit) error(nil), k.setups...)
	k.mu.Unlock()

	for _, fn := range setups {
		if err := fn(ctx, k); err != nil {
			_ = k.Disable(context.WithoutCancel(ctx))
			return err
		}
	}
	k.env.Log.Debug("plugin kit enabled")
	return nil
}

// Disable removes the plugin's schedules and shuts down its queues, running
// whatever they still hold. Call it from the main cycle or once the host has
// stopped ticking.
func (k *Kit) Disable(ctx context.Context) error {
	k.mu.Lock()
	if !k.enabled {
		k.mu.Unlock()
		return nil
	}
	k.enabled = false
	delayed, relay := k.delayed, k.relay
	listeners := k.listeners
	k.listeners = map[string]listener{}
	names := make([]string, 0, len(k.schedules))
	for n := range k.schedules {
		names = append(names, n)
	}
	k.schedules = map[string]struct{}{}
	k.mu.Unlock()

	if k.deps.Schedule != nil {
		for _, n := range names {
			k.deps.Schedule.Remove(n)
		}
	}
	for _, l := range listeners {
		l.Shutdown()
	}
	relay.Shutdown()
	delayed.Shutdown()
	k.env.Log.Debug("plugin kit disabled", logx.Int("schedules", len(names)), logx.Int("listeners", len(listeners)))
	return ctx.Err()
}

// Apply changes the budget and idle threshold of every queue the Kit owns,
// including ones created later.
func (k *Kit) Apply(budget time.Duration, maxIdleCycles int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.opts.Budget = budget
	k.opts.MaxIdleCycles = maxIdleCycles
	if !k.enabled {
		return
	}
	k.delayed.Apply(budget, maxIdleCycles)
	k.relay.Apply(budget, maxIdleCycles)
	for _, l := range k.listeners {
		l.Apply(maxIdleCycles)
	}
}

func (k *Kit) queueOpts(name string) cycle.QueueOptions {
	o := k.opts
	o.Name = k.ns(name)
	return o
}

func (k *Kit) ns(name string) string {
	if name == "" {
		return k.name
	}
	return k.name + ":" + name
}

// Later runs fn on the main cycle after delay cycles. It reports false while
// the Kit is disabled.
func (k *Kit) Later(delay int, fn func()) bool {
	k.mu.Lock()
	d := k.delayed
	ok := k.enabled
	k.mu.Unlock()
	return ok && d.Schedule(fn, delay)
}

// Post queues fn for the main cycle from any goroutine.
func (k *Kit) Post(name string, fn func()) bool {
	r, err := k.currentRelay()
	return err == nil && r.Post(k.ns(name), fn)
}

func (k *Kit) currentRelay() (*cycle.Relay, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.enabled {
		return nil, ErrDisabled
	}
	return k.relay, nil
}

// Deliver runs supplier on the executor and consumer with its result on the
// main cycle.
func Deliver[T any](k *Kit, name string, supplier func(ctx context.Context) (T, error), consumer func(T)) error {
	r, err := k.currentRelay()
	if err != nil {
		return err
	}
	return cycle.Deliver(r, k.ns(name), supplier, consumer)
}

// Async runs supplier on the executor and returns its Future. A disabled Kit
// returns an already rejected Future.
func Async[T any](k *Kit, name string, supplier func(ctx context.Context) (T, error)) *cycle.Future[T] {
	if !k.Enabled() {
		return cycle.Rejected[T](k.env, k.ns(name), ErrDisabled)
	}
	return cycle.Supply(k.env, k.deps.Executor, k.ns(name), supplier)
}

// Listen creates a snapshot worker that calls fn once per cycle for every
// registered value. Listening again under the same name replaces (and shuts
// down) the previous worker.
func Listen[V comparable](k *Kit, name string, fn func(V)) (*cycle.SnapshotWorker[V], error) {
	k.mu.Lock()
	if !k.enabled {
		k.mu.Unlock()
		return nil, ErrDisabled
	}
	full := k.ns(name)
	w := cycle.NewSnapshotWorker[V](k.env, cycle.ConsumerFunc[V](fn), k.queueOpts(name))
	prev := k.listeners[full]
	k.listeners[full] = w
	k.mu.Unlock()

	if prev != nil {
		prev.Shutdown()
	}
	return w, nil
}

// Every registers fn on the wall-clock scheduler under the plugin namespace.
// spec takes any form accepted by schedule.ParseSchedule.
func (k *Kit) Every(name, spec string, fn func()) error {
	return k.addSchedule(name, func(s *schedule.Service, full string) error { return s.Add(full, spec, fn) })
}

// At registers fn to run once at the given wall-clock time.
func (k *Kit) At(name string, at time.Time, fn func()) error {
	return k.addSchedule(name, func(s *schedule.Service, full string) error { return s.AddOnce(full, at, fn) })
}

// Unschedule removes a schedule registered through Every or At.
func (k *Kit) Unschedule(name string) bool {
	full := k.ns(name)
	k.mu.Lock()
	delete(k.schedules, full)
	k.mu.Unlock()
	return k.deps.Schedule != nil && k.deps.Schedule.Remove(full)
}

func (k *Kit) addSchedule(name string, add func(s *schedule.Service, full string) error) error {
	if k.deps.Schedule == nil {
		return ErrNoSchedule
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.enabled {
		return ErrDisabled
	}
	full := k.ns(name)
	if err := add(k.deps.Schedule, full); err != nil {
		return err
	}
	k.schedules[full] = struct{}{}
	return nil
}

type Snapshot struct {
	Name      string                `json:"name"`
	Enabled   bool                  `json:"enabled"`
	Delayed   *cycle.QueueSnapshot  `json:"delayed,omitempty"`
	Relay     *cycle.QueueSnapshot  `json:"relay,omitempty"`
	Listeners []cycle.QueueSnapshot `json:"listeners,omitempty"`
	Schedules []string              `json:"schedules,omitempty"`
}

func (k *Kit) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := Snapshot{Name: k.name, Enabled: k.enabled}
	if !k.enabled {
		return out
	}
	d, r := k.delayed.Snapshot(), k.relay.Snapshot()
	out.Delayed, out.Relay = &d, &r
	for _, l := range k.listeners {
		out.Listeners = append(out.Listeners, l.Snapshot())
	}
	sort.Slice(out.Listeners, func(a, b int) bool { return out.Listeners[a].Name < out.Listeners[b].Name })
	for n := range k.schedules {
		out.Schedules = append(out.Schedules, n)
	}
	sort.Strings(out.Schedules)
	return out
}
