package cycle

import (
	"sync"

	"cyclekit/internal/eventbus"
)

// SnapshotWorker executes every registered item once per cycle.
//
// There is no time budget: each Execute is expected to be cheap. Iteration
// order is unspecified. Like BoundedQueue, the worker suspends itself after
// MaxIdleCycles cycles with nothing registered.
type SnapshotWorker[V comparable] struct {
	env      Env
	name     string
	life     *Lifecycle
	consumer QueueConsumer[V]
	ticker   Ticker

	mu       sync.Mutex
	items    map[V]struct{}
	closed   bool
	idle     int
	maxIdle  int
	cycles   uint64
	executed uint64
	failed   uint64
}

func NewSnapshotWorker[V comparable](env Env, consumer QueueConsumer[V], opts QueueOptions) *SnapshotWorker[V] {
	env = env.normalize()
	w := &SnapshotWorker[V]{
		env:      env,
		name:     opts.Name,
		consumer: consumer,
		items:    map[V]struct{}{},
		maxIdle:  normalizeMaxIdle(opts.MaxIdleCycles),
	}
	if w.name == "" {
		w.name = "snapshot"
	}
	if t, ok := consumer.(Ticker); ok {
		w.ticker = t
	}
	w.life = NewLifecycle(env, w.name, w.runCycle)
	return w
}

func (w *SnapshotWorker[V]) Name() string  { return w.name }
func (w *SnapshotWorker[V]) State() State  { return w.life.State() }
func (w *SnapshotWorker[V]) Running() bool { return w.life.Running() }

func (w *SnapshotWorker[V]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Register adds v and arms the worker. It returns false after Shutdown.
// Registering an item twice keeps a single entry.
func (w *SnapshotWorker[V]) Register(v V) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.items[v] = struct{}{}
	w.idle = 0
	w.mu.Unlock()

	w.life.Schedule()
	return true
}

// Unregister removes v and reports whether it was registered.
func (w *SnapshotWorker[V]) Unregister(v V) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.items[v]; !ok {
		return false
	}
	delete(w.items, v)
	return true
}

// Apply changes the idle threshold.
func (w *SnapshotWorker[V]) Apply(maxIdleCycles int) {
	w.mu.Lock()
	w.maxIdle = normalizeMaxIdle(maxIdleCycles)
	w.mu.Unlock()
}

// Shutdown makes the worker Inactive, executes each registered item one last
// time and forgets them.
func (w *SnapshotWorker[V]) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	items := w.snapshotLocked()
	clear(w.items)
	w.mu.Unlock()

	w.life.Shutdown()
	for _, v := range items {
		w.execute(v)
	}
}

func (w *SnapshotWorker[V]) Snapshot() QueueSnapshot {
	state := w.life.State()
	w.mu.Lock()
	defer w.mu.Unlock()
	return QueueSnapshot{
		Name:          w.name,
		State:         state.String(),
		Len:           len(w.items),
		Idle:          w.idle,
		MaxIdleCycles: w.maxIdle,
		Cycles:        w.cycles,
		Executed:      w.executed,
		Failed:        w.failed,
	}
}

func (w *SnapshotWorker[V]) runCycle() {
	w.mu.Lock()
	w.cycles++
	if len(w.items) == 0 {
		w.idle++
		if w.idle >= w.maxIdle && !w.closed {
			w.life.Cancel()
		}
		w.mu.Unlock()
		return
	}
	items := w.snapshotLocked()
	w.mu.Unlock()

	if w.ticker != nil {
		if err := Guard(w.ticker.Tick); err != nil {
			w.env.fail(eventbus.TypeTaskFailed, w.name, "worker tick failed", err)
		}
	}
	for _, v := range items {
		w.execute(v)
	}
}

func (w *SnapshotWorker[V]) snapshotLocked() []V {
	out := make([]V, 0, len(w.items))
	for v := range w.items {
		out = append(out, v)
	}
	return out
}

func (w *SnapshotWorker[V]) execute(v V) {
	err := Guard(func() { w.consumer.Execute(v) })
	w.mu.Lock()
	w.executed++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()
	if err != nil {
		w.env.fail(eventbus.TypeTaskFailed, w.name, "worker task failed", err)
	}
}
