package cycle

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"cyclekit/internal/eventbus"
	logx "cyclekit/pkg/logx"
)

// Statistics summarizes a finished IteratingTask.
type Statistics struct {
	Processed int64
	Elapsed   time.Duration
	Cycles    int
}

func (s Statistics) String() string {
	return fmt.Sprintf("processed %d elements in %s over %d cycles", s.Processed, s.Elapsed, s.Cycles)
}

// IterationOptions configures an IteratingTask.
type IterationOptions struct {
	Name   string
	Budget time.Duration
	// OnDone runs on the main cycle after the last element.
	OnDone func(Statistics)
}

// IteratingTask walks a sequence across as many cycles as it needs, handling
// elements until the per-cycle budget is spent. It cancels itself once the
// sequence is exhausted.
type IteratingTask[T any] struct {
	env    Env
	name   string
	life   *Lifecycle
	seq    iter.Seq[T]
	each   func(T)
	onDone func(Statistics)

	mu      sync.Mutex
	budget  time.Duration
	next    func() (T, bool)
	stop    func()
	stats   Statistics
	started time.Time
	done    bool
}

func NewIteratingTask[T any](env Env, seq iter.Seq[T], each func(T), opts IterationOptions) *IteratingTask[T] {
	env = env.normalize()
	t := &IteratingTask[T]{
		env:    env,
		name:   opts.Name,
		seq:    seq,
		each:   each,
		onDone: opts.OnDone,
		budget: NormalizeBudget(opts.Budget),
	}
	if t.name == "" {
		t.name = "iteration"
	}
	t.life = NewLifecycle(env, t.name, t.runCycle)
	return t
}

// Start arms the task. It returns ErrAlreadyStarted on a second call.
func (t *IteratingTask[T]) Start() error {
	t.mu.Lock()
	if t.next != nil || t.done {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.next, t.stop = iter.Pull(t.seq)
	t.started = t.env.Clock.Now()
	t.mu.Unlock()

	t.life.Schedule()
	return nil
}

// Stop abandons the walk without calling OnDone. Like the walk itself, it
// must run on the main cycle.
func (t *IteratingTask[T]) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.done = true
	t.mu.Unlock()

	t.life.Shutdown()
	if stop != nil {
		stop()
	}
}

func (t *IteratingTask[T]) Running() bool { return t.life.Running() }

func (t *IteratingTask[T]) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *IteratingTask[T]) Stats() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *IteratingTask[T]) runCycle() {
	t.mu.Lock()
	next := t.next
	if t.done || next == nil {
		t.mu.Unlock()
		return
	}
	t.stats.Cycles++
	budget := t.budget
	t.mu.Unlock()

	start := t.env.Clock.Now()
	for t.env.Clock.Now().Sub(start) < budget {
		v, ok := next()
		if !ok {
			t.finish()
			return
		}
		if err := Guard(func() { t.each(v) }); err != nil {
			t.env.fail(eventbus.TypeTaskFailed, t.name, "iteration element failed", err)
		}

		t.mu.Lock()
		t.stats.Processed++
		stopped := t.done
		t.mu.Unlock()
		if stopped {
			return
		}
	}
}

func (t *IteratingTask[T]) finish() {
	t.mu.Lock()
	t.done = true
	t.stats.Elapsed = t.env.Clock.Now().Sub(t.started)
	stop := t.stop
	t.stop = nil
	stats := t.stats
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.life.Shutdown()

	t.env.Log.Debug("iteration finished", logx.String("name", t.name), logx.Int64("processed", stats.Processed), logx.Duration("elapsed", stats.Elapsed))
	t.env.publish(eventbus.TypeIterationFinished, t.name, eventbus.IterationStats{Processed: stats.Processed, Elapsed: stats.Elapsed})
	if t.onDone != nil {
		if err := Guard(func() { t.onDone(stats) }); err != nil {
			t.env.fail(eventbus.TypeTaskFailed, t.name, "iteration completion failed", err)
		}
	}
}
