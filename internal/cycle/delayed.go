package cycle

import (
	"sync/atomic"
	"time"

	"cyclekit/internal/eventbus"
)

type delayedTask struct {
	fn  func()
	due uint64
}

// DelayedActions runs functions once, no earlier than a number of cycles from now.
//
// The cycle counter only advances while the scheduler is armed, which is
// exactly while it holds pending work. Tasks due on the same cycle run in no
// particular order.
type DelayedActions struct {
	env     Env
	current atomic.Uint64
	queue   *BoundedQueue[*delayedTask]
}

func NewDelayedActions(env Env, opts QueueOptions) *DelayedActions {
	if opts.Name == "" {
		opts.Name = "delayed"
	}
	d := &DelayedActions{env: env.normalize()}
	d.queue = NewBoundedQueue[*delayedTask](env, delayedConsumer{d}, QueueConfig[*delayedTask]{
		QueueOptions: opts,
		Admit:        d.admit,
		Queue:        NewHeap(func(a, b *delayedTask) bool { return a.due < b.due }),
	})
	return d
}

// Schedule runs fn after delay cycles. A delay of zero or less runs fn right
// away on the calling goroutine. It returns false once shut down.
func (d *DelayedActions) Schedule(fn func(), delay int) bool {
	if fn == nil || !d.queue.Active() {
		return false
	}
	if delay <= 0 {
		if err := Guard(fn); err != nil {
			d.env.fail(eventbus.TypeTaskFailed, d.queue.Name(), "delayed task failed", err)
		}
		return true
	}
	return d.queue.Enqueue(&delayedTask{fn: fn, due: d.current.Load() + uint64(delay)})
}

// CurrentCycle is the number of cycles the scheduler has observed.
func (d *DelayedActions) CurrentCycle() uint64 { return d.current.Load() }

func (d *DelayedActions) Pending() int            { return d.queue.Len() }
func (d *DelayedActions) Running() bool           { return d.queue.Running() }
func (d *DelayedActions) State() State            { return d.queue.State() }
func (d *DelayedActions) Snapshot() QueueSnapshot { return d.queue.Snapshot() }

func (d *DelayedActions) Apply(budget time.Duration, maxIdleCycles int) {
	d.queue.Apply(budget, maxIdleCycles)
}

// Shutdown runs every pending task, due or not, in due order.
func (d *DelayedActions) Shutdown() { d.queue.Shutdown() }

// delayedConsumer advances the cycle counter and runs due tasks.
type delayedConsumer struct{ d *DelayedActions }

func (c delayedConsumer) Tick()                  { c.d.current.Add(1) }
func (c delayedConsumer) Execute(t *delayedTask) { t.fn() }

func (d *DelayedActions) admit(t *delayedTask) bool { return t.due <= d.current.Load() }
