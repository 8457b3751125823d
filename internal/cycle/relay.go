package cycle

import (
	"context"
	"fmt"
	"time"

	"cyclekit/internal/eventbus"
	"cyclekit/internal/worker"
	logx "cyclekit/pkg/logx"
)

type relayItem struct {
	name string
	run  func()
}

// Relay hands values computed on worker goroutines to consumers that run on
// the main cycle. Deliveries from one goroutine keep their order; concurrent
// deliveries are unordered.
type Relay struct {
	env   Env
	exec  worker.Executor
	queue *BoundedQueue[*relayItem]
}

func NewRelay(env Env, exec worker.Executor, opts QueueOptions) *Relay {
	if opts.Name == "" {
		opts.Name = "relay"
	}
	r := &Relay{env: env.normalize(), exec: exec}
	r.queue = NewBoundedQueue[*relayItem](env, ConsumerFunc[*relayItem](func(it *relayItem) { it.run() }), QueueConfig[*relayItem]{
		QueueOptions: opts,
	})
	return r
}

// Deliver runs supplier on a worker and then consumer on the main cycle with
// its result. A supplier error or panic is logged and published as
// task.failed, and consumer is not called. The returned error only reports
// failure to start the supplier.
func Deliver[T any](r *Relay, name string, supplier func(ctx context.Context) (T, error), consumer func(T)) error {
	if supplier == nil {
		return ErrNilSupplier
	}
	if r.exec == nil {
		return ErrNoExecutor
	}
	if !r.queue.Active() {
		return ErrShutdown
	}
	err := r.exec.Go(name, func(ctx context.Context) error {
		v, err := callSupplier(ctx, supplier)
		if err != nil {
			r.env.fail(eventbus.TypeTaskFailed, name, "relay supplier failed", err)
			return nil
		}
		if consumer == nil {
			return nil
		}
		if !r.queue.Enqueue(&relayItem{name: name, run: func() { consumer(v) }}) {
			r.env.Log.Warn("relay result dropped after shutdown", logx.String("task", name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("relay %s: %w", name, err)
	}
	return nil
}

// Post queues fn directly, for callers already running on a worker goroutine.
func (r *Relay) Post(name string, fn func()) bool {
	if fn == nil {
		return false
	}
	return r.queue.Enqueue(&relayItem{name: name, run: fn})
}

func (r *Relay) Pending() int            { return r.queue.Len() }
func (r *Relay) Running() bool           { return r.queue.Running() }
func (r *Relay) State() State            { return r.queue.State() }
func (r *Relay) Snapshot() QueueSnapshot { return r.queue.Snapshot() }

func (r *Relay) Apply(budget time.Duration, maxIdleCycles int) {
	r.queue.Apply(budget, maxIdleCycles)
}

// Shutdown runs every consumer already delivered. Suppliers still running
// on workers have their results dropped.
func (r *Relay) Shutdown() { r.queue.Shutdown() }

// callSupplier converts a panicking supplier into a *PanicError. A supplier
// whose ctx is already done is not called; the ctx error is returned instead.
func callSupplier[T any](ctx context.Context, supplier func(ctx context.Context) (T, error)) (v T, err error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	perr := Guard(func() { v, err = supplier(ctx) })
	if perr != nil {
		var zero T
		return zero, perr
	}
	return v, err
}
