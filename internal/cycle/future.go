package cycle

import (
	"context"
	"sync"

	"cyclekit/internal/eventbus"
	"cyclekit/internal/worker"
)

// FutureState is the completion state of a Future.
type FutureState int32

const (
	FuturePending FutureState = iota
	FutureResolved
	FutureRejected
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureResolved:
		return "resolved"
	case FutureRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Future is a single-assignment result whose callbacks always run on the
// main cycle, through Host.RunTask.
//
// The first Resolve or Reject wins; later calls are ignored. Callbacks added
// after completion are still dispatched through RunTask, never inline.
type Future[T any] struct {
	env  Env
	name string

	mu        sync.Mutex
	state     FutureState
	value     T
	err       error
	done      chan struct{}
	callbacks []func()
}

func NewFuture[T any](env Env, name string) *Future[T] {
	return &Future[T]{env: env.normalize(), name: name, done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](env Env, name string, v T) *Future[T] {
	f := NewFuture[T](env, name)
	f.Resolve(v)
	return f
}

// Rejected returns a future already failed with err.
func Rejected[T any](env Env, name string, err error) *Future[T] {
	f := NewFuture[T](env, name)
	f.Reject(err)
	return f
}

// Supply runs supplier on exec and completes the future with its result.
// A panicking supplier rejects the future with a *PanicError.
func Supply[T any](env Env, exec worker.Executor, name string, supplier func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T](env, name)
	switch {
	case supplier == nil:
		f.Reject(ErrNilSupplier)
	case exec == nil:
		f.Reject(ErrNoExecutor)
	default:
		err := exec.Go(name, func(ctx context.Context) error {
			v, err := callSupplier(ctx, supplier)
			if err != nil {
				f.Reject(err)
				return nil
			}
			f.Resolve(v)
			return nil
		})
		if err != nil {
			f.Reject(err)
		}
	}
	return f
}

// Go is Supply for work without a value.
func Go(env Env, exec worker.Executor, name string, fn func(ctx context.Context) error) *Future[struct{}] {
	if fn == nil {
		return Rejected[struct{}](env, name, ErrNilSupplier)
	}
	return Supply(env, exec, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Callback combines separate value and error handlers into one completion function.
func Callback[T any](onValue func(T), onError func(error)) func(T, error) {
	return func(v T, err error) {
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onValue != nil {
			onValue(v)
		}
	}
}

func (f *Future[T]) Resolve(v T) bool { return f.complete(FutureResolved, v, nil) }

// Reject fails the future. A nil err is replaced by ErrNilRejection.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	var zero T
	return f.complete(FutureRejected, zero, err)
}

func (f *Future[T]) complete(state FutureState, v T, err error) bool {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	if state == FutureRejected {
		f.env.publish(eventbus.TypeFutureRejected, f.name, eventbus.TaskFailure{Error: err.Error()})
	}
	for _, cb := range cbs {
		f.dispatch(cb)
	}
	return true
}

// WhenComplete calls onValue on the main cycle once resolved. A rejection is
// logged at error level.
func (f *Future[T]) WhenComplete(onValue func(T)) {
	f.WhenCompleteOr(onValue, f.logRejection)
}

// WhenCompleteOr calls exactly one of onValue or onError on the main cycle.
func (f *Future[T]) WhenCompleteOr(onValue func(T), onError func(error)) {
	if onError == nil {
		onError = f.logRejection
	}
	cb := func() {
		// Completed fields are immutable once done is closed.
		if f.state == FutureRejected {
			onError(f.err)
			return
		}
		if onValue != nil {
			onValue(f.value)
		}
	}

	f.mu.Lock()
	if f.state == FuturePending {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.dispatch(cb)
}

// Join blocks until the future completes or ctx ends.
//
// Join must not be called on the main cycle when the result itself depends on
// the main cycle making progress; that deadlocks.
func (f *Future[T]) Join(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

func (f *Future[T]) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Future[T]) Name() string { return f.name }

func (f *Future[T]) dispatch(cb func()) {
	f.env.Host.RunTask(func() {
		if err := Guard(cb); err != nil {
			f.env.fail(eventbus.TypeTaskFailed, f.name, "future callback failed", err)
		}
	})
}

func (f *Future[T]) logRejection(err error) {
	f.env.logFailure(f.name, "future rejected", err)
}
