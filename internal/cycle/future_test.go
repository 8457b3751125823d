package cycle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
	"cyclekit/internal/eventbus"
)

func TestFutureCallbacksRunOnMainCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.NewFuture[string](f.env, "greeting")

	var got []string
	fut.WhenComplete(func(v string) { got = append(got, "before:"+v) })
	require.True(t, fut.Resolve("hi"))
	assert.Empty(t, got, "callbacks are never run inline")

	f.host.Tick()
	assert.Equal(t, []string{"before:hi"}, got)

	fut.WhenComplete(func(v string) { got = append(got, "after:"+v) })
	assert.Len(t, got, 1)
	f.host.Tick()
	assert.Equal(t, []string{"before:hi", "after:hi"}, got)
}

func TestFutureFirstCompletionWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.NewFuture[int](f.env, "once")

	require.True(t, fut.Resolve(1))
	assert.False(t, fut.Resolve(2))
	assert.False(t, fut.Reject(errors.New("late")))
	assert.Equal(t, cycle.FutureResolved, fut.State())

	v, err := fut.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureErrorRoutesToOnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	boom := errors.New("boom")
	fut := cycle.NewFuture[int](f.env, "failing")

	valueCalled := false
	var gotErr error
	fut.WhenCompleteOr(func(int) { valueCalled = true }, func(err error) { gotErr = err })
	fut.Reject(boom)
	f.host.Tick()

	assert.False(t, valueCalled)
	assert.ErrorIs(t, gotErr, boom)

	e := <-events
	assert.Equal(t, eventbus.TypeFutureRejected, e.Type)
	assert.Equal(t, "failing", e.Source)
}

func TestFutureDefaultErrorHandlerLogs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.Rejected[int](f.env, "unhandled", errors.New("disk on fire"))

	called := false
	fut.WhenComplete(func(int) { called = true })
	require.NotPanics(t, f.host.Tick)

	assert.False(t, called)
	logs := f.logs.String()
	assert.Contains(t, logs, "future rejected")
	assert.Contains(t, logs, "disk on fire")
	assert.Contains(t, logs, `"level":"error"`)
}

func TestFutureCallbackPanicIsIsolated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.Resolved(f.env, "panicky", 1)

	second := false
	fut.WhenComplete(func(int) { panic("callback bug") })
	fut.WhenComplete(func(int) { second = true })

	require.NotPanics(t, f.host.Tick)
	assert.True(t, second)
	assert.Contains(t, f.logs.String(), "future callback failed")
}

func TestSupplyResolvesFromWorker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec := &goExecutor{}
	fut := cycle.Supply(f.env, exec, "compute", func(ctx context.Context) (int, error) {
		return 6 * 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := fut.Join(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	var got int
	fut.WhenComplete(func(v int) { got = v })
	f.host.Tick()
	assert.Equal(t, 42, got)
}

func TestSupplyPanicRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.Supply(f.env, &goExecutor{}, "explode", func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := fut.Join(ctx)

	var pe *cycle.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, cycle.FutureRejected, fut.State())
}

func TestGoAndCallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	exec := &goExecutor{}
	boom := errors.New("write failed")
	fut := cycle.Go(f.env, exec, "save", func(ctx context.Context) error { return boom })

	<-fut.Done()
	var gotErr error
	cb := cycle.Callback(func(struct{}) { t.Error("unexpected value") }, func(err error) { gotErr = err })
	fut.WhenCompleteOr(func(v struct{}) { cb(v, nil) }, func(err error) { cb(struct{}{}, err) })
	f.host.Tick()
	assert.ErrorIs(t, gotErr, boom)

	_, err := cycle.Supply[int](f.env, exec, "nil", nil).Join(context.Background())
	assert.ErrorIs(t, err, cycle.ErrNilSupplier)
}

func TestJoinHonoursContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fut := cycle.NewFuture[int](f.env, "never")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fut.Join(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, cycle.FuturePending, fut.State())
}

func TestSupplyRejectsWhenCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pool, sup := newSinglePermitPool(t)

	holding := make(chan struct{})
	first := cycle.Supply(f.env, pool, "holder", func(ctx context.Context) (int, error) {
		close(holding)
		<-ctx.Done()
		return 1, nil
	})
	<-holding

	var called atomic.Bool
	second := cycle.Supply(f.env, pool, "queued", func(ctx context.Context) (int, error) {
		called.Store(true)
		return 2, nil
	})
	require.Eventually(t, func() bool { return pool.Snapshot().Waiting == 1 }, 5*time.Second, time.Millisecond)
	sup.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := first.Join(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = second.Join(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, cycle.FutureRejected, second.State())
	assert.False(t, called.Load(), "a cancelled supplier is never started")
}
