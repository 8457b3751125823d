package cycle_test

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
	"cyclekit/internal/eventbus"
)

func TestIteratingTaskSpansCycles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	var seen []int
	var stats *cycle.Statistics
	task := cycle.NewIteratingTask(f.env, slices.Values([]int{1, 2, 3, 4, 5}), func(v int) {
		seen = append(seen, v)
		f.clock.Advance(10 * time.Millisecond)
	}, cycle.IterationOptions{
		Name:   "walk",
		Budget: 20 * time.Millisecond,
		OnDone: func(s cycle.Statistics) { stats = &s },
	})

	require.NoError(t, task.Start())
	assert.ErrorIs(t, task.Start(), cycle.ErrAlreadyStarted)

	f.host.Tick()
	assert.Equal(t, []int{1, 2}, seen)
	f.host.Tick()
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
	assert.Nil(t, stats)

	f.host.Tick()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	require.NotNil(t, stats)
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, 3, stats.Cycles)
	assert.Equal(t, 50*time.Millisecond, stats.Elapsed)
	assert.True(t, task.Done())
	assert.False(t, task.Running())
	assert.Equal(t, 0, f.host.Registered())

	var finished bool
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.TypeIterationFinished {
			finished = true
			assert.Equal(t, int64(5), e.Data.(eventbus.IterationStats).Processed)
		}
	}
	assert.True(t, finished)
}

func TestIteratingTaskStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := false
	var task *cycle.IteratingTask[int]
	task = cycle.NewIteratingTask(f.env, slices.Values([]int{1, 2, 3}), func(v int) {
		if v == 2 {
			task.Stop()
		}
	}, cycle.IterationOptions{OnDone: func(cycle.Statistics) { done = true }})

	require.NoError(t, task.Start())
	f.host.TickN(3)
	assert.False(t, done)
	assert.Equal(t, int64(2), task.Stats().Processed)
	assert.False(t, task.Running())
}

func TestIteratingTaskIsolatesElementFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var seen []int
	task := cycle.NewIteratingTask(f.env, slices.Values([]int{1, 2, 3}), func(v int) {
		if v == 2 {
			panic("bad element")
		}
		seen = append(seen, v)
	}, cycle.IterationOptions{})

	require.NoError(t, task.Start())
	require.NotPanics(t, f.host.Tick)
	assert.Equal(t, []int{1, 3}, seen)
	assert.True(t, task.Done())
	assert.Contains(t, f.logs.String(), "iteration element failed")
}
