package cycle_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
)

type counter struct {
	runs  map[string]int
	ticks int
}

func (c *counter) Execute(name string) {
	if name == "panic" {
		panic("listener failed")
	}
	c.runs[name]++
}

func (c *counter) Tick() { c.ticks++ }

func TestSnapshotWorkerRunsEveryItemEachCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := &counter{runs: map[string]int{}}
	w := cycle.NewSnapshotWorker[string](f.env, c, cycle.QueueOptions{Name: "listeners"})

	require.True(t, w.Register("a"))
	require.True(t, w.Register("b"))
	require.True(t, w.Register("b"))
	require.True(t, w.Running())
	assert.Equal(t, 2, w.Len())

	f.host.TickN(3)
	assert.Equal(t, map[string]int{"a": 3, "b": 3}, c.runs)
	assert.Equal(t, 3, c.ticks)

	require.True(t, w.Unregister("a"))
	assert.False(t, w.Unregister("a"))
	f.host.Tick()
	assert.Equal(t, map[string]int{"a": 3, "b": 4}, c.runs)
}

func TestSnapshotWorkerIdleSuspend(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := &counter{runs: map[string]int{}}
	w := cycle.NewSnapshotWorker[string](f.env, c, cycle.QueueOptions{MaxIdleCycles: 2})

	w.Register("a")
	f.host.Tick()
	w.Unregister("a")

	f.host.Tick()
	assert.True(t, w.Running())
	f.host.Tick()
	assert.False(t, w.Running())
	assert.Equal(t, 1, c.ticks, "tick only runs when items are registered")

	w.Register("b")
	assert.True(t, w.Running())
}

func TestSnapshotWorkerIsolatesFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := &counter{runs: map[string]int{}}
	w := cycle.NewSnapshotWorker[string](f.env, c, cycle.QueueOptions{})
	w.Register("panic")
	w.Register("ok")

	require.NotPanics(t, f.host.Tick)
	assert.Equal(t, 1, c.runs["ok"])
	assert.Equal(t, uint64(1), w.Snapshot().Failed)
}

func TestSnapshotWorkerShutdownRunsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var seen []string
	w := cycle.NewSnapshotWorker[string](f.env, cycle.ConsumerFunc[string](func(s string) { seen = append(seen, s) }), cycle.QueueOptions{})
	w.Register("x")
	w.Register("y")

	w.Shutdown()
	sort.Strings(seen)
	assert.Equal(t, []string{"x", "y"}, seen)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, cycle.StateInactive, w.State())

	assert.False(t, w.Register("z"))
	f.host.TickN(2)
	assert.Len(t, seen, 2)
}
