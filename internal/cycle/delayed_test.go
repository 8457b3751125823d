package cycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
)

// advanceTo keeps d armed with a far-future placeholder and ticks until its
// counter reaches target.
func advanceTo(t *testing.T, f *fixture, d *cycle.DelayedActions, target uint64) {
	t.Helper()
	require.True(t, d.Schedule(func() {}, 1_000_000))
	for d.CurrentCycle() < target {
		f.host.Tick()
	}
	require.Equal(t, target, d.CurrentCycle())
}

func TestDelayedRunsNoEarlierThanDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{})
	advanceTo(t, f, d, 100)

	ran := 0
	require.True(t, d.Schedule(func() { ran++ }, 5))

	for want := uint64(101); want <= 104; want++ {
		f.host.Tick()
		require.Equal(t, want, d.CurrentCycle())
		assert.Zero(t, ran, "ran early at cycle %d", want)
	}
	f.host.Tick()
	assert.Equal(t, uint64(105), d.CurrentCycle())
	assert.Equal(t, 1, ran)

	f.host.TickN(10)
	assert.Equal(t, 1, ran)
}

func TestDelayedZeroRunsSynchronously(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{})

	ran := false
	require.True(t, d.Schedule(func() { ran = true }, 0))
	assert.True(t, ran)
	assert.Equal(t, 0, d.Pending())
	assert.False(t, d.Running(), "fast path never arms the queue")

	require.True(t, d.Schedule(func() { panic("sync boom") }, -3))
	assert.Contains(t, f.logs.String(), "delayed task failed")
}

func TestDelayedOrdersByDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{})

	var order []int
	d.Schedule(func() { order = append(order, 3) }, 3)
	d.Schedule(func() { order = append(order, 1) }, 1)
	d.Schedule(func() { order = append(order, 2) }, 2)

	f.host.TickN(3)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDelayedSameDueAllRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{})

	got := map[int]bool{}
	for i := range 5 {
		d.Schedule(func() { got[i] = true }, 2)
	}
	f.host.Tick()
	assert.Empty(t, got)
	f.host.Tick()
	assert.Len(t, got, 5)
}

func TestDelayedFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{})

	ran := false
	d.Schedule(func() { panic("first") }, 1)
	d.Schedule(func() { ran = true }, 1)

	require.NotPanics(t, f.host.Tick)
	assert.True(t, ran)
	assert.Equal(t, uint64(1), d.Snapshot().Failed)
}

func TestDelayedSuspendsWhenIdleAndKeepsCounter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{MaxIdleCycles: 2})
	d.Schedule(func() {}, 1)

	f.host.TickN(3)
	assert.False(t, d.Running())
	at := d.CurrentCycle()

	f.host.TickN(10)
	assert.Equal(t, at, d.CurrentCycle(), "a suspended scheduler does not count cycles")

	ran := false
	d.Schedule(func() { ran = true }, 1)
	f.host.Tick()
	assert.True(t, ran)
}

func TestDelayedShutdownRunsPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := cycle.NewDelayedActions(f.env, cycle.QueueOptions{Budget: 5 * time.Millisecond})

	var order []int
	d.Schedule(func() { order = append(order, 50) }, 50)
	d.Schedule(func() { order = append(order, 10) }, 10)

	d.Shutdown()
	assert.Equal(t, []int{10, 50}, order)
	assert.False(t, d.Schedule(func() {}, 0))
	assert.False(t, d.Schedule(func() {}, 3))
	assert.Equal(t, cycle.StateInactive, d.State())
}
