package cycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
	"cyclekit/internal/eventbus"
)

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	runs := 0
	l := cycle.NewLifecycle(f.env, "life", func() { runs++ })
	require.Equal(t, cycle.StateSuspended, l.State())
	assert.False(t, l.Cancel(), "cancel while suspended is a no-op")

	require.True(t, l.Schedule())
	assert.False(t, l.Schedule(), "double schedule is a no-op")
	assert.True(t, l.Running())
	assert.Equal(t, 1, f.host.Registered())

	f.host.TickN(3)
	assert.Equal(t, 3, runs)

	require.True(t, l.Cancel())
	assert.Equal(t, cycle.StateSuspended, l.State())
	f.host.Tick()
	assert.Equal(t, 3, runs)

	require.True(t, l.Schedule())
	require.True(t, l.Shutdown())
	assert.False(t, l.Shutdown())
	assert.Equal(t, 0, f.host.Registered())

	for range 3 {
		assert.False(t, l.Schedule())
	}
	assert.False(t, l.Running())
	assert.False(t, l.Active())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{
		eventbus.TypeCycleScheduled,
		eventbus.TypeCycleSuspended,
		eventbus.TypeCycleScheduled,
		eventbus.TypeCycleShutdown,
	}, types)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "inactive", cycle.StateInactive.String())
	assert.Equal(t, "suspended", cycle.StateSuspended.String())
	assert.Equal(t, "scheduled", cycle.StateScheduled.String())
}
