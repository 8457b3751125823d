package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/cycle"
	"cyclekit/internal/eventbus"
	"cyclekit/internal/host"
	logx "cyclekit/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every: 2h", kind: SpecInterval, source: "duration", duration: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "00:00", "01:75", "cron:", "every:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 15, m)

	_, _, err = parseHHMM("24:00")
	assert.Error(t, err)
}

func newService(t *testing.T) (*Service, *host.Manual, eventbus.Bus) {
	t.Helper()
	m := host.NewManual(logx.Nop())
	bus := eventbus.New()
	s := New(cycle.Env{Host: m, Log: logx.Nop(), Bus: bus}, "UTC", WithoutSpread())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, m, bus
}

func TestTriggerRunsOnMainCycleAndSkipsWhilePending(t *testing.T) {
	t.Parallel()
	s, m, _ := newService(t)

	runs := 0
	require.NoError(t, s.Add("count", "1h", func() { runs++ }))
	j := s.jobs["count"]

	s.trigger(j)
	s.trigger(j)
	assert.Equal(t, 0, runs, "job must wait for the main cycle")
	assert.Equal(t, 1, m.PendingTasks())

	m.Tick()
	assert.Equal(t, 1, runs)

	s.trigger(j)
	m.Tick()
	assert.Equal(t, 2, runs)

	snap := s.Snapshot()
	require.Len(t, snap.Entries, 1)
	e := snap.Entries[0]
	assert.Equal(t, uint64(3), e.Fired)
	assert.Equal(t, uint64(1), e.Skipped)
	assert.False(t, e.Pending)
	assert.False(t, e.LastRun.IsZero())
}

func TestPanickingJobIsReported(t *testing.T) {
	t.Parallel()
	s, m, bus := newService(t)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	require.NoError(t, s.AddCron("bad", "0 0 * * *", func() { panic("boom") }))
	j := s.jobs["bad"]
	s.trigger(j)
	require.NotPanics(t, m.Tick)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeTaskFailed, ev.Type)
		assert.Equal(t, "schedule:bad", ev.Source)
		f, ok := ev.Data.(eventbus.TaskFailure)
		require.True(t, ok)
		assert.True(t, f.Panic)
	default:
		t.Fatal("expected task.failed event")
	}
	assert.Equal(t, uint64(1), s.Snapshot().Entries[0].Failed)

	// A failed run must not leave the job stuck as pending.
	s.trigger(j)
	assert.Equal(t, 1, m.PendingTasks())
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s, _, _ := newService(t)

	assert.ErrorIs(t, s.Add("x", "1m", nil), ErrNilJob)
	assert.ErrorIs(t, s.Add("  ", "1m", func() {}), ErrEmptyName)
	assert.Error(t, s.Add("x", "nope", func() {}))
	assert.Error(t, s.AddCron("x", "61 * * * *", func() {}))
	assert.Error(t, s.AddInterval("x", 10*time.Millisecond, func() {}))
	assert.Error(t, s.AddDaily("x", "25:00", func() {}))
	assert.Empty(t, s.Snapshot().Entries)
}

func TestStartComputesNextAndReplaces(t *testing.T) {
	t.Parallel()
	s, _, _ := newService(t)

	require.NoError(t, s.AddDaily("nightly", "03:15", func() {}))
	s.Start(context.Background())
	require.True(t, s.Running())

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Entries) == 1 && !snap.Entries[0].Next.IsZero()
	}, time.Second, 5*time.Millisecond)

	next := s.Snapshot().Entries[0].Next.UTC()
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 15, next.Minute())
	assert.Equal(t, "UTC", s.Snapshot().Timezone)

	require.NoError(t, s.Add("nightly", "@every 1h", func() {}))
	snap := s.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "cron", snap.Entries[0].Kind)
	assert.Equal(t, "@every 1h", snap.Entries[0].Spec)

	assert.True(t, s.Remove("nightly"))
	assert.False(t, s.Remove("nightly"))
	assert.Empty(t, s.Snapshot().Entries)
}

func TestAddOnceFiresAndIsForgotten(t *testing.T) {
	t.Parallel()
	s, m, _ := newService(t)

	var ran atomic.Int32
	require.NoError(t, s.AddOnce("now", time.Now().Add(-time.Second), func() { ran.Add(1) }))
	assert.Equal(t, 0, m.PendingTasks(), "stopped service must not arm timers")

	s.Start(context.Background())
	require.Eventually(t, func() bool { return m.PendingTasks() == 1 }, time.Second, 5*time.Millisecond)
	m.Tick()
	assert.Equal(t, int32(1), ran.Load())
	assert.Empty(t, s.Snapshot().Entries)
}

func TestStopKeepsOnceJobAndRemoveCancelsIt(t *testing.T) {
	t.Parallel()
	s, m, _ := newService(t)

	s.Start(context.Background())
	require.NoError(t, s.AddOnce("later", time.Now().Add(time.Hour), func() {}))
	s.Stop(context.Background())
	assert.False(t, s.Running())
	require.Len(t, s.Snapshot().Entries, 1)

	s.Start(context.Background())
	assert.True(t, s.Remove("later"))
	assert.Equal(t, 0, m.PendingTasks())
}

func TestSetTimezoneRestartsCron(t *testing.T) {
	t.Parallel()
	ny := mustLoad(t, "America/New_York")
	s, _, _ := newService(t)

	require.NoError(t, s.AddCron("tz", "0 12 * * *", func() {}))
	s.Start(context.Background())
	s.SetTimezone("America/New_York")
	assert.True(t, s.Running())

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Entries) == 1 && !snap.Entries[0].Next.IsZero()
	}, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, "America/New_York", snap.Timezone)
	assert.Equal(t, 12, snap.Entries[0].Next.In(ny).Hour())
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}
