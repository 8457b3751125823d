package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/config"
	"cyclekit/internal/eventbus"
	"cyclekit/internal/pluginkit"
	"cyclekit/internal/storage"
	logx "cyclekit/pkg/logx"
)

const appConfig = `{
  "logging": {"level": "error", "console": false},
  "cycle": {"period": "%s", "budget": "5ms", "max_idle_cycles": 20},
  "workers": {"max_concurrency": 2},
  "storage": {"driver": "file", "path": %q, "retention": "24h"},
  "diagnostics": {"enabled": false},
  "schedules": {"prune": {"spec": "@daily", "job": "prune_history", "timezone": "UTC"}}
}`

func writeConfig(t *testing.T, path, period, storePath string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(appConfig, period, storePath)), 0o600))
}

func startApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cyclehost.json")
	writeConfig(t, path, "10ms", filepath.Join(dir, "history"))

	a, err := New(path, WithSink(logx.SinkFunc(func(logx.Level, string) {})))
	require.NoError(t, err)
	return a, path
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestValidateRejectsComponentErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Diagnostics: config.DiagnosticsConfig{SnapshotEvery: "100ms"},
		Schedules: map[string]config.ScheduleConfig{
			"bad":   {Spec: "nope", Job: config.JobSnapshot},
			"fast":  {Spec: "500ms", Job: config.JobSnapshot},
			"prune": {Spec: "1h", Job: config.JobPruneHistory},
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "schedules.bad.spec")
	assert.Contains(t, msg, "schedules.fast.spec")
	assert.Contains(t, msg, "needs a storage section")
	assert.Contains(t, msg, "diagnostics.snapshot_every")

	_, _, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	assert.Error(t, err)
}

func TestScheduleSpecAddsTimezoneToCron(t *testing.T) {
	t.Parallel()
	spec, err := scheduleSpec(config.ScheduleConfig{Spec: "0 3 * * *", Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Europe/Berlin 0 3 * * *", spec)

	spec, err = scheduleSpec(config.ScheduleConfig{Spec: "01:30", Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "every:1h30m0s", spec)
}

func TestMapCycleConfigDefaultsAndClamp(t *testing.T) {
	t.Parallel()
	cyc, err := mapCycleConfig(&config.Config{Cycle: config.CycleConfig{Budget: "2s"}})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cyc.Period)
	assert.Equal(t, 50*time.Millisecond, cyc.Budget)
	assert.Equal(t, 200, cyc.MaxIdleCycles)
}

func TestAppRunsPluginWorkOnMainCycle(t *testing.T) {
	a, _ := startApp(t)
	kit, err := a.NewKit("demo")
	require.NoError(t, err)
	_, err = a.NewKit("demo")
	require.Error(t, err)

	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	var later atomic.Bool
	require.True(t, kit.Later(2, func() { later.Store(true) }))
	require.Eventually(t, later.Load, 2*time.Second, 5*time.Millisecond)

	var delivered atomic.Int64
	require.NoError(t, pluginkit.Deliver(kit, "answer", func(context.Context) (int64, error) { return 42, nil }, func(v int64) { delivered.Store(v) }))
	require.Eventually(t, func() bool { return delivered.Load() == 42 }, 2*time.Second, 5*time.Millisecond)

	late, err := a.NewKit("late")
	require.NoError(t, err)
	assert.True(t, late.Enabled())

	snap := a.Schedule().Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "config:prune", snap.Entries[0].Name)
	assert.Equal(t, "CRON_TZ=UTC @daily", snap.Entries[0].Spec)
}

func TestAppRecordsFailuresInHistory(t *testing.T) {
	a, _ := startApp(t)
	kit, err := a.NewKit("flaky")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	require.True(t, kit.Post("explode", func() { panic(errors.New("kaboom")) }))

	require.Eventually(t, func() bool {
		r := a.Collector().Collect(context.Background())
		events, ok := r.Sections["history"].([]storage.TaskEvent)
		return ok && len(events) > 0 && events[0].Type == eventbus.TypeTaskFailed && events[0].Panic
	}, 3*time.Second, 10*time.Millisecond)

	r := a.Collector().Collect(context.Background())
	for _, name := range []string{"host", "schedule", "eventbus", "supervisor", "workers", "plugins", "recorder"} {
		assert.Contains(t, r.Sections, name)
	}
	assert.Empty(t, r.Errors)
}

func TestAppAppliesReloadedConfig(t *testing.T) {
	a, path := startApp(t)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)
	require.Equal(t, 10*time.Millisecond, a.Host().Snapshot().Period)

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "20ms", filepath.Join(filepath.Dir(path), "history"))

	require.Eventually(t, func() bool { return a.Host().Snapshot().Period == 20*time.Millisecond }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "20ms", a.Config().Cycle.Period)
}

func TestPruneHistoryJobUsesRetention(t *testing.T) {
	a, _ := startApp(t)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	ctx := context.Background()
	require.NoError(t, a.store.AppendTaskEvent(ctx, storage.TaskEvent{At: time.Now().Add(-48 * time.Hour), Type: eventbus.TypeTaskFailed, Source: "old"}))
	require.NoError(t, a.store.AppendTaskEvent(ctx, storage.TaskEvent{At: time.Now(), Type: eventbus.TypeTaskFailed, Source: "new"}))

	require.NoError(t, a.pruneHistory(ctx))
	events, err := a.store.RecentTaskEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Source)
}

func TestKitCreatedAfterStartRunsOnEnableHooks(t *testing.T) {
	a, _ := startApp(t)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	late, err := a.NewKit("late")
	require.NoError(t, err)

	var ran atomic.Bool
	require.NoError(t, late.OnEnable(func(_ context.Context, k *pluginkit.Kit) error {
		ran.Store(true)
		return k.Every("tick", "every:1m", func() {})
	}))
	assert.True(t, ran.Load())

	names := map[string]bool{}
	for _, e := range a.Schedule().Snapshot().Entries {
		names[e.Name] = true
	}
	assert.True(t, names["late:tick"], "schedule from the hook is registered")
}
