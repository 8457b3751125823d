package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "sink": {"enabled": true, "min_level": "warn", "rate_per_sec": 2}},
  "cycle": {"period": "50ms", "budget": "20ms", "max_idle_cycles": 100},
  "workers": {"max_concurrency": 4, "retry_max": 2},
  "storage": {"driver": "sqlite", "path": "./cyclekit.db", "busy_timeout": "5s"},
  "diagnostics": {"enabled": true, "addr": "127.0.0.1:6061", "snapshot_every": "1m"},
  "schedules": {"snap": {"spec": "every:5m", "job": "snapshot"}}
}`

const sampleYAML = `
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
  sink: {enabled: true, min_level: warn, rate_per_sec: 2}
cycle:
  period: 50ms
  budget: 20ms
  max_idle_cycles: 100
workers:
  max_concurrency: 4
  retry_max: 2
storage:
  driver: sqlite
  path: ./cyclekit.db
  busy_timeout: 5s
diagnostics:
  enabled: true
  addr: 127.0.0.1:6061
  snapshot_every: 1m
schedules:
  snap:
    spec: every:5m
    job: snapshot
`

const sampleTOML = `
[logging]
level = "debug"
console = true
[logging.file]
enabled = false
path = ""
[logging.sink]
enabled = true
min_level = "warn"
rate_per_sec = 2

[cycle]
period = "50ms"
budget = "20ms"
max_idle_cycles = 100

[workers]
max_concurrency = 4
retry_max = 2

[storage]
driver = "sqlite"
path = "./cyclekit.db"
busy_timeout = "5s"

[diagnostics]
enabled = true
addr = "127.0.0.1:6061"
snapshot_every = "1m"

[schedules.snap]
spec = "every:5m"
job = "snapshot"
`

func TestDecodeFormatsAgree(t *testing.T) {
	t.Parallel()

	want, err := Decode("config.json", []byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "20ms", want.Cycle.Budget)
	assert.Equal(t, 4, want.Workers.MaxConcurrency)
	require.NotNil(t, want.Storage)
	assert.Equal(t, "sqlite", want.Storage.Driver)
	assert.Equal(t, ScheduleConfig{Spec: "every:5m", Job: JobSnapshot}, want.Schedules["snap"])

	for _, tc := range []struct{ name, data string }{
		{"config.yaml", sampleYAML},
		{"config.toml", sampleTOML},
	} {
		got, err := Decode(tc.name, []byte(tc.data))
		require.NoError(t, err, tc.name)
		assert.Equal(t, want, got, tc.name)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"cycle": {"tick": "1s"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick")
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Cycle:   CycleConfig{Budget: "fast", MaxIdleCycles: -1},
		Storage: &StorageConfig{Driver: "postgres"},
		Schedules: map[string]ScheduleConfig{
			"bad": {Spec: "", Job: "dance"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"cycle.budget", "cycle.max_idle_cycles", "storage.driver", "schedules.bad.spec", "schedules.bad.job"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)
	newCfg, err := Decode("c.json", []byte(sampleJSON))
	require.NoError(t, err)

	changed, _ := SummarizeChange(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Cycle.Budget = "10ms"
	newCfg.Storage = nil
	newCfg.Diagnostics.Token = "secret"
	newCfg.Schedules["prune"] = ScheduleConfig{Spec: "03:00", Job: JobPruneHistory}

	changed, _ = SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"cycle", "diagnostics", "schedules", "storage"}, changed)
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cyclekit.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	m.publish(cfg)
	m.publish(cfg)
	assert.Len(t, ch, 1, "slow subscribers keep only the newest config")
	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cyclekit.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Workers.MaxConcurrency == 99 {
			return assert.AnError
		}
		return nil
	})
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := []byte(`{"cycle": {"budget": "10ms"}}`)
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "10ms", cfg.Cycle.Budget)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
	assert.Equal(t, "10ms", m.Get().Cycle.Budget)
}
