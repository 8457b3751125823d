package cycle_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"cyclekit/internal/cycle"
	"cyclekit/internal/eventbus"
	"cyclekit/internal/host"
	"cyclekit/internal/runtime/supervisor"
	"cyclekit/internal/worker"
	logx "cyclekit/pkg/logx"
)

// fakeClock only moves when a test advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// goExecutor runs every task on a fresh goroutine.
type goExecutor struct{ wg sync.WaitGroup }

func (e *goExecutor) Go(name string, fn func(ctx context.Context) error) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = fn(context.Background())
	}()
	return nil
}

// newSinglePermitPool returns a pool that runs one task at a time, so a
// second submission waits for the first to release its permit.
func newSinglePermitPool(t *testing.T) (*worker.Pool, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return worker.NewPool(sup, logx.Nop(), worker.Config{MaxConcurrency: 1}), sup
}

// syncBuffer guards a bytes.Buffer for log capture across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	host  *host.Manual
	clock *fakeClock
	bus   eventbus.Bus
	logs  *syncBuffer
	env   cycle.Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		host:  host.NewManual(logx.Nop()),
		clock: newFakeClock(),
		bus:   eventbus.New(),
		logs:  &syncBuffer{},
	}
	f.env = cycle.Env{
		Host:  f.host,
		Log:   logx.NewWriter(f.logs, "debug"),
		Bus:   f.bus,
		Clock: f.clock,
	}
	return f
}
