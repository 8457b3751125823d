package host

import (
	"context"
	"sync"
	"time"

	"cyclekit/internal/cycle"
	logx "cyclekit/pkg/logx"
)

// DefaultPeriod is the cycle length of a Ticker.
const DefaultPeriod = 50 * time.Millisecond

// Snapshot is a point-in-time view of a Ticker.
type Snapshot struct {
	Cycle        uint64        `json:"cycle"`
	Period       time.Duration `json:"period"`
	Registered   int           `json:"registered"`
	PendingTasks int           `json:"pending_tasks"`
	LastCycle    time.Duration `json:"last_cycle"`
	MaxCycle     time.Duration `json:"max_cycle"`
	Overruns     uint64        `json:"overruns"`
}

// Ticker is a host whose main cycle is the goroutine running Run, advanced by
// a time.Ticker. Tasks posted with RunTask also run between cycles.
type Ticker struct {
	reg   registry
	log   logx.Logger
	wake  chan struct{}
	reset chan time.Duration

	mu        sync.Mutex
	period    time.Duration
	lastCycle time.Duration
	maxCycle  time.Duration
	overruns  uint64
}

var _ cycle.Host = (*Ticker)(nil)

func NewTicker(log logx.Logger, period time.Duration) *Ticker {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Ticker{
		reg:    registry{log: log},
		log:    log,
		wake:   make(chan struct{}, 1),
		reset:  make(chan time.Duration, 1),
		period: period,
	}
}

func (t *Ticker) Every(period int, fn func()) cycle.Handle { return t.reg.every(period, fn) }

func (t *Ticker) RunTask(fn func()) {
	if t.reg.runTask(fn) {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// SetPeriod changes the cycle length of a running ticker.
func (t *Ticker) SetPeriod(period time.Duration) {
	if period <= 0 {
		period = DefaultPeriod
	}
	t.mu.Lock()
	changed := period != t.period
	t.period = period
	t.mu.Unlock()
	if !changed {
		return
	}
	select {
	case t.reset <- period:
	default:
	}
}

// Run drives the main cycle until ctx ends. On return it runs the tasks still
// queued, and tasks posted after that execute on the posting goroutine until
// Run is called again. Tasks posted before the first Run wait for it.
func (t *Ticker) Run(ctx context.Context) error {
	t.mu.Lock()
	period := t.period
	t.mu.Unlock()

	tk := time.NewTicker(period)
	defer tk.Stop()
	t.reg.setStopped(false)
	t.log.Info("main cycle started", logx.Duration("period", period))
	defer func() {
		t.reg.setStopped(true)
		if n := t.reg.drainTasks(); n > 0 {
			t.log.Debug("main cycle ran remaining tasks", logx.Int("tasks", n))
		}
		t.log.Info("main cycle stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-t.reset:
			tk.Reset(p)
			t.log.Info("main cycle period changed", logx.Duration("period", p))
		case <-t.wake:
			t.reg.drainTasks()
		case <-tk.C:
			t.runCycle()
		}
	}
}

func (t *Ticker) runCycle() {
	start := time.Now()
	cycleNo := t.reg.tick()
	t.reg.drainTasks()
	cost := time.Since(start)

	t.mu.Lock()
	t.lastCycle = cost
	t.maxCycle = max(t.maxCycle, cost)
	over := cost > t.period
	if over {
		t.overruns++
	}
	period := t.period
	t.mu.Unlock()

	if over {
		t.log.Warn("main cycle overran its period", logx.Uint64("cycle", cycleNo), logx.Duration("cost", cost), logx.Duration("period", period))
	}
}

func (t *Ticker) Snapshot() Snapshot {
	c, n, pending := t.reg.counts()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Cycle:        c,
		Period:       t.period,
		Registered:   n,
		PendingTasks: pending,
		LastCycle:    t.lastCycle,
		MaxCycle:     t.maxCycle,
		Overruns:     t.overruns,
	}
}
