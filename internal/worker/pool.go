package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"cyclekit/internal/runtime/supervisor"
	logx "cyclekit/pkg/logx"
)

// Executor runs blocking work off the main cycle.
type Executor interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// Config controls the worker pool.
type Config struct {
	// MaxConcurrency bounds tasks running at once. 0 means unbounded.
	MaxConcurrency int
	// Timeout bounds a single attempt. 0 disables it.
	Timeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	c.MaxConcurrency = max(c.MaxConcurrency, 0)
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// HistoryItem records one finished task.
type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Waited   time.Duration `json:"waited"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	MaxConcurrency int           `json:"max_concurrency"`
	Submitted      uint64        `json:"submitted"`
	Running        int64         `json:"running"`
	Waiting        int64         `json:"waiting"`
	Completed      uint64        `json:"completed"`
	Failed         uint64        `json:"failed"`
	Panics         uint64        `json:"panics"`
	History        []HistoryItem `json:"history"`
}

// Pool runs each submitted task on its own supervised goroutine, bounded by
// an optional weighted semaphore.
type Pool struct {
	sup *supervisor.Supervisor
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	sem     *semaphore.Weighted
	stopped bool

	submitted atomic.Uint64
	running   atomic.Int64
	waiting   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func NewPool(sup *supervisor.Supervisor, log logx.Logger, cfg Config) *Pool {
	p := &Pool{sup: sup, log: log}
	p.Apply(cfg)
	return p
}

// Apply swaps the pool configuration. Tasks already holding a permit keep
// the previous bound.
func (p *Pool) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sem == nil || cfg.MaxConcurrency != p.cfg.MaxConcurrency {
		p.sem = nil
		if cfg.MaxConcurrency > 0 {
			p.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
		}
	}
	p.cfg = cfg
}

// Stop rejects further submissions. Running tasks observe cancellation
// through the supervisor context.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// Go submits fn. It returns ErrStopped after Stop or once the supervisor is done.
// An accepted fn is always called exactly once; if the supervisor is cancelled
// while fn waits for a permit, it is called with the cancelled ctx.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilTask
	}
	p.mu.Lock()
	stopped := p.stopped
	cfg := p.cfg
	sem := p.sem
	p.mu.Unlock()
	if stopped || p.sup.Context().Err() != nil {
		return ErrStopped
	}

	id := uuid.NewString()
	p.submitted.Add(1)
	enqueuedAt := time.Now()
	p.sup.Go("worker:"+name, func(ctx context.Context) error {
		if sem != nil {
			p.waiting.Add(1)
			err := sem.Acquire(ctx, 1)
			p.waiting.Add(-1)
			// Acquire only fails once ctx is done. fn still runs so callers
			// waiting on its result see the cancellation.
			if err == nil {
				defer sem.Release(1)
			}
		}
		p.running.Add(1)
		defer p.running.Add(-1)

		p.run(ctx, cfg, id, name, enqueuedAt, fn)
		return nil
	})
	return nil
}

func (p *Pool) run(ctx context.Context, cfg Config, id, name string, enqueuedAt time.Time, fn func(ctx context.Context) error) {
	start := time.Now()
	var err error
	attempts := 0
	for attempts < 1+cfg.RetryMax {
		attempts++
		err = p.attempt(ctx, cfg, name, fn)
		if err == nil || IsNoRetry(err) || ctx.Err() != nil || attempts > cfg.RetryMax {
			break
		}
		delay := backoffDelay(cfg, attempts, err)
		p.log.Debug("worker retry scheduled", logx.String("task", name), logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
			continue
		}
		break
	}

	item := HistoryItem{ID: id, Name: name, Started: start, Waited: start.Sub(enqueuedAt), Duration: time.Since(start), Attempts: attempts}
	failed := err != nil && !errors.Is(err, context.Canceled)
	if failed {
		item.Error = err.Error()
		p.log.Warn("worker task failed", logx.String("task", name), logx.String("id", id), logx.Int("attempts", attempts), logx.Err(err))
	}
	p.record(item, cfg.HistorySize)
	if failed {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *Pool) attempt(ctx context.Context, cfg Config, name string, fn func(ctx context.Context) error) (err error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("worker task panicked", logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = NoRetry(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx)
}

func backoffDelay(cfg Config, attempt int, err error) time.Duration {
	var ra retryAfterError
	if errors.As(err, &ra) {
		return min(ra.after, cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase << (attempt - 1)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	// 20% jitter.
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int64N(j + 1))
	}
	return d
}

func (p *Pool) record(item HistoryItem, limit int) {
	p.hmu.Lock()
	p.history = append(p.history, item)
	if len(p.history) > limit {
		p.history = append(p.history[:0], p.history[len(p.history)-limit:]...)
	}
	p.hmu.Unlock()
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	maxC := p.cfg.MaxConcurrency
	p.mu.Unlock()

	p.hmu.Lock()
	hist := append([]HistoryItem(nil), p.history...)
	p.hmu.Unlock()

	return Snapshot{
		MaxConcurrency: maxC,
		Submitted:      p.submitted.Load(),
		Running:        p.running.Load(),
		Waiting:        p.waiting.Load(),
		Completed:      p.completed.Load(),
		Failed:         p.failed.Load(),
		Panics:         p.panics.Load(),
		History:        hist,
	}
}
