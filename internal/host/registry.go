package host

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "cyclekit/pkg/logx"
)

// registration is a periodic callback; it implements cycle.Handle.
type registration struct {
	id        uint64
	period    uint64
	start     uint64
	fn        func()
	cancelled atomic.Bool
	reg       *registry
}

func (r *registration) Cancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.reg.remove(r.id)
	}
}

// registry holds the periodic callbacks and one-shot tasks of a host. Only the
// main cycle calls tick.
type registry struct {
	log logx.Logger

	mu    sync.Mutex
	seq   uint64
	cycle uint64
	regs  []*registration
	tasks []func()
	// stopped is set while no main cycle drains tasks.
	stopped bool
}

func (r *registry) every(period int, fn func()) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg := &registration{id: r.seq, period: uint64(max(period, 1)), start: r.cycle, fn: fn, reg: r}
	if fn == nil {
		reg.cancelled.Store(true)
		return reg
	}
	r.regs = append(r.regs, reg)
	return reg
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.id == id {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			return
		}
	}
}

// runTask queues fn and reports whether the queue was empty before. While
// the registry is stopped fn runs on the caller instead.
func (r *registry) runTask(fn func()) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.call("task", fn)
		return false
	}
	r.tasks = append(r.tasks, fn)
	first := len(r.tasks) == 1
	r.mu.Unlock()
	return first
}

func (r *registry) setStopped(stopped bool) {
	r.mu.Lock()
	r.stopped = stopped
	r.mu.Unlock()
}

// tick advances the cycle counter and runs every due periodic callback.
func (r *registry) tick() uint64 {
	r.mu.Lock()
	r.cycle++
	cycle := r.cycle
	regs := append([]*registration(nil), r.regs...)
	r.mu.Unlock()

	for _, reg := range regs {
		if reg.cancelled.Load() || (cycle-reg.start)%reg.period != 0 {
			continue
		}
		r.call("periodic", reg.fn)
	}
	return cycle
}

// drainTasks runs the tasks queued so far. Tasks queued meanwhile wait for
// the next drain.
func (r *registry) drainTasks() int {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	for _, fn := range tasks {
		r.call("task", fn)
	}
	return len(tasks)
}

func (r *registry) call(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("host callback panicked", logx.String("kind", kind), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

func (r *registry) counts() (cycle uint64, registered, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle, len(r.regs), len(r.tasks)
}
