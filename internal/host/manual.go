package host

import (
	"cyclekit/internal/cycle"
	logx "cyclekit/pkg/logx"
)

// Manual is a host whose cycles advance only when Tick is called. The
// goroutine calling Tick is the main cycle.
type Manual struct {
	reg registry
}

var _ cycle.Host = (*Manual)(nil)

func NewManual(log logx.Logger) *Manual {
	return &Manual{reg: registry{log: log}}
}

func (m *Manual) Every(period int, fn func()) cycle.Handle { return m.reg.every(period, fn) }

func (m *Manual) RunTask(fn func()) { m.reg.runTask(fn) }

// Tick runs one cycle: due periodic callbacks first, then queued tasks.
func (m *Manual) Tick() {
	m.reg.tick()
	m.reg.drainTasks()
}

// TickN runs n cycles.
func (m *Manual) TickN(n int) {
	for range n {
		m.Tick()
	}
}

// Cycle is the number of completed Tick calls.
func (m *Manual) Cycle() uint64 {
	c, _, _ := m.reg.counts()
	return c
}

// Registered is the number of live periodic callbacks.
func (m *Manual) Registered() int {
	_, n, _ := m.reg.counts()
	return n
}

func (m *Manual) PendingTasks() int {
	_, _, n := m.reg.counts()
	return n
}
