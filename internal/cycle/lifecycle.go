package cycle

import (
	"sync"

	"cyclekit/internal/eventbus"
	logx "cyclekit/pkg/logx"
)

// State is the registration state of a Lifecycle.
type State int32

const (
	// StateInactive is terminal: the component was shut down.
	StateInactive State = iota
	// StateSuspended means no host callback is registered, but one can be.
	StateSuspended
	// StateScheduled means the per-cycle callback is registered with the host.
	StateScheduled
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateSuspended:
		return "suspended"
	case StateScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// Lifecycle owns the single registration of a per-cycle body with the host.
//
// A new Lifecycle starts Suspended. Misordered calls are no-ops.
type Lifecycle struct {
	env  Env
	name string
	body func()

	mu     sync.Mutex
	state  State
	handle Handle
}

func NewLifecycle(env Env, name string, body func()) *Lifecycle {
	return &Lifecycle{
		env:   env.normalize(),
		name:  name,
		body:  body,
		state: StateSuspended,
	}
}

func (l *Lifecycle) Name() string { return l.name }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Running reports whether the body is registered with the host.
func (l *Lifecycle) Running() bool { return l.State() == StateScheduled }

// Active reports whether the lifecycle has not been shut down.
func (l *Lifecycle) Active() bool { return l.State() != StateInactive }

// Schedule registers the body with period 1. It does nothing when already
// Scheduled or Inactive, and reports whether it armed the body.
func (l *Lifecycle) Schedule() bool {
	l.mu.Lock()
	if l.state != StateSuspended {
		l.mu.Unlock()
		return false
	}
	l.handle = l.env.Host.Every(1, l.body)
	l.state = StateScheduled
	l.mu.Unlock()

	l.env.Log.Debug("cycle scheduled", logx.String("name", l.name))
	l.env.publish(eventbus.TypeCycleScheduled, l.name, nil)
	return true
}

// Cancel deregisters the body and moves Scheduled to Suspended.
func (l *Lifecycle) Cancel() bool {
	l.mu.Lock()
	if l.state != StateScheduled {
		l.mu.Unlock()
		return false
	}
	h := l.handle
	l.handle = nil
	l.state = StateSuspended
	l.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	l.env.Log.Debug("cycle suspended", logx.String("name", l.name))
	l.env.publish(eventbus.TypeCycleSuspended, l.name, nil)
	return true
}

// Shutdown moves to Inactive for good. Only the first call returns true.
func (l *Lifecycle) Shutdown() bool {
	l.mu.Lock()
	if l.state == StateInactive {
		l.mu.Unlock()
		return false
	}
	h := l.handle
	l.handle = nil
	l.state = StateInactive
	l.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
	l.env.Log.Debug("cycle shut down", logx.String("name", l.name))
	l.env.publish(eventbus.TypeCycleShutdown, l.name, nil)
	return true
}
