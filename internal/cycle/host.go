package cycle

import (
	"errors"
	"time"

	"cyclekit/internal/eventbus"
	logx "cyclekit/pkg/logx"
)

// Handle deregisters a periodic callback. Cancel must be idempotent.
type Handle interface {
	Cancel()
}

// Host is the turn scheduler that owns the main cycle.
//
// Every registers fn to run on the main cycle once every period cycles.
// RunTask runs fn once on the main cycle as soon as possible; it may be
// called from any goroutine, including the main cycle itself.
type Host interface {
	Every(period int, fn func()) Handle
	RunTask(fn func())
}

// Clock supplies wall time for budget accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Env bundles the collaborators every component needs. It is passed by value.
type Env struct {
	Host  Host
	Log   logx.Logger
	Bus   eventbus.Bus
	Clock Clock
}

func (e Env) normalize() Env {
	if e.Bus == nil {
		e.Bus = eventbus.Nop()
	}
	if e.Clock == nil {
		e.Clock = SystemClock()
	}
	return e
}

func (e Env) publish(typ, source string, data any) {
	e.Bus.Publish(eventbus.Event{Type: typ, Source: source, Time: e.Clock.Now(), Data: data})
}

// fail logs a task failure at error level and publishes it as typ.
func (e Env) fail(typ, source, msg string, err error) {
	e.publish(typ, source, e.logFailure(source, msg, err))
}

// Report logs err as a failed task of source and publishes task.failed.
func (e Env) Report(source, msg string, err error) {
	e.normalize().fail(eventbus.TypeTaskFailed, source, msg, err)
}

func (e Env) logFailure(source, msg string, err error) eventbus.TaskFailure {
	fields := []logx.Field{logx.String("source", source), logx.Err(err)}
	payload := eventbus.TaskFailure{Error: err.Error()}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Any("panic", pe.Value), logx.Stack(string(pe.Stack)))
		payload.Panic = true
		payload.Stack = string(pe.Stack)
	}
	e.Log.Error(msg, fields...)
	return payload
}
