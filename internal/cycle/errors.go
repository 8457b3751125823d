package cycle

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	ErrShutdown       = errors.New("cycle: component shut down")
	ErrNilSupplier    = errors.New("cycle: nil supplier")
	ErrNilRejection   = errors.New("cycle: future rejected with nil error")
	ErrNoExecutor     = errors.New("cycle: no executor configured")
	ErrAlreadyStarted = errors.New("cycle: already started")
)

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Guard runs fn and converts a panic into a *PanicError.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}
