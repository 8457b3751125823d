package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskEvent is one persisted history record. Keep it compact and schema-stable.
type TaskEvent struct {
	At        time.Time `json:"at"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
	Panic     bool      `json:"panic,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	Processed int64     `json:"processed,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
}
