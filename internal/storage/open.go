package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "cyclekit/pkg/logx"
)

// Store is the persistence API used by the history recorder and diagnostics.
type Store interface {
	AppendTaskEvent(ctx context.Context, e TaskEvent) error
	// RecentTaskEvents returns up to limit events, newest first.
	RecentTaskEvents(ctx context.Context, limit int) ([]TaskEvent, error)
	// Prune deletes events older than before and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
