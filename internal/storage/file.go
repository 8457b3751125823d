package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "cyclekit/pkg/logx"
)

// tailCap bounds the in-memory copy of the newest events served by
// RecentTaskEvents.
const tailCap = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl (append-only JSON Lines, rewritten by Prune)
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
	tail []TaskEvent // oldest first
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	eventsPath := filepath.Join(dir, base) + ".events.jsonl"

	s := &fileStore{log: log, path: eventsPath}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("history replay failed", logx.String("path", eventsPath), logx.Err(err))
	}
	f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		var e TaskEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			skipped++
			continue
		}
		s.pushLocked(e)
	}
	if skipped > 0 {
		s.log.Warn("skipped malformed history lines", logx.Int("count", skipped))
	}
	return sc.Err()
}

func (s *fileStore) pushLocked(e TaskEvent) {
	if len(s.tail) >= tailCap {
		s.tail = slices.Delete(s.tail, 0, len(s.tail)-tailCap+1)
	}
	s.tail = append(s.tail, e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendTaskEvent(ctx context.Context, e TaskEvent) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(e); err != nil {
		return err
	}
	s.pushLocked(e)
	return nil
}

func (s *fileStore) RecentTaskEvents(ctx context.Context, limit int) ([]TaskEvent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	n := min(max(limit, 0), len(s.tail))
	out := make([]TaskEvent, 0, n)
	for i := len(s.tail) - 1; i >= len(s.tail)-n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

// Prune rewrites the events file without the events older than before.
func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	src, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	tmp := s.path + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = src.Close()
		return 0, err
	}

	var removed, malformed int64
	w := bufio.NewWriter(dst)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		// Malformed lines are kept; only events known to be old are pruned.
		var e TaskEvent
		if err := json.Unmarshal(line, &e); err != nil {
			malformed++
		} else if e.At.Before(before) {
			removed++
			continue
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	_ = src.Close()
	if malformed > 0 {
		s.log.Warn("history prune kept malformed lines", logx.String("path", s.path), logx.Int64("lines", malformed))
	}
	if err := sc.Err(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := dst.Close(); err != nil {
		return 0, err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		s.f, _ = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return 0, err
	}
	s.f = f
	s.tail = slices.DeleteFunc(s.tail, func(e TaskEvent) bool { return e.At.Before(before) })
	return removed, nil
}
