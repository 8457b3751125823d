package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the cycle runtime.
const (
	TypeCycleScheduled    = "cycle.scheduled"
	TypeCycleSuspended    = "cycle.suspended"
	TypeCycleShutdown     = "cycle.shutdown"
	TypeTaskFailed        = "task.failed"
	TypeFutureRejected    = "future.rejected"
	TypeIterationFinished = "iteration.finished"
)

// Event is a lightweight, in-memory signal used to decouple the cycle runtime
// from its observers (history recorder, diagnostics).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels; slow subscribers drop events.
//
// Source names the component that emitted the event (queue or task name).
type Event struct {
	Type   string
	Source string
	Time   time.Time
	Data   any
}

// TaskFailure is the Data payload of task.failed and future.rejected events.
type TaskFailure struct {
	Error string `json:"error"`
	Panic bool   `json:"panic,omitempty"`
	Stack string `json:"stack,omitempty"`
}

// IterationStats is the Data payload of iteration.finished events.
type IterationStats struct {
	Processed int64         `json:"processed"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Sends happen under the read lock, so closing under the write lock is safe.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Stats reports publish/drop counters for a bus created by New.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// StatsOf returns counters for b, or zero Stats for foreign Bus implementations.
func StatsOf(b Bus) Stats {
	mb, ok := b.(*memBus)
	if !ok {
		return Stats{}
	}
	mb.mu.RLock()
	n := len(mb.subs)
	mb.mu.RUnlock()
	return Stats{Published: mb.published.Load(), Dropped: mb.dropped.Load(), Subscribers: n}
}
