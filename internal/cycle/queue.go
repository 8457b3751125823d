package cycle

import (
	"sync"
	"time"

	"cyclekit/internal/eventbus"
	logx "cyclekit/pkg/logx"
)

const (
	// DefaultBudget is the per-cycle time budget, and also its upper bound.
	DefaultBudget = 50 * time.Millisecond
	// DefaultMaxIdleCycles is how many empty cycles a queue tolerates before suspending.
	DefaultMaxIdleCycles = 200
)

// QueueConsumer executes items drained from a queue on the main cycle.
type QueueConsumer[T any] interface {
	Execute(item T)
}

// Ticker is an optional QueueConsumer capability: Tick runs once at the start
// of every cycle, before any item is executed.
type Ticker interface {
	Tick()
}

// ConsumerFunc adapts a function to QueueConsumer.
type ConsumerFunc[T any] func(item T)

func (f ConsumerFunc[T]) Execute(item T) { f(item) }

// QueueOptions are the tunables shared by every queue-backed component.
type QueueOptions struct {
	Name          string
	Budget        time.Duration
	MaxIdleCycles int
}

// QueueConfig configures a BoundedQueue.
//
// Admit decides whether the head item may run this cycle; nil admits
// everything. Queue defaults to a FIFO.
type QueueConfig[T any] struct {
	QueueOptions
	Admit func(item T) bool
	Queue Queue[T]
}

// NormalizeBudget maps d into (0, DefaultBudget]. Non-positive values select the default.
func NormalizeBudget(d time.Duration) time.Duration {
	if d <= 0 || d > DefaultBudget {
		return DefaultBudget
	}
	return d
}

func normalizeMaxIdle(n int) int {
	if n <= 0 {
		return DefaultMaxIdleCycles
	}
	return n
}

// QueueSnapshot is a point-in-time view of a queue for diagnostics.
type QueueSnapshot struct {
	Name           string        `json:"name"`
	State          string        `json:"state"`
	Len            int           `json:"len"`
	Idle           int           `json:"idle"`
	Budget         time.Duration `json:"budget"`
	MaxIdleCycles  int           `json:"max_idle_cycles"`
	Cycles         uint64        `json:"cycles"`
	Executed       uint64        `json:"executed"`
	Failed         uint64        `json:"failed"`
	LastCycleItems int           `json:"last_cycle_items"`
	LastCycleCost  time.Duration `json:"last_cycle_cost"`
}

// BoundedQueue drains a queue on the main cycle under a time budget.
//
// The queue registers itself with the host on the first Enqueue and suspends
// after MaxIdleCycles consecutive cycles that end empty, so an idle queue
// costs nothing. Items run outside the lock and may enqueue more work.
type BoundedQueue[T comparable] struct {
	env      Env
	name     string
	life     *Lifecycle
	consumer QueueConsumer[T]
	ticker   Ticker
	admit    func(T) bool

	mu      sync.Mutex
	queue   Queue[T]
	closed  bool
	idle    int
	budget  time.Duration
	maxIdle int

	cycles    uint64
	executed  uint64
	failed    uint64
	lastItems int
	lastCost  time.Duration
}

func NewBoundedQueue[T comparable](env Env, consumer QueueConsumer[T], cfg QueueConfig[T]) *BoundedQueue[T] {
	env = env.normalize()
	q := &BoundedQueue[T]{
		env:      env,
		name:     cfg.Name,
		consumer: consumer,
		admit:    cfg.Admit,
		queue:    cfg.Queue,
		budget:   NormalizeBudget(cfg.Budget),
		maxIdle:  normalizeMaxIdle(cfg.MaxIdleCycles),
	}
	if q.name == "" {
		q.name = "queue"
	}
	if q.queue == nil {
		q.queue = NewFIFO[T]()
	}
	if t, ok := consumer.(Ticker); ok {
		q.ticker = t
	}
	q.life = NewLifecycle(env, q.name, q.runCycle)
	return q
}

func (q *BoundedQueue[T]) Name() string  { return q.name }
func (q *BoundedQueue[T]) State() State  { return q.life.State() }
func (q *BoundedQueue[T]) Running() bool { return q.life.Running() }
func (q *BoundedQueue[T]) Active() bool  { return q.life.Active() }

func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}

// Enqueue adds item and arms the queue. It returns false after Shutdown.
func (q *BoundedQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue.Push(item)
	q.idle = 0
	q.mu.Unlock()

	q.life.Schedule()
	return true
}

// Remove drops the first pending occurrence of item.
func (q *BoundedQueue[T]) Remove(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.RemoveFunc(func(x T) bool { return x == item }, 1) == 1
}

// RemoveIf drops every pending item matching pred and returns the count.
func (q *BoundedQueue[T]) RemoveIf(pred func(T) bool) int {
	if pred == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.RemoveFunc(pred, -1)
}

// Apply changes the budget and idle threshold; it takes effect next cycle.
func (q *BoundedQueue[T]) Apply(budget time.Duration, maxIdleCycles int) {
	q.mu.Lock()
	q.budget = NormalizeBudget(budget)
	q.maxIdle = normalizeMaxIdle(maxIdleCycles)
	q.mu.Unlock()
}

// Shutdown makes the queue Inactive and runs every pending item before returning.
func (q *BoundedQueue[T]) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := make([]T, 0, q.queue.Len())
	for {
		item, ok := q.queue.Pop()
		if !ok {
			break
		}
		pending = append(pending, item)
	}
	q.mu.Unlock()

	q.life.Shutdown()
	if len(pending) > 0 {
		q.env.Log.Debug("draining queue on shutdown", logx.String("name", q.name), logx.Int("items", len(pending)))
	}
	for _, item := range pending {
		q.execute(item)
	}
}

func (q *BoundedQueue[T]) Snapshot() QueueSnapshot {
	state := q.life.State()
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueSnapshot{
		Name:           q.name,
		State:          state.String(),
		Len:            q.queue.Len(),
		Idle:           q.idle,
		Budget:         q.budget,
		MaxIdleCycles:  q.maxIdle,
		Cycles:         q.cycles,
		Executed:       q.executed,
		Failed:         q.failed,
		LastCycleItems: q.lastItems,
		LastCycleCost:  q.lastCost,
	}
}

func (q *BoundedQueue[T]) runCycle() {
	if q.ticker != nil {
		if err := Guard(q.ticker.Tick); err != nil {
			q.env.fail(eventbus.TypeTaskFailed, q.name, "queue tick failed", err)
		}
	}

	q.mu.Lock()
	budget := q.budget
	q.mu.Unlock()

	start := q.env.Clock.Now()
	var elapsed time.Duration
	n := 0
	for elapsed < budget {
		// Stop early when one more item of average cost would overrun the budget.
		if n > 0 && elapsed+elapsed/time.Duration(n) > budget {
			break
		}
		item, ok := q.next()
		if !ok {
			break
		}
		q.execute(item)
		n++
		elapsed = q.env.Clock.Now().Sub(start)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.cycles++
	q.lastItems = n
	q.lastCost = elapsed
	if q.queue.Len() > 0 || q.closed {
		return
	}
	q.idle++
	if q.idle >= q.maxIdle {
		// Cancel under q.mu so a concurrent Enqueue either lands before the
		// emptiness check or re-arms after the cancel.
		q.life.Cancel()
	}
}

// next pops the head when it is admitted.
func (q *BoundedQueue[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	head, ok := q.queue.Peek()
	if !ok {
		return zero, false
	}
	if q.admit != nil && !q.admit(head) {
		return zero, false
	}
	return q.queue.Pop()
}

func (q *BoundedQueue[T]) execute(item T) {
	err := Guard(func() { q.consumer.Execute(item) })
	q.mu.Lock()
	q.executed++
	if err != nil {
		q.failed++
	}
	q.mu.Unlock()
	if err != nil {
		q.env.fail(eventbus.TypeTaskFailed, q.name, "queued task failed", err)
	}
}
