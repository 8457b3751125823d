package cycle

import "container/heap"

// Queue is the storage behind a BoundedQueue. Implementations need no
// locking of their own; BoundedQueue serializes every call.
type Queue[T any] interface {
	Push(item T)
	Peek() (T, bool)
	Pop() (T, bool)
	Len() int
	// RemoveFunc removes up to limit items matching pred (limit < 0 means all)
	// and returns how many were removed.
	RemoveFunc(pred func(T) bool, limit int) int
}

// FIFO is a first-in first-out Queue.
type FIFO[T any] struct {
	items []T
	head  int
}

func NewFIFO[T any]() *FIFO[T] { return &FIFO[T]{} }

func (q *FIFO[T]) Push(item T) { q.items = append(q.items, item) }

func (q *FIFO[T]) Peek() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

func (q *FIFO[T]) Pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

func (q *FIFO[T]) Len() int { return len(q.items) - q.head }

func (q *FIFO[T]) RemoveFunc(pred func(T) bool, limit int) int {
	kept := q.items[:q.head]
	removed := 0
	for _, it := range q.items[q.head:] {
		if (limit < 0 || removed < limit) && pred(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

// Heap is a priority Queue: Pop returns the least item according to less.
// Items that compare equal come out in no particular order.
type Heap[T any] struct {
	h heapSlice[T]
}

func NewHeap[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{h: heapSlice[T]{less: less}}
}

func (q *Heap[T]) Push(item T) { heap.Push(&q.h, item) }

func (q *Heap[T]) Peek() (T, bool) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, false
	}
	return q.h.items[0], true
}

func (q *Heap[T]) Pop() (T, bool) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&q.h).(T), true
}

func (q *Heap[T]) Len() int { return len(q.h.items) }

func (q *Heap[T]) RemoveFunc(pred func(T) bool, limit int) int {
	kept := q.h.items[:0]
	removed := 0
	for _, it := range q.h.items {
		if (limit < 0 || removed < limit) && pred(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	if removed == 0 {
		return 0
	}
	clear(q.h.items[len(kept):])
	q.h.items = kept
	heap.Init(&q.h)
	return removed
}

type heapSlice[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h heapSlice[T]) Len() int           { return len(h.items) }
func (h heapSlice[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h heapSlice[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapSlice[T]) Push(x any) { h.items = append(h.items, x.(T)) }

func (h *heapSlice[T]) Pop() any {
	n := len(h.items) - 1
	item := h.items[n]
	var zero T
	h.items[n] = zero
	h.items = h.items[:n]
	return item
}
