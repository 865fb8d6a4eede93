package queue

import "fmt"

// Bounded is a fixed-capacity FIFO. Pushing onto a full queue evicts the
// oldest entry first, so the newest arrival always fits and Len never exceeds
// Cap. It is not safe for concurrent use.
type Bounded[T any] struct {
	items []T
	head  int
	size  int
}

func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("queue: capacity must be positive, got %d", capacity))
	}
	return &Bounded[T]{items: make([]T, capacity)}
}

func (q *Bounded[T]) Len() int    { return q.size }
func (q *Bounded[T]) Cap() int    { return len(q.items) }
func (q *Bounded[T]) Empty() bool { return q.size == 0 }
func (q *Bounded[T]) Full() bool  { return q.size == len(q.items) }

// Push appends v at the tail. When the queue is full the front entry is
// dropped and returned with evicted=true.
func (q *Bounded[T]) Push(v T) (dropped T, evicted bool) {
	if q.Full() {
		dropped, _ = q.PopFront()
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	return dropped, evicted
}

func (q *Bounded[T]) PopFront() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v, true
}

// Front returns a pointer to the oldest entry so callers can update it in
// place. The pointer is invalidated by the next Push or PopFront.
func (q *Bounded[T]) Front() (*T, bool) {
	if q.size == 0 {
		return nil, false
	}
	return &q.items[q.head], true
}

// Each visits entries front to back with mutable access.
func (q *Bounded[T]) Each(fn func(*T)) {
	for i := 0; i < q.size; i++ {
		fn(&q.items[(q.head+i)%len(q.items)])
	}
}

// Items copies the entries front to back.
func (q *Bounded[T]) Items() []T {
	out := make([]T, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	return out
}

func (q *Bounded[T]) Clear() {
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.size = 0
}
