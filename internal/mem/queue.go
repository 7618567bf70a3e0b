package mem

// RingQueue is a growable circular FIFO buffer.
//
// It performs no locking. The engine pushes and the host pops, both under the
// host mutex.
type RingQueue[T any] struct {
	items []T
	start int
	count int
}

// NewRingQueue creates a queue with the given initial capacity.
func NewRingQueue[T any](capacity int) *RingQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingQueue[T]{items: make([]T, capacity)}
}

// Push appends item, growing the backing buffer by roughly 1.5x when full.
func (q *RingQueue[T]) Push(item T) {
	if q.count == len(q.items) {
		q.grow()
	}
	q.items[(q.start+q.count)%len(q.items)] = item
	q.count++
}

// Pop removes and returns the oldest item. ok is false if the queue is empty.
func (q *RingQueue[T]) Pop() (item T, ok bool) {
	if q.count == 0 {
		return item, false
	}
	var zero T
	item = q.items[q.start]
	q.items[q.start] = zero
	q.start = (q.start + 1) % len(q.items)
	q.count--
	return item, true
}

// Len returns the number of queued items.
func (q *RingQueue[T]) Len() int { return q.count }

// Cap returns the current capacity of the backing buffer.
func (q *RingQueue[T]) Cap() int { return len(q.items) }

func (q *RingQueue[T]) grow() {
	n := len(q.items) + len(q.items)/2
	if n <= len(q.items) {
		n = len(q.items) + 1
	}
	items := make([]T, n)
	// Unwrap so the oldest item lands at index 0.
	k := copy(items, q.items[q.start:])
	copy(items[k:], q.items[:q.start])
	q.items = items
	q.start = 0
}
