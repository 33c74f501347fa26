package merger

// fifo is a fixed capacity ring buffer
type fifo[T any] struct {
	items []T
	head  int
	size  int
}

func newFIFO[T any](capacity int) *fifo[T] {
	return &fifo[T]{items: make([]T, capacity)}
}

// Push appends v and reports false when the buffer is full
func (q *fifo[T]) Push(v T) bool {
	if q.size == len(q.items) {
		return false
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	return true
}

// Pop removes the oldest element
func (q *fifo[T]) Pop() (T, bool) {
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

func (q *fifo[T]) Len() int {
	return q.size
}

func (q *fifo[T]) Cap() int {
	return len(q.items)
}

func (q *fifo[T]) Full() bool {
	return q.size == len(q.items)
}
