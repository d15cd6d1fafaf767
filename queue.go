package mlcb

// queue is bounded FIFO queue. Enqueue fails when queue is full.
type queue[T any] struct {
	items  []T
	length int
}

func newQueue[T any](length int) *queue[T] {
	return &queue[T]{
		items:  make([]T, 0, length),
		length: length,
	}
}

func (q *queue[T]) Enqueue(item T) bool {
	if len(q.items) == q.length {
		return false
	}
	q.items = append(q.items, item)
	return true
}

func (q *queue[T]) Dequeue() (T, bool) {
	var empty T
	if len(q.items) == 0 {
		return empty, false
	}
	value := q.items[0]

	q.items[0] = empty

	q.items = q.items[1:]
	return value, true
}

func (q *queue[T]) Len() int {
	return len(q.items)
}

func (q *queue[T]) Clear() {
	var empty T
	for i := range q.items {
		q.items[i] = empty
	}
	q.items = q.items[:0]
}
