package executor

import "sync"

// Queue is an unbounded FIFO with a single consumer. Every pushed item counts
// as pending work on the executor until the consumer calls Done for it.
type Queue[T any] struct {
	ex     *Executor
	latest bool

	mu     sync.Mutex
	items  []T
	ends   []func()
	ready  chan struct{}
	closed bool
}

func NewQueue[T any](ex *Executor) *Queue[T] {
	return &Queue[T]{ex: ex, ready: make(chan struct{}, 1)}
}

// NewLatest returns a queue that holds at most one item: pushing while an item
// is pending replaces it.
func NewLatest[T any](ex *Executor) *Queue[T] {
	q := NewQueue[T](ex)
	q.latest = true
	return q
}

// Push enqueues v and reports false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.latest && len(q.items) > 0 {
		q.items[0] = v
		return true
	}
	q.items = append(q.items, v)
	q.ends = append(q.ends, q.ex.Begin())
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready fires when items may be available.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// TryPop removes the oldest item. The caller owns the returned done func.
func (q *Queue[T]) TryPop() (T, func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, nil, false
	}
	v, end := q.items[0], q.ends[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.ends = q.ends[1:]
	if len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return v, end, true
}

// Close drops pending items and releases their accounting.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	ends := q.ends
	q.items, q.ends = nil, nil
	q.closed = true
	q.mu.Unlock()
	for _, end := range ends {
		end()
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
