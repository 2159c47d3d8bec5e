package session

import "sync"

// queue is an unbounded FIFO. push never blocks, so neither the capture
// driver nor the dispatch loop can be stalled by a slow consumer.
type queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	closed bool
	ready  chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()
	q.signal()
}

// close discards anything still queued and wakes the consumer.
func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.signal()
}

// take returns everything queued in push order without blocking.
func (q *queue[T]) take() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

// next blocks until items are available and returns all of them in push
// order. It reports false once the queue is closed.
func (q *queue[T]) next() ([]T, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.buf) > 0 {
			out := q.buf
			q.buf = nil
			q.mu.Unlock()
			return out, true
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
