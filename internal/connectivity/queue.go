package connectivity

import "sync"

// transitionQueue is a thread-safe FIFO of transitions.
//
// The queue is unbounded so a slow subscriber never blocks the monitor's
// writers. A buffered signal channel of size one lets readers wait with a
// context instead of polling.
type transitionQueue struct {
	mu     sync.Mutex
	items  []Transition
	closed bool
	signal chan struct{}
}

func newTransitionQueue() *transitionQueue {
	return &transitionQueue{
		items:  make([]Transition, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a transition. Returns false if the queue is closed.
func (q *transitionQueue) Enqueue(t Transition) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, t)

	// Coalesce: one pending signal is enough to wake a reader.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the front transition without blocking.
func (q *transitionQueue) TryDequeue() (Transition, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Transition{}, false
	}

	t := q.items[0]
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return t, true
}

// Wait returns a channel that fires when transitions may be available.
// It is closed when the queue is closed.
func (q *transitionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued transitions.
func (q *transitionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes all waiters.
func (q *transitionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
