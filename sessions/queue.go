package sessions

import "sync"

// execQueue is a FIFO ticket lock. Reserve hands out turns in call
// order; each turn becomes ready only after every earlier turn has been
// released. This is the mechanism behind the per-session serialization
// guarantee: the dispatcher reserves a turn synchronously on arrival, so
// arrival order and execution order coincide.
type execQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []*Turn
}

// Turn is one reserved slot in a session's execution queue.
type Turn struct {
	q     *execQueue
	ready chan struct{}

	releaseOnce sync.Once
}

// Reserve claims the next slot in the session's execution queue. It
// never blocks; call Wait on the returned Turn to block until the slot
// is at the front, and Release exactly once when done.
func (s *Session) Reserve() *Turn {
	return s.exec.reserve()
}

func (q *execQueue) reserve() *Turn {
	t := &Turn{q: q, ready: make(chan struct{})}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.busy {
		q.busy = true
		close(t.ready)
		return t
	}
	q.waiters = append(q.waiters, t)
	return t
}

// Wait blocks until the turn is at the front of the queue.
func (t *Turn) Wait() { <-t.ready }

// Ready returns a channel closed when the turn reaches the front.
func (t *Turn) Ready() <-chan struct{} { return t.ready }

// Release hands the queue to the next reserved turn. It is safe to call
// more than once; only the first call has effect. Release must not be
// called before the turn is ready.
func (t *Turn) Release() {
	t.releaseOnce.Do(func() {
		q := t.q
		q.mu.Lock()
		defer q.mu.Unlock()
		if len(q.waiters) > 0 {
			next := q.waiters[0]
			q.waiters = q.waiters[1:]
			close(next.ready)
			return
		}
		q.busy = false
	})
}
