package work

import (
	"time"

	"workyard/internal/task/job"
)

type invocation struct {
	job        job.Invoker
	args       []any
	enqueuedAt time.Time
}

// jobQueue is an unbounded FIFO. It has no lock of its own: every *Locked
// method must be called with the owning Pool's mutex held, so queue depth and
// the worker set are always read under the same critical section.
//
// ready is a single-slot wake token. A push that lands between a waiter's
// empty check and its select leaves the token buffered, so no wakeup is lost.
type jobQueue struct {
	items  []invocation
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *jobQueue) pushLocked(inv invocation) {
	q.items = append(q.items, inv)
}

func (q *jobQueue) popLocked() (invocation, bool) {
	if len(q.items) == 0 {
		return invocation{}, false
	}
	inv := q.items[0]
	q.items[0] = invocation{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return inv, true
}

func (q *jobQueue) lenLocked() int { return len(q.items) }

// clearLocked drops pending invocations and returns how many were dropped.
func (q *jobQueue) clearLocked() int {
	n := len(q.items)
	q.items = nil
	return n
}

func (q *jobQueue) closeLocked() int {
	if q.closed {
		return 0
	}
	q.closed = true
	close(q.done)
	return q.clearLocked()
}

func (q *jobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
