// Package userqueue implements the FIFO of synthetic readiness events that
// backs a Notifier: events queued by notify() and drained by the poller on
// every Poll pass, ahead of OS-sourced events (spec.md §4.2, §9 "user-space
// source precedence").
package userqueue

import (
	"github.com/thomasdezeeuw/mio/internal/locker"
)

// Event is the minimal (id, readiness) pair the core needs; it is defined
// here rather than imported from the root package to keep this package free
// of a dependency cycle (the root package depends on this one, not the
// other way around).
type Event struct {
	Id        uint64
	Readiness uint8
}

// Queue is a FIFO of pending synthetic events. The hot path (single
// polling goroutine draining) never contends; the cross-thread path
// (Push from a Notifier) is a short critical section, so a spinlock
// (internal/locker) is enough per spec.md §5's "lightweight mutual
// exclusion primitive".
type Queue struct {
	mu     locker.Locker
	events []Event
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push appends an event. Safe to call from any goroutine.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Len reports the number of pending events. Safe to call from any
// goroutine, though the result may be stale by the time it's read.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.events)
	q.mu.Unlock()
	return n
}

// Drain moves up to max pending events out of the queue, in FIFO order, and
// returns them. Remaining events (beyond max) stay queued for the next
// Drain call, per spec.md §4.2's "drain is bounded by the sink's remaining
// capacity".
func (q *Queue) Drain(max int) []Event {
	if max <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	n := len(q.events)
	if n > max {
		n = max
	}
	out := make([]Event, n)
	copy(out, q.events[:n])
	remaining := len(q.events) - n
	if remaining > 0 {
		copy(q.events, q.events[n:])
	}
	q.events = q.events[:remaining]
	return out
}
