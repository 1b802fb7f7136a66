package mio

import (
	"go.uber.org/atomic"

	"github.com/thomasdezeeuw/mio/internal/userqueue"
)

// registrationState is the cyclic Registration/Notifier pair's shared
// state (spec.md §9 "Cyclic references"): a closed flag, owned jointly by
// both sides. Destroying the Registration sets closed, after which further
// Notify calls become no-ops instead of pushing into a queue nobody drains
// anymore. Readiness itself is not held here: it is carried entirely by the
// userqueue.Event pushed on each Notify, so a drain never has to reconcile
// a separately-stored word against the queued event.
type registrationState struct {
	closed atomic.Bool
}

// Registration is the user-owned half of a paired synthetic event source
// (spec.md §4.2). It does not itself get Register-ed into the OS queue's
// fd table; instead its bound EventId is what the paired Notifier tags
// every enqueued event with, and the OsQueue's own user-space queue is
// what delivers them.
type Registration struct {
	id    EventId
	state *registrationState
}

// Notifier is the cloneable, cross-thread-safe half of the pair. It may be
// handed to other goroutines; calling Notify from any of them is safe.
type Notifier struct {
	id    EventId
	state *registrationState
	queue *userqueue.Queue
	wake  func() error
}

// NewRegistration creates a paired Registration and Notifier bound to id
// and backed by q's user-space queue and awakener.
func NewRegistration(q *OsQueue, id EventId) (*Registration, *Notifier) {
	state := &registrationState{}
	reg := &Registration{id: id, state: state}
	notifier := &Notifier{id: id, state: state, queue: q.userQueue, wake: q.wakeForNotify}
	return reg, notifier
}

// Id returns the EventId this pair is bound to.
func (r *Registration) Id() EventId { return r.id }

// Close invalidates the registration: subsequent Notify calls on the
// paired Notifier silently do nothing.
func (r *Registration) Close() error {
	r.state.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (r *Registration) Closed() bool {
	return r.state.closed.Load()
}

// Clone returns a new Notifier sharing the same state, safe to hand to
// another goroutine independently of this one.
func (n *Notifier) Clone() *Notifier {
	return &Notifier{id: n.id, state: n.state, queue: n.queue, wake: n.wake}
}

// Notify enqueues a synthetic event (bound id, readiness) for the next
// poll pass and, if a consumer may be blocked in Select, wakes it. A
// no-op once the paired Registration has been closed.
func (n *Notifier) Notify(readiness Ready) error {
	if n.state.closed.Load() {
		return nil
	}
	n.queue.Push(userqueue.Event{Id: uint64(n.id), Readiness: uint8(readiness)})
	if n.wake == nil {
		return nil
	}
	return n.wake()
}
