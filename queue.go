package mio

import (
	"time"

	"go.uber.org/atomic"

	"github.com/thomasdezeeuw/mio/internal/deadline"
	"github.com/thomasdezeeuw/mio/internal/selector"
	"github.com/thomasdezeeuw/mio/internal/userqueue"
	"github.com/thomasdezeeuw/mio/metrics"
)

// defaultEventCap is the default cap on OS-sourced events requested per
// Poll call, matching the original crate's EVENTS_CAP and spec.md's "≤256
// per call".
const defaultEventCap = selector.EventsCap

// awakenerId is the sentinel selector.Id reserved for the awakener's own
// synthetic event. Every backend event carrying this id is filtered out of
// the Poll result, so OS events of a registration that uses
// EventId(^uint64(0)) are never delivered to the caller.
const awakenerId selector.Id = ^selector.Id(0)

// OsQueue is the core event queue: a kernel demultiplexer (kqueue or
// epoll), a user-space event queue, and a deadline heap, combined under a
// single Poll call per spec.md §2's data/control flow.
type OsQueue struct {
	sel         selector.Selector
	awakenerSel selector.Selector
	userQueue   *userqueue.Queue
	deadlines   *deadline.Heap
	closer      closer
	cfg         config
	wakePending atomic.Bool
	eventBuf    []selector.Event
}

// NewOsQueue creates an OsQueue backed by a fresh kernel demultiplexer.
func NewOsQueue(opts ...Option) (*OsQueue, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sel, err := selector.New()
	if err != nil {
		return nil, &Error{Kind: classifySelectorErr(err), Op: "NewOsQueue", Err: err}
	}
	// The awakener is armed on sel itself, since sel.Select is what actually
	// blocks; awakenerSel is a duplicate fd over the same underlying kernel
	// queue used only so Wake can be called from another goroutine without
	// racing the Go-level Selector value a blocked Select is using.
	if err := sel.SetupAwakener(awakenerId); err != nil {
		sel.Close()
		return nil, &Error{Kind: classifySelectorErr(err), Op: "NewOsQueue", Err: err}
	}
	awakenerSel, err := sel.Duplicate()
	if err != nil {
		sel.Close()
		return nil, &Error{Kind: classifySelectorErr(err), Op: "NewOsQueue", Err: err}
	}

	return &OsQueue{
		sel:         sel,
		awakenerSel: awakenerSel,
		userQueue:   userqueue.New(),
		deadlines:   deadline.New(),
		cfg:         cfg,
		eventBuf:    make([]selector.Event, 0, cfg.eventCap),
	}, nil
}

// Register arms fd, reporting events tagged id.
func (q *OsQueue) Register(fd int, id EventId, interests Interests, opt RegisterOption) error {
	if err := q.sel.Register(fd, selector.Id(id), toSelectorInterests(interests), toSelectorOption(opt)); err != nil {
		return &Error{Kind: classifySelectorErr(err), Op: "Register", Err: err}
	}
	return nil
}

// Reregister replaces fd's interests/option, keeping the "replace on
// re-register" invariant (spec.md invariant 3): only id's events are
// delivered for fd afterward.
func (q *OsQueue) Reregister(fd int, id EventId, interests Interests, opt RegisterOption) error {
	if err := q.sel.Reregister(fd, selector.Id(id), toSelectorInterests(interests), toSelectorOption(opt)); err != nil {
		return &Error{Kind: classifySelectorErr(err), Op: "Reregister", Err: err}
	}
	return nil
}

// Deregister stops watching fd. Deregistering an already-deregistered or
// never-registered fd silently succeeds (spec.md invariant).
func (q *OsQueue) Deregister(fd int) error {
	if err := q.sel.Deregister(fd); err != nil {
		return &Error{Kind: classifySelectorErr(err), Op: "Deregister", Err: err}
	}
	return nil
}

// AddDeadline schedules id to emit a TIMER event at when.
func (q *OsQueue) AddDeadline(id EventId, when time.Time) error {
	q.deadlines.Add(uint64(id), when)
	return nil
}

// RemoveDeadline cancels every pending deadline for id.
func (q *OsQueue) RemoveDeadline(id EventId) error {
	q.deadlines.Remove(uint64(id))
	return nil
}

// Close releases the kernel handles. Safe to call more than once; only the
// first call does any work. Errors from the underlying close are logged
// and swallowed, per spec.md §4.1's "close of the kernel handle on drop
// logs and swallows errors: there is no safe recovery".
func (q *OsQueue) Close() error {
	if !q.closer.beginClose() {
		return nil
	}
	if err := q.awakenerSel.Close(); err != nil {
		q.cfg.logger.Errorf("mio: closing awakener handle: %v", err)
	}
	if err := q.sel.Close(); err != nil {
		q.cfg.logger.Errorf("mio: closing queue handle: %v", err)
	}
	return nil
}

// wakeForNotify is called by a Notifier after pushing an event; it
// coalesces bursts of notifications into at most one extra wake-up before
// the next Poll returns, via a CAS guard mirroring the teacher's
// Trigger/notified pattern.
func (q *OsQueue) wakeForNotify() error {
	if !q.wakePending.CAS(false, true) {
		metrics.Add(metrics.WakeCoalesced, 1)
		return nil
	}
	if err := q.awakenerSel.Wake(awakenerId); err != nil {
		q.cfg.logger.Errorf("mio: waking queue: %v", err)
		return &Error{Kind: classifySelectorErr(err), Op: "Notify", Err: err}
	}
	return nil
}

// Poll performs one full pass of spec.md §2's data/control flow: drain
// pending user-space events into sink until capacity is exhausted, compute
// an effective timeout that also accounts for the earliest deadline and
// whether user-space events were already produced, block in the backend's
// select for at most that timeout, translate and append OS-sourced events,
// then pop and append any now-expired deadlines as TIMER events.
func (q *OsQueue) Poll(sink Sink, timeout time.Duration) error {
	if !q.closer.beginSelect() {
		return &Error{Kind: KindIo, Op: "Poll", Err: errClosed}
	}
	defer q.closer.endSelect()

	now := timeNow()
	userDrained := q.drainUserEvents(sink)

	effTimeout := timeout
	if userDrained > 0 {
		effTimeout = 0
	}
	if when, ok := q.deadlines.Peek(); ok {
		d := when.Sub(now)
		if d < 0 {
			d = 0
		}
		// A negative effTimeout means "block indefinitely"; any deadline
		// clamps that, same as an effTimeout that's simply larger than d.
		if effTimeout < 0 || d < effTimeout {
			effTimeout = d
		}
	}

	if remaining(sink) != 0 {
		if err := q.pollBackend(sink, effTimeout); err != nil {
			return err
		}
	}

	q.popDeadlines(sink, timeNow())
	return nil
}

// NextEventAvailable implements Source: it reports 0 if user-space events
// are already queued, otherwise the time until the earliest deadline, if
// any.
func (q *OsQueue) NextEventAvailable() (time.Duration, bool) {
	if q.userQueue.Len() > 0 {
		return 0, true
	}
	if when, ok := q.deadlines.Peek(); ok {
		d := when.Sub(timeNow())
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func (q *OsQueue) drainUserEvents(sink Sink) int {
	n := remaining(sink)
	if n == 0 {
		return 0
	}
	max := n
	if max < 0 {
		max = q.userQueue.Len()
	}
	events := q.userQueue.Drain(max)
	for _, e := range events {
		sink.Add(NewEvent(EventId(e.Id), Ready(e.Readiness)))
	}
	if len(events) > 0 {
		metrics.Add(metrics.UserEventsDrained, uint64(len(events)))
	}
	return len(events)
}

func (q *OsQueue) pollBackend(sink Sink, timeout time.Duration) error {
	n := remaining(sink)
	max := defaultEventCap
	if n >= 0 && n < max {
		max = n
	}
	if q.cfg.eventCap < max {
		max = q.cfg.eventCap
	}
	if max <= 0 {
		return nil
	}

	var t *time.Duration
	if timeout >= 0 {
		t = &timeout
	}

	buf := q.eventBuf[:0]
	events, err := q.sel.Select(buf, max, t)
	if err != nil {
		return &Error{Kind: classifySelectorErr(err), Op: "Poll", Err: err}
	}
	q.eventBuf = events[:0]

	for _, e := range events {
		if e.Id == awakenerId {
			q.wakePending.Store(false)
			continue
		}
		sink.Add(NewEvent(EventId(e.Id), toReady(e.Readiness)))
	}
	return nil
}

func (q *OsQueue) popDeadlines(sink Sink, now time.Time) {
	n := remaining(sink)
	for n != 0 {
		id, ok := q.deadlines.PopExpired(now)
		if !ok {
			break
		}
		sink.Add(NewEvent(EventId(id), Timer))
		metrics.Add(metrics.TimersExpired, 1)
		if n > 0 {
			n--
		}
	}
}

// remaining reports a sink's remaining capacity, with -1 meaning growable
// (unbounded).
func remaining(sink Sink) int {
	return sink.CapacityLeft().Remaining()
}

func toSelectorInterests(i Interests) selector.Interests {
	var out selector.Interests
	if i.IsReadable() {
		out |= selector.InterestReadable
	}
	if i.IsWritable() {
		out |= selector.InterestWritable
	}
	return out
}

func toSelectorOption(opt RegisterOption) selector.Option {
	switch opt {
	case Edge:
		return selector.Edge
	case Oneshot:
		return selector.Oneshot
	default:
		return selector.Level
	}
}

func toReady(r selector.Ready) Ready {
	var out Ready
	if r&selector.Readable != 0 {
		out |= Readable
	}
	if r&selector.Writable != 0 {
		out |= Writable
	}
	if r&selector.Error != 0 {
		out |= Error
	}
	if r&selector.Hup != 0 {
		out |= Hup
	}
	return out
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// flakiness beyond what time.Now already offers; kept as a plain alias
// rather than an injectable field since nothing in this package needs to
// fake time.
func timeNow() time.Time {
	return time.Now()
}
