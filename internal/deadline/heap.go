// Package deadline provides a min-heap of (instant, id) pairs used to clamp
// a poll timeout to the earliest pending deadline and to emit expired
// deadlines as timer events.
package deadline

import (
	"container/heap"
	"time"
)

// Entry is a single scheduled deadline.
type Entry struct {
	When time.Time
	Id   uint64
}

type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].When.Before(h[j].When) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of deadlines keyed by instant. It is not safe for
// concurrent use; callers serialize access the same way they serialize
// calls into the OS queue (only the polling goroutine touches it).
type Heap struct {
	h entryHeap
}

// New creates an empty Heap.
func New() *Heap {
	return &Heap{}
}

// Add schedules id to expire at when.
func (d *Heap) Add(id uint64, when time.Time) {
	heap.Push(&d.h, Entry{When: when, Id: id})
}

// Remove cancels every pending deadline for id. A linear scan is acceptable
// at this scale per spec.md §4.4; deadlines are rebuilt via heap.Init after
// the removal so the heap invariant holds for the next Add/Peek/PollExpired.
func (d *Heap) Remove(id uint64) {
	filtered := d.h[:0:0]
	for _, e := range d.h {
		if e.Id != id {
			filtered = append(filtered, e)
		}
	}
	d.h = filtered
	heap.Init(&d.h)
}

// Peek reports the earliest pending deadline, if any.
func (d *Heap) Peek() (time.Time, bool) {
	if len(d.h) == 0 {
		return time.Time{}, false
	}
	return d.h[0].When, true
}

// PollExpired pops every entry whose deadline is on or before now and
// invokes emit for each, in earliest-first order.
func (d *Heap) PollExpired(now time.Time, emit func(id uint64)) {
	for len(d.h) > 0 && !d.h[0].When.After(now) {
		e := heap.Pop(&d.h).(Entry)
		emit(e.Id)
	}
}

// PopExpired pops a single entry whose deadline is on or before now, if any.
// Callers that must respect a sink capacity (spec.md §8 invariant 5) drive
// this one at a time instead of PollExpired, stopping as soon as the sink
// reports no room left.
func (d *Heap) PopExpired(now time.Time) (id uint64, ok bool) {
	if len(d.h) == 0 || d.h[0].When.After(now) {
		return 0, false
	}
	e := heap.Pop(&d.h).(Entry)
	return e.Id, true
}

// Len returns the number of pending deadlines.
func (d *Heap) Len() int {
	return len(d.h)
}
