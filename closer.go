package mio

import "github.com/thomasdezeeuw/mio/internal/safejob"

// closer guards the two concurrency-sensitive transitions on an OsQueue:
// only one goroutine may be inside Select at a time (spec.md §5's "exactly
// one thread may be inside select on a given OS queue"), and Close must be
// idempotent and must not race a Select already in flight. Modeled after
// the teacher's closer.go, trimmed to the two jobs this queue actually
// needs instead of the connection's five-job read/write/ctrl matrix.
type closer struct {
	selectJob safejob.ExclusiveBlockJob
	closeJob  safejob.OnceJob
}

// beginSelect reports whether a Select call may proceed; it blocks until
// any other Select on the same queue has finished.
func (c *closer) beginSelect() bool {
	return c.selectJob.Begin()
}

func (c *closer) endSelect() {
	c.selectJob.End()
}

// beginClose reports whether this call is the one that should actually
// close the queue; subsequent calls return false. It blocks until any
// Select already in flight has finished and marks the select job closed,
// so the kernel handles are never closed out from under a blocked Select
// and every beginSelect call afterward, on any goroutine, returns false.
func (c *closer) beginClose() bool {
	c.selectJob.Close()
	return c.closeJob.Begin()
}

func (c *closer) closed() bool {
	return c.closeJob.Closed()
}
