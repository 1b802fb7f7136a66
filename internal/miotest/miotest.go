// Package miotest collects testing helpers shared across this module's
// test files, grounded on original_source/tests/util/mod.rs: a Poll-and-
// compare helper tolerant of sporadic events, a bounded test Sink for
// exercising capacity edge cases, an assertion helper for the error
// taxonomy, and loopback address and dial helpers.
package miotest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thomasdezeeuw/mio"
)

// TimeoutMargin is the allowed slack for deadline-based assertions, matching
// the original test suite's TIMEOUT_MARGIN.
const TimeoutMargin = 50 * time.Millisecond

// AnyLocalAddress returns a loopback address with an OS-assigned port.
func AnyLocalAddress() string {
	return "127.0.0.1:0"
}

// ExpectEvents polls q once with the given timeout and asserts that every
// event in want shows up, matched loosely by id plus "readiness contains
// the expected bits" the way expect_events does in the original test
// utilities; unexpected extra events are tolerated as sporadic.
func ExpectEvents(t *testing.T, q *mio.OsQueue, timeout time.Duration, want []mio.Event) {
	t.Helper()

	sink := mio.NewGrowableSink()
	require.NoError(t, q.Poll(sink, timeout))

	remaining := append([]mio.Event(nil), want...)
	for _, got := range sink.Events() {
		for i, exp := range remaining {
			if got.Id == exp.Id && got.Readiness.Contains(exp.Readiness) {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	require.Emptyf(t, remaining, "expected events not observed: %v (got %v)", remaining, sink.Events())
}

// FixedCapacitySink is an event.Sink stand-in, grounded on the original
// EventsCapacity helper: it records only how many events it was given,
// under a caller-chosen Capacity, for testing how Source implementations
// respect capacity limits.
type FixedCapacitySink struct {
	Cap   mio.Capacity
	Count int
}

// CapacityLeft implements mio.Sink.
func (s *FixedCapacitySink) CapacityLeft() mio.Capacity { return s.Cap }

// Add implements mio.Sink.
func (s *FixedCapacitySink) Add(mio.Event) { s.Count++ }

// AssertErrorKind asserts that err is a *mio.Error with the given Kind.
func AssertErrorKind(t *testing.T, err error, kind mio.Kind) {
	t.Helper()
	require.Error(t, err)
	merr, ok := err.(*mio.Error)
	require.Truef(t, ok, "expected *mio.Error, got %T: %v", err, err)
	require.Equalf(t, kind, merr.Kind, "unexpected error kind, full error: %v", err)
}

// WaitDial dials address repeatedly until it succeeds or deadline elapses,
// useful for synchronising with a listener that was just bound on port 0.
func WaitDial(t *testing.T, network, address string, deadline time.Duration) net.Conn {
	t.Helper()

	end := time.Now().Add(deadline)
	var lastErr error
	for time.Now().Before(end) {
		conn, err := net.DialTimeout(network, address, 50*time.Millisecond)
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("failed to dial %s %s: %v", network, address, lastErr)
	return nil
}
