// Package metrics provides lightweight runtime counters for the event
// queue, in the spirit of tuning data rather than a full observability
// stack: how often select blocked versus returned immediately, how many
// events it produced, and how often a wake was coalesced away.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// SelectCalls counts calls into the backend's blocking wait syscall
	// (kevent/epoll_wait) that actually blocked (non-zero timeout).
	SelectCalls = iota
	// SelectNoWaitCalls counts calls made with a zero timeout.
	SelectNoWaitCalls
	// SelectEvents counts the total number of OS-sourced events returned.
	SelectEvents
	// WakeCalls counts calls to Awakener.Wake.
	WakeCalls
	// WakeCoalesced counts Wake calls that found a wake already pending and
	// were coalesced into it instead of issuing a fresh syscall.
	WakeCoalesced
	// UserEventsDrained counts synthetic events drained from the user-space
	// queue across all Poll calls.
	UserEventsDrained
	// TimersExpired counts deadlines popped as TIMER events.
	TimersExpired
	Max
)

var metricValues [Max]atomic.Uint64

// Add adds delta to the named counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metricValues[name].Add(delta)
}

// Get returns the current value of the named counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metricValues[name].Load()
}

// GetAll returns a snapshot of every counter.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metricValues {
		m[i] = metricValues[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod blocks for d and then prints the delta of every
// counter observed over that period.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	latest := GetAll()
	var m [Max]uint64
	for i := range metricValues {
		m[i] = latest[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics prints the current value of every counter.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### mio metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-59s: %d\n", "# number of blocking select calls", m[SelectCalls])
	fmt.Printf("%-59s: %d\n", "# number of zero-timeout select calls", m[SelectNoWaitCalls])
	fmt.Printf("%-59s: %d\n", "# number of OS-sourced events returned", m[SelectEvents])
	if total := m[SelectCalls] + m[SelectNoWaitCalls]; total > 0 {
		fmt.Printf("%-59s: %.2f\n", "# average events per select call", float64(m[SelectEvents])/float64(total))
	}
	fmt.Printf("%-59s: %d\n", "# number of Wake calls", m[WakeCalls])
	fmt.Printf("%-59s: %d\n", "# number of Wake calls coalesced", m[WakeCoalesced])
	fmt.Printf("%-59s: %d\n", "# number of user-space events drained", m[UserEventsDrained])
	fmt.Printf("%-59s: %d\n", "# number of timers expired", m[TimersExpired])
	fmt.Printf("\n")
}
