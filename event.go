package mio

import "fmt"

// EventId is an opaque, caller-chosen identifier attached to a registration.
// It is stable from register to deregister and carried unchanged on every
// Event produced for that registration; the caller is free to reuse values
// once deregistered.
type EventId uint64

// Ready is a bitset describing which I/O conditions are currently true for a
// registered descriptor, or which synthetic condition a user-space or timer
// event represents.
type Ready uint8

// Bits of Ready.
const (
	Readable Ready = 1 << iota
	Writable
	Error
	Hup
	Timer
)

// String implements fmt.Stringer.
func (r Ready) String() string {
	if r == 0 {
		return "(none)"
	}
	var names []string
	for _, b := range []struct {
		bit  Ready
		name string
	}{
		{Readable, "READABLE"},
		{Writable, "WRITABLE"},
		{Error, "ERROR"},
		{Hup, "HUP"},
		{Timer, "TIMER"},
	} {
		if r&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	s := ""
	for i, n := range names {
		if i > 0 {
			s += "|"
		}
		s += n
	}
	return s
}

// Contains returns whether r has all the bits set in other.
func (r Ready) Contains(other Ready) bool {
	return r&other == other
}

// Interests is a bitset of the conditions a registration asks the queue to
// watch for. At least one of Readable or Writable must be set.
type Interests uint8

// Bits of Interests. Only Readable and Writable are valid; combine with |.
const (
	InterestReadable Interests = 1 << iota
	InterestWritable
)

// NewInterests validates and constructs an Interests value. An empty set is
// rejected: spec.md calls this out explicitly as the one synchronous,
// never-retried "invalid input" error (ErrorKind::Invalid), so it is
// reported rather than panicked on — callers routinely build Interests from
// data they didn't fully validate themselves (e.g. a config flag).
func NewInterests(bits Interests) (Interests, error) {
	if bits&(InterestReadable|InterestWritable) == 0 {
		return 0, &Error{Kind: KindInvalid, Op: "NewInterests", Err: fmt.Errorf("interests must set at least one of Readable or Writable")}
	}
	return bits, nil
}

// IsReadable returns whether the Readable bit is set.
func (i Interests) IsReadable() bool { return i&InterestReadable != 0 }

// IsWritable returns whether the Writable bit is set.
func (i Interests) IsWritable() bool { return i&InterestWritable != 0 }

// RegisterOption selects the delivery discipline for a registration. Exactly
// one of Edge, Level or Oneshot applies; Level is the zero value and thus
// the default.
type RegisterOption uint8

// Values of RegisterOption.
const (
	// Level delivers an event for as long as the readiness condition holds.
	Level RegisterOption = iota
	// Edge delivers an event only on a fresh transition into readiness; the
	// caller must drain the descriptor until it would block.
	Edge
	// Oneshot delivers at most one event per arming; re-arming requires an
	// explicit Reregister call.
	Oneshot
)

// String implements fmt.Stringer.
func (o RegisterOption) String() string {
	switch o {
	case Level:
		return "LEVEL"
	case Edge:
		return "EDGE"
	case Oneshot:
		return "ONESHOT"
	default:
		return fmt.Sprintf("RegisterOption(%d)", uint8(o))
	}
}

// Event is a single readiness notification: the id chosen at registration
// time, paired with the conditions observed.
type Event struct {
	Id        EventId
	Readiness Ready
}

// NewEvent constructs an Event.
func NewEvent(id EventId, readiness Ready) Event {
	return Event{Id: id, Readiness: readiness}
}
