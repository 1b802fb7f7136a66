package mio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// errClosed is returned when an operation is attempted on an OsQueue that
// has already had Close called on it.
var errClosed = errors.New("queue closed")

// classifySelectorErr maps a syscall failure bubbling up from
// internal/selector into the taxonomy from spec.md §7: EMFILE/ENOMEM style
// failures are resource exhaustion, everything else is an opaque io
// failure.
func classifySelectorErr(err error) Kind {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EMFILE, unix.ENFILE, unix.ENOMEM:
			return KindResourceExhausted
		}
	}
	return KindIo
}

// Kind classifies an Error the way spec.md's error taxonomy does: it tells
// the caller whether a failure is their own fault (KindInvalid), a resource
// limit (KindResourceExhausted), or an opaque OS failure (KindIo).
type Kind uint8

// Values of Kind.
const (
	// KindIo is an otherwise-unclassified OS failure.
	KindIo Kind = iota
	// KindInvalid is a caller error: empty Interests, an unknown descriptor
	// family, mutually exclusive options. Never retried.
	KindInvalid
	// KindResourceExhausted covers EMFILE/ENOMEM style failures.
	KindResourceExhausted
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindResourceExhausted:
		return "resource exhausted"
	default:
		return "io"
	}
}

// Error is the concrete error type returned by this package's exported
// operations: it names the failing operation and classifies the cause,
// mirroring the netError wrapper the corpus uses to carry net.Error-style
// context alongside an underlying syscall error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mio: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("mio: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}
