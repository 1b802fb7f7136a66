//go:build freebsd || dragonfly || darwin || netbsd || openbsd
// +build freebsd dragonfly darwin netbsd openbsd

package selector

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/thomasdezeeuw/mio/metrics"
)

// kqueueSelector is the kqueue backend. Every change is submitted with
// EV_RECEIPT so a failure to arm one filter is reported back atomically
// instead of silently leaving the fd half-registered; see New, Register and
// Reregister.
type kqueueSelector struct {
	fd int
}

// New creates a Selector backed by a fresh kqueue.
func New() (Selector, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	return &kqueueSelector{fd: fd}, nil
}

func newKevent(ident uint64, filter int16, flags uint16, id Id) unix.Kevent_t {
	ev := unix.Kevent_t{
		Ident:  ident,
		Filter: filter,
		Flags:  flags,
	}
	*(*uint64)(unsafe.Pointer(&ev.Udata)) = uint64(id)
	return ev
}

func keventId(kevent *unix.Kevent_t) Id {
	return Id(*(*uint64)(unsafe.Pointer(&kevent.Udata)))
}

// optToFlags translates a RegisterOption into kevent flags. EV_RECEIPT is
// always present so kevent_register can tell a real error apart from a
// no-op.
func optToFlags(opt Option) uint16 {
	flags := uint16(unix.EV_RECEIPT)
	if opt.IsEdge() {
		flags |= unix.EV_CLEAR
	}
	if opt.IsOneshot() {
		flags |= unix.EV_ONESHOT
	}
	return flags
}

func (s *kqueueSelector) Register(fd int, id Id, interests Interests, opt Option) error {
	flags := optToFlags(opt) | unix.EV_ADD
	var changes []unix.Kevent_t
	if interests.IsWritable() {
		changes = append(changes, newKevent(uint64(fd), unix.EVFILT_WRITE, flags, id))
	}
	if interests.IsReadable() {
		changes = append(changes, newKevent(uint64(fd), unix.EVFILT_READ, flags, id))
	}
	return keventRegister(s.fd, changes, nil)
}

func (s *kqueueSelector) Reregister(fd int, id Id, interests Interests, opt Option) error {
	flags := optToFlags(opt)
	writeFlags := flags | unix.EV_DELETE
	readFlags := flags | unix.EV_DELETE
	if interests.IsWritable() {
		writeFlags = flags | unix.EV_ADD
	}
	if interests.IsReadable() {
		readFlags = flags | unix.EV_ADD
	}
	changes := []unix.Kevent_t{
		newKevent(uint64(fd), unix.EVFILT_WRITE, writeFlags, id),
		newKevent(uint64(fd), unix.EVFILT_READ, readFlags, id),
	}
	// A filter that was never armed reports ENOENT on EV_DELETE; that's
	// expected when a registration only ever asked for one direction.
	return keventRegister(s.fd, changes, []int64{int64(unix.ENOENT)})
}

func (s *kqueueSelector) Deregister(fd int) error {
	flags := uint16(unix.EV_DELETE | unix.EV_RECEIPT)
	changes := []unix.Kevent_t{
		newKevent(uint64(fd), unix.EVFILT_WRITE, flags, Id(0)),
		newKevent(uint64(fd), unix.EVFILT_READ, flags, Id(0)),
	}
	return keventRegister(s.fd, changes, []int64{int64(unix.ENOENT)})
}

func (s *kqueueSelector) SetupAwakener(id Id) error {
	kevent := newKevent(0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR|unix.EV_RECEIPT, id)
	return keventRegister(s.fd, []unix.Kevent_t{kevent}, nil)
}

func (s *kqueueSelector) Wake(id Id) error {
	metrics.Add(metrics.WakeCalls, 1)
	kevent := newKevent(0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR|unix.EV_RECEIPT, id)
	kevent.Fflags = unix.NOTE_TRIGGER
	return keventRegister(s.fd, []unix.Kevent_t{kevent}, nil)
}

func (s *kqueueSelector) Duplicate() (Selector, error) {
	newFd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, os.NewSyscallError("dup", err)
	}
	return &kqueueSelector{fd: newFd}, nil
}

func (s *kqueueSelector) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

func (s *kqueueSelector) Select(buf []Event, max int, timeout *time.Duration) ([]Event, error) {
	n := max
	if n > EventsCap {
		n = EventsCap
	}
	kevents := make([]unix.Kevent_t, n)

	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
		if *timeout == 0 {
			metrics.Add(metrics.SelectNoWaitCalls, 1)
		} else {
			metrics.Add(metrics.SelectCalls, 1)
		}
	} else {
		metrics.Add(metrics.SelectCalls, 1)
	}

	count, err := unix.Kevent(s.fd, nil, kevents, ts)
	if err != nil {
		if err == unix.EINTR {
			return buf, nil
		}
		return buf, os.NewSyscallError("kevent", err)
	}
	metrics.Add(metrics.SelectEvents, uint64(count))

	for i := 0; i < count; i++ {
		buf = append(buf, keventToEvent(&kevents[i]))
	}
	return buf, nil
}

func keventToEvent(kevent *unix.Kevent_t) Event {
	id := keventId(kevent)
	var readiness Ready

	if kevent.Flags&unix.EV_ERROR != 0 {
		readiness |= Error
	}
	if kevent.Flags&unix.EV_EOF != 0 {
		readiness |= Hup
		if kevent.Fflags != 0 {
			readiness |= Error
		}
	}
	switch kevent.Filter {
	case unix.EVFILT_READ:
		readiness |= Readable
	case unix.EVFILT_WRITE:
		readiness |= Writable
	case unix.EVFILT_USER:
		// On platforms that use eventfd the awakener looks readable, so we
		// fake the same shape here.
		readiness |= Readable
	}
	return Event{Id: id, Readiness: readiness}
}

// keventRegister submits changes via EV_RECEIPT and reports the first
// genuine error found in the returned change list, ignoring any data value
// listed in ignoredErrors (deregistering a filter that was never armed
// reports ENOENT, which callers expect and discard).
func keventRegister(kq int, changes []unix.Kevent_t, ignoredErrors []int64) error {
	if len(changes) == 0 {
		return nil
	}
	out := make([]unix.Kevent_t, len(changes))
	_, err := unix.Kevent(kq, changes, out, nil)
	if err != nil {
		// kevent applies every change in the list before reporting EINTR,
		// per the kqueue manual, so there's nothing left to retry.
		if err == unix.EINTR {
			return nil
		}
		return os.NewSyscallError("kevent", err)
	}
	return checkErrors(out, ignoredErrors)
}

func checkErrors(events []unix.Kevent_t, ignoredErrors []int64) error {
	for i := range events {
		data := events[i].Data
		if events[i].Flags&unix.EV_ERROR != 0 && data != 0 && !containsErrno(ignoredErrors, data) {
			return errors.Wrap(unix.Errno(data), "kevent")
		}
	}
	return nil
}

func containsErrno(ignored []int64, data int64) bool {
	for _, e := range ignored {
		if e == data {
			return true
		}
	}
	return false
}
