//go:build linux
// +build linux

package selector

import (
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/thomasdezeeuw/mio/metrics"
)

// epollSelector is the epoll backend. The awakener is a non-blocking
// eventfd registered for read interest under a reserved id, matching the
// kqueue backend's EVFILT_USER filter one for one.
type epollSelector struct {
	fd          int
	awakenerFd  int
	awakenerId  Id
	hasAwakener bool
	// ownsAwakener is true only on the Selector that SetupAwakener was
	// called on directly, never on a Duplicate of it; only the owner's
	// Close closes the eventfd, so a duplicate used purely for Wake never
	// races the owner over who closes it.
	ownsAwakener bool
	wakeBuf      []byte
}

// New creates a Selector backed by a fresh epoll instance.
func New() (Selector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollSelector{fd: fd, wakeBuf: make([]byte, 8)}, nil
}

func epollEvents(interests Interests) uint32 {
	var events uint32
	if interests.IsReadable() {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLPRI
	}
	if interests.IsWritable() {
		events |= unix.EPOLLOUT
	}
	events |= unix.EPOLLHUP | unix.EPOLLERR
	return events
}

func optToEpollBits(opt Option) uint32 {
	var bits uint32
	if opt.IsEdge() {
		bits |= unix.EPOLLET
	}
	if opt.IsOneshot() {
		bits |= unix.EPOLLONESHOT
	}
	return bits
}

func (s *epollSelector) epollCtl(op int, fd int, id Id, events uint32) error {
	ev := epollEvent{Events: events, Data: uint64(id)}
	_, _, errno := unix.Syscall6(unix.SYS_EPOLL_CTL, uintptr(s.fd), uintptr(op), uintptr(fd),
		uintptr(unsafe.Pointer(&ev)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (s *epollSelector) Register(fd int, id Id, interests Interests, opt Option) error {
	events := epollEvents(interests) | optToEpollBits(opt)
	if err := s.epollCtl(unix.EPOLL_CTL_ADD, fd, id, events); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

func (s *epollSelector) Reregister(fd int, id Id, interests Interests, opt Option) error {
	events := epollEvents(interests) | optToEpollBits(opt)
	if err := s.epollCtl(unix.EPOLL_CTL_MOD, fd, id, events); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	return nil
}

func (s *epollSelector) Deregister(fd int) error {
	if err := s.epollCtl(unix.EPOLL_CTL_DEL, fd, 0, 0); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (s *epollSelector) SetupAwakener(id Id) error {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("eventfd", err)
	}
	if err := s.epollCtl(unix.EPOLL_CTL_ADD, efd, id, unix.EPOLLIN); err != nil {
		unix.Close(efd)
		return os.NewSyscallError("epoll_ctl add", err)
	}
	s.awakenerFd = efd
	s.awakenerId = id
	s.hasAwakener = true
	s.ownsAwakener = true
	return nil
}

func (s *epollSelector) Wake(id Id) error {
	metrics.Add(metrics.WakeCalls, 1)
	buf := make([]byte, 8)
	buf[0] = 1
	for {
		_, err := unix.Write(s.awakenerFd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// Already armed; the pending wake will still fire.
			return nil
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		return nil
	}
}

// Duplicate returns a new Selector sharing the same underlying epoll
// instance. Awakener bookkeeping is copied too (not re-created): the
// eventfd and its id belong to the shared kernel object, so a Wake call
// through the duplicate must write to the same eventfd that Select on the
// original reads back.
func (s *epollSelector) Duplicate() (Selector, error) {
	newFd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, os.NewSyscallError("dup", err)
	}
	return &epollSelector{
		fd:          newFd,
		awakenerFd:  s.awakenerFd,
		awakenerId:  s.awakenerId,
		hasAwakener: s.hasAwakener,
		wakeBuf:     make([]byte, 8),
	}, nil
}

func (s *epollSelector) Close() error {
	if s.ownsAwakener {
		unix.Close(s.awakenerFd)
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}

func (s *epollSelector) Select(buf []Event, max int, timeout *time.Duration) ([]Event, error) {
	n := max
	if n > EventsCap {
		n = EventsCap
	}
	events := make([]epollEvent, n)

	msec := -1
	if timeout != nil {
		// Round up to whole milliseconds so a sub-millisecond remainder
		// still blocks instead of returning before the timeout elapses.
		msec = int((*timeout + time.Millisecond - 1) / time.Millisecond)
		if msec == 0 {
			metrics.Add(metrics.SelectNoWaitCalls, 1)
		} else {
			metrics.Add(metrics.SelectCalls, 1)
		}
	} else {
		metrics.Add(metrics.SelectCalls, 1)
	}

	count, err := epollWait(s.fd, events, msec)
	if err != nil {
		if err == unix.EINTR {
			return buf, nil
		}
		return buf, os.NewSyscallError("epoll_wait", err)
	}
	metrics.Add(metrics.SelectEvents, uint64(count))

	for i := 0; i < count; i++ {
		ev := events[i]
		id := Id(ev.Data)
		if s.hasAwakener && id == s.awakenerId && ev.Events&unix.EPOLLIN != 0 {
			unix.Read(s.awakenerFd, s.wakeBuf)
		}
		buf = append(buf, epollToEvent(id, ev.Events))
	}
	return buf, nil
}

func epollToEvent(id Id, events uint32) Event {
	var readiness Ready
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		readiness |= Hup
	}
	if events&unix.EPOLLERR != 0 {
		readiness |= Error
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		readiness |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		readiness |= Writable
	}
	return Event{Id: id, Readiness: readiness}
}

func epollWait(epfd int, events []epollEvent, msec int) (int, error) {
	var r0 uintptr
	var err error
	p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	return int(r0), err
}
