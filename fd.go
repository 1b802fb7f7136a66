package mio

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Fd adapts a borrowed raw file descriptor to the registration protocol: it
// forwards Register/Reregister/Deregister verbatim to an OsQueue and takes
// no ownership of the descriptor. Grounded on the original crate's
// EventedFd — a value-typed wrapper around a *RawFd that does not manage
// the descriptor's lifecycle.
type Fd int

// Register registers the underlying descriptor with q.
func (fd Fd) Register(q *OsQueue, id EventId, interests Interests, opt RegisterOption) error {
	return q.Register(int(fd), id, interests, opt)
}

// Reregister reregisters the underlying descriptor with q.
func (fd Fd) Reregister(q *OsQueue, id EventId, interests Interests, opt RegisterOption) error {
	return q.Reregister(int(fd), id, interests, opt)
}

// Deregister deregisters the underlying descriptor from q.
func (fd Fd) Deregister(q *OsQueue) error {
	return q.Deregister(int(fd))
}

// OwnedFd is the managed counterpart to Fd: it additionally closes the
// descriptor on Close and exposes byte-stream Read/Write that forward
// directly to the kernel, bypassing any stdlib buffering. Grounded on the
// original crate's EventedIo, which wraps a std::fs::File for the same
// purpose.
type OwnedFd struct {
	fd Fd
}

// NewOwnedFd takes ownership of fd; Close will close it.
func NewOwnedFd(fd int) *OwnedFd {
	return &OwnedFd{fd: Fd(fd)}
}

// Fd returns the underlying descriptor without transferring ownership.
func (o *OwnedFd) Fd() Fd { return o.fd }

// Register registers the underlying descriptor with q.
func (o *OwnedFd) Register(q *OsQueue, id EventId, interests Interests, opt RegisterOption) error {
	return o.fd.Register(q, id, interests, opt)
}

// Reregister reregisters the underlying descriptor with q.
func (o *OwnedFd) Reregister(q *OsQueue, id EventId, interests Interests, opt RegisterOption) error {
	return o.fd.Reregister(q, id, interests, opt)
}

// Deregister deregisters the underlying descriptor from q.
func (o *OwnedFd) Deregister(q *OsQueue) error {
	return o.fd.Deregister(q)
}

// Read reads directly from the descriptor.
func (o *OwnedFd) Read(p []byte) (int, error) {
	n, err := unix.Read(int(o.fd), p)
	if err != nil {
		return n, os.NewSyscallError("read", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes directly to the descriptor.
func (o *OwnedFd) Write(p []byte) (int, error) {
	n, err := unix.Write(int(o.fd), p)
	if err != nil {
		return n, os.NewSyscallError("write", err)
	}
	return n, nil
}

// Close closes the underlying descriptor.
func (o *OwnedFd) Close() error {
	return os.NewSyscallError("close", unix.Close(int(o.fd)))
}
