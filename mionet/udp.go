package mionet

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"

	goreuseport "github.com/kavu/go_reuseport"

	"github.com/thomasdezeeuw/mio"
	"github.com/thomasdezeeuw/mio/internal/netutil"
)

// errNotPacketConn guards DialUDP against a net.Conn that, against
// expectation, doesn't also implement net.PacketConn.
var errNotPacketConn = errors.New("mionet: connection does not implement net.PacketConn")

// UDPConn is a non-blocking UDP socket. It supports only the bare
// registration-and-datagram-I/O surface — no batching (recvmmsg/sendmmsg),
// no internal buffering — matching spec.md's Non-goals; supplemented from
// original_source since the original mio family exposes a UDP socket
// alongside TCP and spec.md's Non-goals only exclude buffering/framing/
// protocol parsing, not a bare wrapper.
type UDPConn struct {
	sock  net.PacketConn
	fd    int
	laddr net.Addr
}

// ListenUDP binds a non-blocking UDP socket on address.
func ListenUDP(network, address string) (*UDPConn, error) {
	c, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, &mio.Error{Kind: mio.KindIo, Op: "ListenUDP", Err: err}
	}
	return newUDPConn(c)
}

// ListenUDPReusePort binds a non-blocking UDP socket on address with
// SO_REUSEPORT set, letting multiple processes or goroutines share the
// same port. Grounded on the teacher's udpservice.go, which reaches for
// goreuseport.ListenPacket the same way when its reuseport option is set.
func ListenUDPReusePort(network, address string) (*UDPConn, error) {
	c, err := goreuseport.ListenPacket(network, address)
	if err != nil {
		return nil, &mio.Error{Kind: mio.KindIo, Op: "ListenUDPReusePort", Err: err}
	}
	return newUDPConn(c)
}

// DialUDP connects a non-blocking UDP socket to address within timeout.
func DialUDP(network, address string, timeout time.Duration) (*UDPConn, error) {
	c, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, &mio.Error{Kind: mio.KindIo, Op: "DialUDP", Err: err}
	}
	pc, ok := c.(net.PacketConn)
	if !ok {
		c.Close()
		return nil, &mio.Error{Kind: mio.KindInvalid, Op: "DialUDP", Err: errNotPacketConn}
	}
	return newUDPConn(pc)
}

func newUDPConn(c net.PacketConn) (*UDPConn, error) {
	fd, err := netutil.GetFD(c)
	if err != nil {
		c.Close()
		return nil, &mio.Error{Kind: mio.KindIo, Op: "newUDPConn", Err: err}
	}
	return &UDPConn{sock: c, fd: fd, laddr: c.LocalAddr()}, nil
}

// FD returns the socket's raw file descriptor.
func (c *UDPConn) FD() int { return c.fd }

// LocalAddr returns the socket's local address.
func (c *UDPConn) LocalAddr() net.Addr { return c.laddr }

// Register registers the socket with q.
func (c *UDPConn) Register(q *mio.OsQueue, id mio.EventId, interests mio.Interests, opt mio.RegisterOption) error {
	return q.Register(c.fd, id, interests, opt)
}

// Reregister reregisters the socket with q.
func (c *UDPConn) Reregister(q *mio.OsQueue, id mio.EventId, interests mio.Interests, opt mio.RegisterOption) error {
	return q.Reregister(c.fd, id, interests, opt)
}

// Deregister deregisters the socket from q.
func (c *UDPConn) Deregister(q *mio.OsQueue) error {
	return q.Deregister(c.fd)
}

// ReadFrom reads a single datagram directly from the socket.
func (c *UDPConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, sa, err := unixRecvfrom(c.fd, p)
	if err != nil {
		return n, nil, &mio.Error{Kind: classifyErrno(err), Op: "ReadFrom", Err: err}
	}
	return n, netutil.SockaddrToUDPAddr(sa), nil
}

// WriteTo writes a single datagram directly to the socket.
func (c *UDPConn) WriteTo(p []byte, addr *net.UDPAddr) (int, error) {
	sa, err := netutil.AddrToSockAddr(c.laddr, addr)
	if err != nil {
		return 0, &mio.Error{Kind: mio.KindInvalid, Op: "WriteTo", Err: err}
	}
	if err := unix.Sendto(c.fd, p, 0, sa); err != nil {
		return 0, &mio.Error{Kind: classifyErrno(err), Op: "WriteTo", Err: err}
	}
	return len(p), nil
}

// Close closes the socket.
func (c *UDPConn) Close() error {
	return c.sock.Close()
}

func unixRecvfrom(fd int, p []byte) (int, unix.Sockaddr, error) {
	n, _, _, sa, err := unix.Recvmsg(fd, p, nil, 0)
	return n, sa, err
}
