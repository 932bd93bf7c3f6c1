package socket

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// TCPListener is a kernel-timestamped TCP listener used by the Full
// Reflector's control plane (spec §4.E, §4.J).
type TCPListener struct {
	ln *net.TCPListener
}

// ListenTCP binds and listens on laddr.
func ListenTCP(laddr *net.TCPAddr) (*TCPListener, error) {
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "socket: listen tcp")
	}
	fd, err := TCPListenerFd(ln)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "socket: reuseaddr")
	}
	return &TCPListener{ln: ln}, nil
}

// Fd returns the raw listening file descriptor.
func (l *TCPListener) Fd() (int, error) { return TCPListenerFd(l.ln) }

// Addr returns the bound address.
func (l *TCPListener) Addr() *net.TCPAddr { return l.ln.Addr().(*net.TCPAddr) }

// Accept accepts one connection, blocking until one arrives.
func (l *TCPListener) Accept() (*TCPConn, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return wrapTCPConn(conn)
}

// Close releases the listener.
func (l *TCPListener) Close() error { return l.ln.Close() }

// TCPConn is a kernel-timestamped TCP control connection.
type TCPConn struct {
	conn *net.TCPConn
	fd   int
}

// DialTCP opens a control connection to raddr.
func DialTCP(raddr *net.TCPAddr) (*TCPConn, error) {
	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "socket: dial tcp")
	}
	return wrapTCPConn(conn)
}

func wrapTCPConn(conn *net.TCPConn) (*TCPConn, error) {
	fd, err := TCPConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := enableTimestamping(fd); err != nil {
		conn.Close()
		return nil, err
	}
	return &TCPConn{conn: conn, fd: fd}, nil
}

// Fd returns the raw file descriptor, for reactor registration.
func (c *TCPConn) Fd() int { return c.fd }

// PeerName returns the remote endpoint's address.
func (c *TCPConn) PeerName() *net.TCPAddr {
	return c.conn.RemoteAddr().(*net.TCPAddr)
}

// Send writes b, using MSG_NOSIGNAL so a peer reset never raises SIGPIPE.
func (c *TCPConn) Send(b []byte) (int, error) {
	n, err := unix.SendmsgN(c.fd, b, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		return n, errors.Wrap(err, "socket: send")
	}
	return n, nil
}

// Receive reads up to len(buf) bytes. A nil error with n == 0 means
// EAGAIN: nothing was waiting. A peer that has closed the connection
// yields io.EOF.
func (c *TCPConn) Receive(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "socket: receive")
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF // peer closed the connection
	}
	return n, nil
}

// Close releases the connection.
func (c *TCPConn) Close() error { return c.conn.Close() }
