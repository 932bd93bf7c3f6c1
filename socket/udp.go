package socket

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/twamp-go/twamp/dscp"
	"github.com/twamp-go/twamp/ntp"
)

// UDPSocket is a non-blocking, close-on-exec UDP socket with kernel
// software tx/rx timestamping enabled (spec §4.E). All I/O goes
// through the raw file descriptor directly via unix syscalls, not
// through *net.UDPConn's Read/Write, so the descriptor can later be
// registered with a reactor (package reactor) without Go's runtime
// netpoller racing it.
type UDPSocket struct {
	conn *net.UDPConn
	fd   int
	v6   bool
}

// NewUDPSocket binds a UDP socket to laddr and enables timestamping
// and, if dscpVal != 0, DSCP marking.
func NewUDPSocket(laddr *net.UDPAddr, dscpVal int) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "socket: listen udp")
	}
	fd, err := ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "socket: get fd")
	}
	v6 := laddr.IP.To4() == nil
	if err := enableTimestamping(fd); err != nil {
		conn.Close()
		return nil, err
	}
	if err := enableRecvErr(fd, v6); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "socket: enable recverr")
	}
	if dscpVal != 0 {
		if err := dscp.Set(fd, laddr.IP, dscpVal); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "socket: set dscp")
		}
	}
	return &UDPSocket{conn: conn, fd: fd, v6: v6}, nil
}

// Fd returns the raw file descriptor, for reactor registration.
func (s *UDPSocket) Fd() int { return s.fd }

// LocalAddr returns the socket's bound address.
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

// SendTo transmits b to peer and returns the number of bytes written
// and the userspace send-side wall clock (the kernel tx timestamp, if
// any, is recovered later via RetrieveTXTimestamps).
func (s *UDPSocket) SendTo(peer *net.UDPAddr, b []byte) (int, ntp.DateTime, error) {
	sa := IPToSockaddr(peer.IP, peer.Port)
	if err := unix.Sendto(s.fd, b, 0, sa); err != nil {
		return 0, ntp.DateTime{}, errors.Wrap(err, "socket: sendto")
	}
	return len(b), ntp.Now(), nil
}

// ReceiveFrom performs one non-blocking receive, returning the number
// of bytes read, the sender's address, and the kernel rx timestamp.
// A nil error with n == 0 means EAGAIN: no datagram was waiting.
func (s *UDPSocket) ReceiveFrom(buf []byte) (int, *net.UDPAddr, ntp.DateTime, error) {
	oob := make([]byte, 512)
	n, oobn, _, sa, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil, ntp.DateTime{}, nil
		}
		return 0, nil, ntp.DateTime{}, errors.Wrap(err, "socket: recvmsg")
	}
	peer, err := SockaddrToUDPAddr(sa)
	if err != nil {
		return n, nil, ntp.DateTime{}, err
	}
	ts, tsErr := parseTimestampFromControl(oob, oobn)
	if tsErr != nil {
		ts = time.Now()
	}
	return n, peer, ntp.FromTime(ts), nil
}

// RetrieveTXTimestamps drains the kernel error queue and returns every
// transmit timestamp found, in the order the kernel reports them.
func (s *UDPSocket) RetrieveTXTimestamps() ([]ntp.DateTime, error) {
	raw, err := drainErrorQueue(s.fd)
	if err != nil {
		return nil, errors.Wrap(err, "socket: drain error queue")
	}
	out := make([]ntp.DateTime, len(raw))
	for i, t := range raw {
		out[i] = ntp.FromTime(t)
	}
	return out, nil
}
