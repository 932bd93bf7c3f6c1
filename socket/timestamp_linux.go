//go:build linux

package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var cmsgHdrLen = binary.Size(unix.Cmsghdr{})

var errNoTimestamp = errors.New("socket: no timestamp in control message")

// sockTimestampingOpt is SO_TIMESTAMPING_NEW unless the running kernel
// predates 5.x, in which case it falls back to the legacy SO_TIMESTAMPING.
var sockTimestampingOpt = unix.SO_TIMESTAMPING_NEW

func init() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil && uname.Release[0] < '5' {
		sockTimestampingOpt = unix.SO_TIMESTAMPING
	}
}

// enableTimestamping turns on software TX+RX timestamping and routes
// TX timestamps to the error queue, per spec §4.E.
func enableTimestamping(fd int) error {
	flags := unix.SOF_TIMESTAMPING_TX_SOFTWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_OPT_TSONLY
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, sockTimestampingOpt, flags); err != nil {
		return fmt.Errorf("enabling timestamping: %w", err)
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

// enableRecvErr turns on IP_RECVERR (IPV6_RECVERR for an IPv6 socket)
// so the TX timestamp lands on the error queue instead of being
// silently dropped.
func enableRecvErr(fd int, v6 bool) error {
	if v6 {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVERR, 1)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVERR, 1)
}

// byteToTime reinterprets a 16-byte __kernel_timespec as a time.Time.
func byteToTime(data []byte) (time.Time, error) {
	if len(data) < 16 {
		return time.Time{}, errNoTimestamp
	}
	sec := *(*int64)(unsafe.Pointer(&data[0]))
	nsec := *(*int64)(unsafe.Pointer(&data[8]))
	return time.Unix(sec, nsec), nil
}

// scmDataToTime parses the SO_TIMESTAMPING ancillary payload (up to
// three timespecs: software, deprecated, hardware) and returns the
// software one — this implementation never enables hardware
// timestamping, so only the first slot is ever populated.
func scmDataToTime(data []byte) (time.Time, error) {
	if len(data) < 16 {
		return time.Time{}, errNoTimestamp
	}
	ts, err := byteToTime(data[0:16])
	if err != nil {
		return time.Time{}, err
	}
	if ts.UnixNano() == 0 {
		return time.Time{}, errNoTimestamp
	}
	return ts, nil
}

// drainErrorQueue performs non-blocking reads of the socket's error
// queue (MSG_ERRQUEUE) until it returns EAGAIN, collecting one
// transmit timestamp per message in kernel report order (spec §4.E).
func drainErrorQueue(fd int) ([]time.Time, error) {
	var out []time.Time
	buf := make([]byte, 0)
	oob := make([]byte, 512)
	for {
		_, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return out, nil
			}
			return out, err
		}
		ts, err := parseTimestampFromControl(oob, oobn)
		if err == nil {
			out = append(out, ts)
		}
	}
}

// parseTimestampFromControl walks the ancillary data buffer returned
// by recvmsg and extracts the first SO_TIMESTAMPING message.
func parseTimestampFromControl(oob []byte, oobn int) (time.Time, error) {
	mlen := 0
	for i := 0; i < oobn; i += unix.CmsgSpace(mlen - unix.SizeofCmsghdr) {
		if i+cmsgHdrLen > len(oob) {
			break
		}
		h := (*unix.Cmsghdr)(unsafe.Pointer(&oob[i]))
		mlen = int(h.Len) //#nosec G115
		if mlen == 0 {
			break
		}
		if h.Level == unix.SOL_SOCKET &&
			(int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmDataToTime(oob[i+cmsgHdrLen : i+mlen])
		}
	}
	return time.Time{}, errNoTimestamp
}
