//go:build darwin

package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errNoTimestamp = errors.New("socket: no timestamp in control message")

// enableTimestamping turns on SO_TIMESTAMP, the only timestamping mode
// darwin's BSD socket layer exposes; there is no TX-side error-queue
// recovery on this platform, matching the teacher's own
// timestamp_darwin.go, which only implements RX timestamping.
func enableTimestamping(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		return fmt.Errorf("enabling timestamping: %w", err)
	}
	return nil
}

func enableRecvErr(_ int, _ bool) error {
	return nil
}

// drainErrorQueue is a no-op on darwin: BSD sockets here have no
// MSG_ERRQUEUE TX-timestamp recovery path, matching the teacher's own
// timestamp_darwin.go (RX timestamping only).
func drainErrorQueue(_ int) ([]time.Time, error) {
	return nil, nil
}

func byteToTime(data []byte) (time.Time, error) {
	tv := (*unix.Timeval)(unsafe.Pointer(&data[0]))
	return time.Unix(tv.Unix()), nil
}

func parseTimestampFromControl(oob []byte, oobn int) (time.Time, error) {
	size := binary.Size(unix.Timeval{})
	if oobn < unix.CmsgSpace(0)+size {
		return time.Time{}, errNoTimestamp
	}
	ts, err := byteToTime(oob[unix.CmsgSpace(0) : unix.CmsgSpace(0)+size])
	if err != nil {
		return time.Time{}, err
	}
	if ts.UnixNano() == 0 {
		return time.Time{}, errNoTimestamp
	}
	return ts, nil
}
