package ntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNTPRoundTrip(t *testing.T) {
	d := DateTime{Sec: 1700000000, Nanos: 123456789}
	sec, frac := ToNTP(d)
	back := FromNTP(sec, frac)

	require.Equal(t, d.Sec, back.Sec)
	// nanosecond precision is bounded by the 32-bit fraction's
	// resolution, ceil(1e9 / 2^32) ~= 1ns.
	delta := int64(d.Nanos) - int64(back.Nanos)
	if delta < 0 {
		delta = -delta
	}
	require.LessOrEqual(t, delta, int64(1))
}

func TestEpochConstant(t *testing.T) {
	require.Equal(t, int64(2208988800), Epoch)
}

func TestSub(t *testing.T) {
	a := FromTime(time.Unix(100, 0))
	b := FromTime(time.Unix(50, 0))
	require.Equal(t, 50*time.Second, a.Sub(b))
	require.Equal(t, -50*time.Second, b.Sub(a))
}
