package dscp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()

	raw, err := conn.File()
	require.NoError(t, err)
	defer raw.Close()

	err = Set(int(raw.Fd()), net.ParseIP("127.0.0.1"), 46)
	require.NoError(t, err)
}

func TestSetIPv6(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("::1")})
	if err != nil {
		t.Skip("ipv6 not available in this environment")
	}
	defer conn.Close()

	raw, err := conn.File()
	require.NoError(t, err)
	defer raw.Close()

	err = Set(int(raw.Fd()), net.ParseIP("::1"), 10)
	require.NoError(t, err)
}
