package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPSocketLoopback(t *testing.T) {
	a, err := NewUDPSocket(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, 0)
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPSocket(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, 0)
	require.NoError(t, err)
	defer b.Close()

	msg := []byte("hello twamp")
	_, _, err = a.SendTo(b.LocalAddr(), msg)
	require.NoError(t, err)

	buf := make([]byte, 64)
	var n int
	var peer *net.UDPAddr
	require.Eventually(t, func() bool {
		var rerr error
		n, peer, _, rerr = b.ReceiveFrom(buf)
		return rerr == nil && n > 0
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, msg, buf[:n])
	require.Equal(t, a.LocalAddr().Port, peer.Port)
}

func TestUDPSocketReceiveFromEmptyIsNotError(t *testing.T) {
	s, err := NewUDPSocket(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, 0)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, 64)
	n, peer, _, err := s.ReceiveFrom(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Nil(t, peer)
}
