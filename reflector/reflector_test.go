package reflector

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twamp-go/twamp/ntp"
	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

func TestReflectorEchoesSenderMessage(t *testing.T) {
	r, err := New(Config{
		Local:   &net.UDPAddr{IP: net.ParseIP("127.0.0.1")},
		RefWait: time.Second,
	})
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	peer, err := socket.NewUDPSocket(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, 0)
	require.NoError(t, err)
	defer peer.Close()

	out := wire.SenderMessage{
		Seq:     7,
		Time:    ntp.Now(),
		Err:     wire.ErrorEstimate{S: 1, Multiplier: 1},
		Padding: make([]byte, wire.MinUnauthPadding),
	}
	buf, err := wire.Bytes(out)
	require.NoError(t, err)
	_, _, err = peer.SendTo(r.LocalAddr(), buf)
	require.NoError(t, err)

	recvBuf := make([]byte, 256)
	var n int
	require.Eventually(t, func() bool {
		var rerr error
		n, _, _, rerr = peer.ReceiveFrom(recvBuf)
		return rerr == nil && n > 0
	}, time.Second, 5*time.Millisecond)

	var reply wire.ReflectedMessage
	require.NoError(t, reply.UnmarshalBinary(recvBuf[:n]))
	require.Equal(t, uint32(7), reply.SenderSeq)
	require.Equal(t, uint32(0), reply.ReflectorSeq)

	r.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reflector never stopped")
	}
}

func TestEvictCallbackRemovesIdleSessions(t *testing.T) {
	r, err := New(Config{
		Local:   &net.UDPAddr{IP: net.ParseIP("127.0.0.1")},
		RefWait: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	sess := r.registry.GetOrCreate(r.LocalAddr(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	sess.RecordReflected(0, ntp.Now(), 0, ntp.Now(), ntp.Now())
	require.Len(t, r.registry.All(), 1)

	time.Sleep(20 * time.Millisecond)
	r.evictCallback(nil, 0)
	require.Len(t, r.registry.All(), 0)
}
