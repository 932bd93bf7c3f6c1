package sender

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twamp-go/twamp/reflector"
	"github.com/twamp-go/twamp/session"
)

func newEmptySession(t *testing.T, target *net.UDPAddr) *session.Session {
	t.Helper()
	return session.New(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, target)
}

func TestSenderReflectorRoundTrip(t *testing.T) {
	refl, err := reflector.New(reflector.Config{
		Local:   &net.UDPAddr{IP: net.ParseIP("127.0.0.1")},
		RefWait: time.Second,
	})
	require.NoError(t, err)
	defer refl.Close()

	reflDone := make(chan error, 1)
	go func() { reflDone <- refl.Run() }()

	s, err := New(Config{
		Local:              &net.UDPAddr{IP: net.ParseIP("127.0.0.1")},
		Targets:            []*net.UDPAddr{refl.LocalAddr()},
		PacketInterval:     15 * time.Millisecond,
		Duration:           80 * time.Millisecond,
		LastMessageTimeout: 60 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	run, err := s.Run()
	require.NoError(t, err)
	require.Len(t, run.SessionResults, 1)

	result := run.SessionResults[0]
	require.Equal(t, refl.LocalAddr().String(), result.Address)
	require.NotNil(t, result.Statistics)
	require.Greater(t, result.Statistics.TotalPackets, 0)
	require.Less(t, result.Statistics.TotalLoss, result.Statistics.TotalPackets)

	refl.Close()
	select {
	case <-reflDone:
	case <-time.After(time.Second):
		t.Fatal("reflector never stopped")
	}
}

func TestSummarizeHandlesSessionWithNoRecords(t *testing.T) {
	target := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	sess := newEmptySession(t, target)

	result := summarize(target, sess)
	require.Equal(t, target.String(), result.Address)
	require.NotNil(t, result.Statistics)
	require.Equal(t, 0, result.Statistics.TotalPackets)
	require.Nil(t, result.Statistics.GamlrOffset)
}
