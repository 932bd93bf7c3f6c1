package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twamp-go/twamp/ntp"
	"github.com/twamp-go/twamp/wire"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func dt(sec int64) ntp.DateTime {
	return ntp.FromTime(time.Unix(sec, 0).UTC())
}

func TestRecordSentThenReceivedCompletesRecord(t *testing.T) {
	s := New(udpAddr(5000), udpAddr(6000))
	seq := s.NextSeq()
	s.RecordSent(seq, dt(100))

	ok := s.RecordReceived(&wire.ReflectedMessage{
		ReflectorSeq: 0,
		Time:         dt(102),
		ReceiveTime:  dt(101),
		SenderSeq:    seq,
	}, dt(103))
	require.True(t, ok)

	latest, ok := s.LatestResult()
	require.True(t, ok)
	rtt, ok := latest.RTT()
	require.True(t, ok)
	require.Equal(t, 3.0, rtt)
	rpd, ok := latest.RPD()
	require.True(t, ok)
	require.Equal(t, 1.0, rpd)
	require.GreaterOrEqual(t, rtt, rpd)
}

func TestRecordReceivedWithNoMatchIsDropped(t *testing.T) {
	s := New(udpAddr(5000), udpAddr(6000))
	ok := s.RecordReceived(&wire.ReflectedMessage{SenderSeq: 99}, dt(1))
	require.False(t, ok)
	_, ok = s.LatestResult()
	require.False(t, ok)
}

func TestApplyTXCorrectionsAdvancesHighWaterMarkExactly(t *testing.T) {
	s := New(udpAddr(5000), udpAddr(6000))
	for i := uint32(0); i < 5; i++ {
		s.RecordSent(i, dt(0))
	}
	applied := s.ApplyTXCorrections([]ntp.DateTime{dt(10), dt(11), dt(12)})
	require.Equal(t, 3, applied)

	results := s.Results()
	require.Equal(t, dt(10), results[0].T1)
	require.Equal(t, dt(11), results[1].T1)
	require.Equal(t, dt(12), results[2].T1)
	require.Equal(t, dt(0), results[3].T1)

	applied = s.ApplyTXCorrections([]ntp.DateTime{dt(20)})
	require.Equal(t, 1, applied)
	results = s.Results()
	require.Equal(t, dt(10), results[0].T1) // not overwritten
	require.Equal(t, dt(20), results[3].T1)
}

func TestLossAnalysisTotalsMatchMissingReflectorSeq(t *testing.T) {
	s := New(udpAddr(5000), udpAddr(6000))
	// senderSeq 0,1,2,3,4 sent; 1 and 3 never come back.
	for i := uint32(0); i < 5; i++ {
		s.RecordSent(i, dt(0))
	}
	for _, seq := range []uint32{0, 2, 4} {
		s.RecordReceived(&wire.ReflectedMessage{ReflectorSeq: seq, SenderSeq: seq, Time: dt(1), ReceiveTime: dt(1)}, dt(1))
	}

	la := s.LossAnalysis()
	require.Equal(t, 2, la.Total)
	require.Equal(t, la.Forward+la.Backward, la.Total)
	// Reflector seqs advance in step with sender seqs (the reflector saw
	// 1 and 3), so every gap delta is 0 and both losses count as backward.
	require.Equal(t, 0, la.Forward)
	require.Equal(t, 2, la.Backward)
}

func TestGamlrOffsetRequiresFiveSamplesPerDirection(t *testing.T) {
	s := New(udpAddr(5000), udpAddr(6000))
	_, ok := s.GamlrOffset()
	require.False(t, ok)
}
