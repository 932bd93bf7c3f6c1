package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twamp-go/twamp/ntp"
)

func TestErrorEstimateRoundTrip(t *testing.T) {
	cases := []ErrorEstimate{
		{S: 0, Z: 1, Scale: 0, Multiplier: 1},
		{S: 1, Z: 0, Scale: 63, Multiplier: 100},
		{S: 1, Z: 1, Scale: 32, Multiplier: 255},
	}
	for _, c := range cases {
		buf, err := Bytes(c)
		require.NoError(t, err)
		require.Len(t, buf, 2)

		var got ErrorEstimate
		require.NoError(t, got.UnmarshalBinary(buf))
		require.Equal(t, c, got)
	}
}

func TestErrorEstimateExampleBytes(t *testing.T) {
	e := ErrorEstimate{S: 0, Z: 1, Scale: 0, Multiplier: 1}
	buf, err := Bytes(e)
	require.NoError(t, err)
	require.Equal(t, byte(0x40), buf[0])
	require.Equal(t, byte(1), buf[1])

	e2 := ErrorEstimate{S: 1, Z: 0, Scale: 63, Multiplier: 100}
	buf2, err := Bytes(e2)
	require.NoError(t, err)
	require.Equal(t, byte(0xBF), buf2[0])
	require.Equal(t, byte(100), buf2[1])
}

func TestSenderMessageRoundTrip(t *testing.T) {
	m := SenderMessage{
		Seq:     42,
		Time:    ntp.Now(),
		Err:     ErrorEstimate{S: 1, Scale: 1, Multiplier: 1},
		Padding: make([]byte, MinUnauthPadding),
	}
	buf, err := Bytes(m)
	require.NoError(t, err)
	require.Equal(t, m.Len(), len(buf))

	var got SenderMessage
	require.NoError(t, FromBytes(buf, &got))
	require.Equal(t, m.Seq, got.Seq)
	require.Equal(t, m.Time, got.Time)
	require.Equal(t, m.Err, got.Err)
	require.Equal(t, m.Padding, got.Padding)
}

func TestReflectedMessageRoundTrip(t *testing.T) {
	m := ReflectedMessage{
		ReflectorSeq: 7,
		Time:         ntp.Now(),
		Err:          ErrorEstimate{Scale: 5},
		ReceiveTime:  ntp.Now(),
		SenderSeq:    3,
		SenderTime:   ntp.Now(),
		SenderErr:    ErrorEstimate{Scale: 6},
		SenderTTL:    64,
		Padding:      make([]byte, 10),
	}
	buf, err := Bytes(m)
	require.NoError(t, err)

	var got ReflectedMessage
	require.NoError(t, FromBytes(buf, &got))
	require.Equal(t, m, got)
}

func TestShortBufferFails(t *testing.T) {
	var m SenderMessage
	err := m.UnmarshalBinary([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrNotEnoughBytes)
}

func TestServerStartInvalidAccept(t *testing.T) {
	b := make([]byte, 48)
	b[15] = 200 // not a declared AcceptField
	var s ServerStart
	err := s.UnmarshalBinary(b)
	require.ErrorIs(t, err, ErrInvalidDiscriminant)
}

func TestNewRequestTwSession(t *testing.T) {
	req, err := NewRequestTwSession(net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.2"), 0)
	require.NoError(t, err)
	require.Equal(t, uint8(4), req.IPVN)
	require.Equal(t, uint32(MinUnauthPadding), req.PaddingLength)

	buf, err := Bytes(*req)
	require.NoError(t, err)

	var got RequestTwSession
	require.NoError(t, FromBytes(buf, &got))
	require.Equal(t, req.IPVN, got.IPVN)
	require.Equal(t, req.SenderAddr, got.SenderAddr)
}

func TestNewRequestTwSessionFamilyMismatch(t *testing.T) {
	_, err := NewRequestTwSession(net.ParseIP("127.0.0.1"), net.ParseIP("::1"), 0)
	require.Error(t, err)
}

func TestControlMessageRoundTrip(t *testing.T) {
	c := ControlMessage{Cmd: CommandStartSessions}
	buf, err := Bytes(c)
	require.NoError(t, err)

	var got ControlMessage
	require.NoError(t, FromBytes(buf, &got))
	require.Equal(t, c.Cmd, got.Cmd)
}

func TestParseControlCommandUnknown(t *testing.T) {
	require.Equal(t, CommandOther, ParseControlCommand(0x42))
}

func TestModes(t *testing.T) {
	var m Modes
	m.Set(ModeUnauthenticated)
	require.True(t, m.IsSet(ModeUnauthenticated))
	require.False(t, m.IsSet(ModeAuthenticated))

	var client Modes
	client.Set(ModeUnauthenticated)
	client.Set(ModeAuthenticated)
	common := m.And(client)
	require.True(t, common.IsSet(ModeUnauthenticated))
	require.False(t, common.IsSet(ModeAuthenticated))
}
