package wire

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"

	"github.com/twamp-go/twamp/ntp"
)

// MinUnauthPadding is the minimum padding (in bytes) a SenderMessage
// must carry to reach the minimum unauthenticated test-packet size
// (RFC 4656 §4.1.2).
const MinUnauthPadding = 27

// MaxConfiguredPadding is the top of spec §6's configurable padding
// range (0..1024 bytes, added to MinUnauthPadding).
const MaxConfiguredPadding = 1024

// MaxTestMessageSize is large enough to hold the bigger of the two
// test-packet shapes (ReflectedMessage's fixed header is the larger
// of the two) with the maximum configurable padding, so a receive
// buffer sized to it never truncates a legal datagram.
const MaxTestMessageSize = 41 + MaxConfiguredPadding + MinUnauthPadding

func putNTP(b []byte, off int, t ntp.DateTime) {
	sec, frac := ntp.ToNTP(t)
	binary.BigEndian.PutUint32(b[off:], sec)
	binary.BigEndian.PutUint32(b[off+4:], frac)
}

func getNTP(b []byte, off int) ntp.DateTime {
	sec := binary.BigEndian.Uint32(b[off:])
	frac := binary.BigEndian.Uint32(b[off+4:])
	return ntp.FromNTP(sec, frac)
}

// SenderMessage is the unauthenticated TWAMP-Test packet sent by the
// session-sender (RFC 5357 §4.1.2).
type SenderMessage struct {
	Seq     uint32
	Time    ntp.DateTime
	Err     ErrorEstimate
	Padding []byte
}

// Len returns the record's encoded size.
func (m SenderMessage) Len() int { return 4 + 8 + 2 + len(m.Padding) }

// MarshalBinaryTo encodes m into b.
func (m SenderMessage) MarshalBinaryTo(b []byte) (int, error) {
	n := m.Len()
	if err := needBytes(b, n); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(b[0:], m.Seq)
	putNTP(b, 4, m.Time)
	if _, err := m.Err.MarshalBinaryTo(b[12:14]); err != nil {
		return 0, err
	}
	copy(b[14:], m.Padding)
	return n, nil
}

// UnmarshalBinary decodes a SenderMessage from b. Any bytes after the
// fixed header are treated as padding.
func (m *SenderMessage) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 14); err != nil {
		return err
	}
	m.Seq = binary.BigEndian.Uint32(b[0:])
	m.Time = getNTP(b, 4)
	if err := m.Err.UnmarshalBinary(b[12:14]); err != nil {
		return err
	}
	m.Padding = append([]byte(nil), b[14:]...)
	return nil
}

// ReflectedMessage is the unauthenticated TWAMP-Test packet sent back
// by the session-reflector (RFC 5357 §4.2.1).
type ReflectedMessage struct {
	ReflectorSeq uint32
	Time         ntp.DateTime
	Err          ErrorEstimate
	ReceiveTime  ntp.DateTime
	SenderSeq    uint32
	SenderTime   ntp.DateTime
	SenderErr    ErrorEstimate
	SenderTTL    uint8
	Padding      []byte
}

// Len returns the record's encoded size.
func (m ReflectedMessage) Len() int { return 4 + 8 + 2 + 2 + 8 + 4 + 8 + 2 + 2 + 1 + len(m.Padding) }

// MarshalBinaryTo encodes m into b.
func (m ReflectedMessage) MarshalBinaryTo(b []byte) (int, error) {
	n := m.Len()
	if err := needBytes(b, n); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(b[0:], m.ReflectorSeq)
	putNTP(b, 4, m.Time)
	if _, err := m.Err.MarshalBinaryTo(b[12:14]); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint16(b[14:], 0) // mbz1
	putNTP(b, 16, m.ReceiveTime)
	binary.BigEndian.PutUint32(b[24:], m.SenderSeq)
	putNTP(b, 28, m.SenderTime)
	if _, err := m.SenderErr.MarshalBinaryTo(b[36:38]); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint16(b[38:], 0) // mbz2
	b[40] = m.SenderTTL
	copy(b[41:], m.Padding)
	return n, nil
}

// UnmarshalBinary decodes a ReflectedMessage from b.
func (m *ReflectedMessage) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 41); err != nil {
		return err
	}
	m.ReflectorSeq = binary.BigEndian.Uint32(b[0:])
	m.Time = getNTP(b, 4)
	if err := m.Err.UnmarshalBinary(b[12:14]); err != nil {
		return err
	}
	m.ReceiveTime = getNTP(b, 16)
	m.SenderSeq = binary.BigEndian.Uint32(b[24:])
	m.SenderTime = getNTP(b, 28)
	if err := m.SenderErr.UnmarshalBinary(b[36:38]); err != nil {
		return err
	}
	m.SenderTTL = b[40]
	m.Padding = append([]byte(nil), b[41:]...)
	return nil
}

// ServerGreeting is the first control-plane message sent by the
// reflector on accepting a TCP control connection (RFC 4656 §3.1).
type ServerGreeting struct {
	Modes     Modes
	Challenge [16]byte
	Salt      [16]byte
	Count     uint32
}

// Len is always 64.
func (ServerGreeting) Len() int { return 64 }

// MarshalBinaryTo encodes g into b.
func (g ServerGreeting) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, g.Len()); err != nil {
		return 0, err
	}
	// 12 unused bytes
	binary.BigEndian.PutUint32(b[12:], g.Modes.Bits)
	copy(b[16:32], g.Challenge[:])
	copy(b[32:48], g.Salt[:])
	binary.BigEndian.PutUint32(b[48:], g.Count)
	// 12 mbz bytes
	return g.Len(), nil
}

// UnmarshalBinary decodes g from b.
func (g *ServerGreeting) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 64); err != nil {
		return err
	}
	g.Modes = Modes{Bits: binary.BigEndian.Uint32(b[12:])}
	copy(g.Challenge[:], b[16:32])
	copy(g.Salt[:], b[32:48])
	g.Count = binary.BigEndian.Uint32(b[48:])
	return nil
}

// ClientSetupResponse is the client's reply to ServerGreeting (RFC 4656 §3.2).
type ClientSetupResponse struct {
	Mode     Mode
	KeyID    [80]byte
	Token    [64]byte
	ClientIV [16]byte
}

// Len is always 164.
func (ClientSetupResponse) Len() int { return 164 }

// MarshalBinaryTo encodes r into b.
func (r ClientSetupResponse) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, r.Len()); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(b[0:], uint32(r.Mode))
	copy(b[4:84], r.KeyID[:])
	copy(b[84:148], r.Token[:])
	copy(b[148:164], r.ClientIV[:])
	return r.Len(), nil
}

// UnmarshalBinary decodes r from b.
func (r *ClientSetupResponse) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 164); err != nil {
		return err
	}
	r.Mode = Mode(binary.BigEndian.Uint32(b[0:]))
	copy(r.KeyID[:], b[4:84])
	copy(r.Token[:], b[84:148])
	copy(r.ClientIV[:], b[148:164])
	return nil
}

// ServerStart announces the reflector's acceptance of the negotiated
// mode and its own clock's start time (RFC 4656 §3.3).
type ServerStart struct {
	Accept    AcceptField
	ServerIV  [16]byte
	StartTime ntp.DateTime
}

// Len is always 48.
func (ServerStart) Len() int { return 48 }

// MarshalBinaryTo encodes s into b.
func (s ServerStart) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, s.Len()); err != nil {
		return 0, err
	}
	// 15 mbz bytes
	b[15] = uint8(s.Accept)
	copy(b[16:32], s.ServerIV[:])
	putNTP(b, 32, s.StartTime)
	// 8 mbz bytes
	return s.Len(), nil
}

// UnmarshalBinary decodes s from b.
func (s *ServerStart) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 48); err != nil {
		return err
	}
	s.Accept = AcceptField(b[15])
	if !s.Accept.Valid() {
		return errors.Wrapf(ErrInvalidDiscriminant, "accept field %d", b[15])
	}
	copy(s.ServerIV[:], b[16:32])
	s.StartTime = getNTP(b, 32)
	return nil
}

// RequestTwSession is the Request-TW-Session control message (RFC 5357 §3.5).
type RequestTwSession struct {
	Cmd           ControlCommand
	IPVN          uint8 // 4 or 6
	ConfSender    uint8
	ConfReceiver  uint8
	Slots         uint32
	Packets       uint32
	SenderPort    uint16
	ReceiverPort  uint16
	SenderAddr    [16]byte
	ReceiverAddr  [16]byte
	SID           [16]byte
	PaddingLength uint32
	StartTime     ntp.DateTime
	Timeout       uint32
	TypeP         uint8
	HMAC          [16]byte
}

// Len is always 105.
func (RequestTwSession) Len() int { return 105 }

// MarshalBinaryTo encodes r into b. mbz1 (4 bits) and ipvn (4 bits)
// are packed MSB-first into a single byte, mirroring the Rust
// source's #[U8(size(4),pos(0))] / #[U8(size(4),pos(4))] field pair.
func (r RequestTwSession) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, r.Len()); err != nil {
		return 0, err
	}
	if r.IPVN != 4 && r.IPVN != 6 {
		return 0, errors.Errorf("wire: ipvn must be 4 or 6, got %d", r.IPVN)
	}
	b[0] = uint8(r.Cmd)
	b[1] = r.IPVN & 0x0F // mbz1 nibble stays zero
	b[2] = r.ConfSender
	b[3] = r.ConfReceiver
	binary.BigEndian.PutUint32(b[4:], r.Slots)
	binary.BigEndian.PutUint32(b[8:], r.Packets)
	binary.BigEndian.PutUint16(b[12:], r.SenderPort)
	binary.BigEndian.PutUint16(b[14:], r.ReceiverPort)
	copy(b[16:32], r.SenderAddr[:])
	copy(b[32:48], r.ReceiverAddr[:])
	copy(b[48:64], r.SID[:])
	binary.BigEndian.PutUint32(b[64:], r.PaddingLength)
	putNTP(b, 68, r.StartTime)
	binary.BigEndian.PutUint32(b[76:], r.Timeout)
	b[80] = r.TypeP
	// 8 mbz bytes at [81:89]
	copy(b[89:105], r.HMAC[:])
	return r.Len(), nil
}

// UnmarshalBinary decodes r from b.
func (r *RequestTwSession) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 105); err != nil {
		return err
	}
	r.Cmd = ParseControlCommand(b[0])
	r.IPVN = b[1] & 0x0F
	r.ConfSender = b[2]
	r.ConfReceiver = b[3]
	r.Slots = binary.BigEndian.Uint32(b[4:])
	r.Packets = binary.BigEndian.Uint32(b[8:])
	r.SenderPort = binary.BigEndian.Uint16(b[12:])
	r.ReceiverPort = binary.BigEndian.Uint16(b[14:])
	copy(r.SenderAddr[:], b[16:32])
	copy(r.ReceiverAddr[:], b[32:48])
	copy(r.SID[:], b[48:64])
	r.PaddingLength = binary.BigEndian.Uint32(b[64:])
	r.StartTime = getNTP(b, 68)
	r.Timeout = binary.BigEndian.Uint32(b[76:])
	r.TypeP = b[80]
	copy(r.HMAC[:], b[89:105])
	return nil
}

// NewRequestTwSession builds a validated RequestTwSession, defaulting
// PaddingLength to MinUnauthPadding when unset, and checking that IPVN
// matches the address family of both endpoints — ported from the
// source's RequestTwSessionBuilder::build() validation.
func NewRequestTwSession(sender, receiver net.IP, padding uint32) (*RequestTwSession, error) {
	senderV4, receiverV4 := sender.To4() != nil, receiver.To4() != nil
	if senderV4 != receiverV4 {
		return nil, errors.New("wire: sender and receiver address families must match")
	}
	ipvn := uint8(6)
	var senderBytes, receiverBytes [16]byte
	if senderV4 {
		ipvn = 4
		copy(senderBytes[:4], sender.To4())
		copy(receiverBytes[:4], receiver.To4())
	} else {
		copy(senderBytes[:], sender.To16())
		copy(receiverBytes[:], receiver.To16())
	}
	if padding == 0 {
		padding = MinUnauthPadding
	}
	return &RequestTwSession{
		Cmd:           CommandRequestTwSession,
		IPVN:          ipvn,
		SenderAddr:    senderBytes,
		ReceiverAddr:  receiverBytes,
		PaddingLength: padding,
		StartTime:     ntp.Now(),
	}, nil
}

// AcceptSessionMessage is the reflector's reply to RequestTwSession
// (RFC 5357 §3.6), pinning the allocated UDP receiver port.
type AcceptSessionMessage struct {
	Accept AcceptField
	Port   uint16
	SID    [16]byte
	HMAC   [16]byte
}

// Len is always 48.
func (AcceptSessionMessage) Len() int { return 48 }

// MarshalBinaryTo encodes a into b.
func (a AcceptSessionMessage) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, a.Len()); err != nil {
		return 0, err
	}
	b[0] = uint8(a.Accept)
	// 1 mbz byte at [1]
	binary.BigEndian.PutUint16(b[2:], a.Port)
	copy(b[4:20], a.SID[:])
	// 12 mbz bytes at [20:32]
	copy(b[32:48], a.HMAC[:])
	return a.Len(), nil
}

// UnmarshalBinary decodes a from b.
func (a *AcceptSessionMessage) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 48); err != nil {
		return err
	}
	a.Accept = AcceptField(b[0])
	if !a.Accept.Valid() {
		return errors.Wrapf(ErrInvalidDiscriminant, "accept field %d", b[0])
	}
	a.Port = binary.BigEndian.Uint16(b[2:])
	copy(a.SID[:], b[4:20])
	copy(a.HMAC[:], b[32:48])
	return nil
}

// ControlMessage is a generic command/ack frame on the control
// connection (StartSessions, StopSessions, acks; RFC 5357 §3.7-3.9).
type ControlMessage struct {
	Cmd  ControlCommand
	HMAC [16]byte
}

// Len is always 32.
func (ControlMessage) Len() int { return 32 }

// MarshalBinaryTo encodes c into b.
func (c ControlMessage) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, c.Len()); err != nil {
		return 0, err
	}
	b[0] = uint8(c.Cmd)
	// 15 mbz bytes
	copy(b[16:32], c.HMAC[:])
	return c.Len(), nil
}

// UnmarshalBinary decodes c from b.
func (c *ControlMessage) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 32); err != nil {
		return err
	}
	c.Cmd = ParseControlCommand(b[0])
	copy(c.HMAC[:], b[16:32])
	return nil
}

// StopNSessions is the Stop-N-Sessions control message (RFC 5357 §3.8).
type StopNSessions struct {
	Accept            AcceptField
	NumberOfSessions  uint32
	HMAC              [16]byte
}

// Len is always 32.
func (StopNSessions) Len() int { return 32 }

// MarshalBinaryTo encodes s into b.
func (s StopNSessions) MarshalBinaryTo(b []byte) (int, error) {
	if err := needBytes(b, s.Len()); err != nil {
		return 0, err
	}
	b[0] = uint8(s.Accept)
	// 3 mbz bytes at [1:4]
	binary.BigEndian.PutUint32(b[4:], s.NumberOfSessions)
	// 8 mbz bytes at [8:16]
	copy(b[16:32], s.HMAC[:])
	return s.Len(), nil
}

// UnmarshalBinary decodes s from b.
func (s *StopNSessions) UnmarshalBinary(b []byte) error {
	if err := needBytes(b, 32); err != nil {
		return err
	}
	s.Accept = AcceptField(b[0])
	s.NumberOfSessions = binary.BigEndian.Uint32(b[4:])
	copy(s.HMAC[:], b[16:32])
	return nil
}
