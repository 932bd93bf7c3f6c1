package control

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

// RequestHandler builds the reflector's reply to one RequestTwSession:
// it binds a UDP test session (spec §4.I) and returns the port to pin
// into AcceptSessionMessage, or an error to reject the request.
type RequestHandler func(req *wire.RequestTwSession) (port uint16, err error)

// ServeReflector drives the reflector-side control state machine over
// one accepted connection (spec §4.J): greeting, setup, server-start,
// one or more session requests, start acknowledgement, and stop
// (which gets no reply). It
// returns when the peer sends StopSessions or the connection fails;
// a per-peer failure here never affects other connections (spec §7).
func ServeReflector(conn *socket.TCPConn, handle RequestHandler) error {
	s := &serverConn{conn: conn, state: StateSendGreeting}
	return s.run(handle)
}

type serverConn struct {
	conn  *socket.TCPConn
	state State
}

func (s *serverConn) run(handle RequestHandler) error {
	if err := s.sendGreeting(); err != nil {
		return s.fail(err)
	}
	if err := s.awaitSetup(); err != nil {
		return s.fail(err)
	}
	if err := s.sendServerStart(); err != nil {
		return s.fail(err)
	}

	s.state = StateAwaitRequest
	for {
		done, err := s.awaitNextMessage(handle)
		if err != nil {
			return s.fail(err)
		}
		if done {
			return nil
		}
	}
}

func (s *serverConn) sendGreeting() error {
	greeting := wire.ServerGreeting{Modes: SupportedModes}
	if err := s.write(greeting); err != nil {
		return errors.Wrap(err, "control: write ServerGreeting")
	}
	s.state = StateAwaitSetup
	return nil
}

func (s *serverConn) awaitSetup() error {
	setup := &wire.ClientSetupResponse{}
	if err := s.readInto(setup); err != nil {
		return errors.Wrap(err, "control: read ClientSetupResponse")
	}
	if !SupportedModes.IsSet(wire.Mode(setup.Mode)) {
		return ErrModeMismatch
	}
	s.state = StateSendServerStart
	return nil
}

func (s *serverConn) sendServerStart() error {
	start := wire.ServerStart{Accept: wire.AcceptOK}
	if err := s.write(start); err != nil {
		return errors.Wrap(err, "control: write ServerStart")
	}
	s.state = StateAwaitRequest
	return nil
}

// awaitNextMessage reads one control-plane frame and dispatches it by
// leading command byte, since RequestTwSession, ControlMessage, and
// StopNSessions share no common fixed size (spec §4.A): the command
// byte alone is always at offset 0, so a 1-byte peek selects which
// full-size record to read next.
func (s *serverConn) awaitNextMessage(handle RequestHandler) (done bool, err error) {
	cmdByte, err := readExact(s.conn, 1)
	if err != nil {
		return false, err
	}
	cmd := wire.ParseControlCommand(cmdByte[0])
	switch cmd {
	case wire.CommandRequestTwSession:
		return false, s.handleRequest(cmdByte[0], handle)
	case wire.CommandStartSessions:
		rest, err := readExact(s.conn, wire.ControlMessage{}.Len()-1)
		if err != nil {
			return false, err
		}
		var msg wire.ControlMessage
		if err := msg.UnmarshalBinary(append(cmdByte, rest...)); err != nil {
			return false, err
		}
		s.state = StateServing
		ack := wire.ControlMessage{Cmd: wire.CommandStartSessions}
		if err := s.write(ack); err != nil {
			return false, err
		}
		return false, nil
	case wire.CommandStopSessions:
		rest, err := readExact(s.conn, wire.ControlMessage{}.Len()-1)
		if err != nil {
			return false, err
		}
		_ = rest
		s.state = StateClosed
		return true, nil
	default:
		log.Warningf("control: unrecognized control command byte %d, dropping connection", cmdByte[0])
		return true, errors.Errorf("control: unrecognized command %d", cmdByte[0])
	}
}

func (s *serverConn) handleRequest(cmdByte byte, handle RequestHandler) error {
	rest, err := readExact(s.conn, wire.RequestTwSession{}.Len()-1)
	if err != nil {
		return err
	}
	var req wire.RequestTwSession
	if err := req.UnmarshalBinary(append([]byte{cmdByte}, rest...)); err != nil {
		return err
	}

	port, handleErr := handle(&req)
	accept := wire.AcceptSessionMessage{SID: req.SID}
	if handleErr != nil {
		log.Errorf("control: RequestTwSession rejected: %v", handleErr)
		accept.Accept = wire.AcceptFailure
	} else {
		accept.Accept = wire.AcceptOK
		accept.Port = port
	}
	return s.write(accept)
}

func (s *serverConn) fail(err error) error {
	s.state = StateClosed
	log.Errorf("control: server connection entering error state: %v", err)
	_ = s.conn.Close()
	return err
}

func (s *serverConn) write(m wireMessage) error {
	buf, err := wire.Bytes(m)
	if err != nil {
		return err
	}
	return writeAll(s.conn, buf)
}

func (s *serverConn) readInto(m interface {
	wire.BinaryUnmarshaler
	wire.Len
}) error {
	buf, err := readExact(s.conn, m.Len())
	if err != nil {
		return err
	}
	return m.UnmarshalBinary(buf)
}
