package control

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

// ErrAcceptNotOK is returned when a peer's accept field is anything
// other than AcceptOK.
var ErrAcceptNotOK = errors.New("control: peer returned non-OK accept field")

// ErrModeMismatch is returned when the server's advertised modes don't
// intersect this client's supported set.
var ErrModeMismatch = errors.New("control: no common mode with server")

// Client drives the sender-side control state machine over a single
// TCP connection (spec §4.J).
type Client struct {
	conn  *socket.TCPConn
	State State
}

// NewClient wraps an already-connected control socket, starting in
// AWAIT_GREETING.
func NewClient(conn *socket.TCPConn) *Client {
	return &Client{conn: conn, State: StateAwaitGreeting}
}

// Negotiate runs AWAIT_GREETING through ESTABLISHED: reads the
// server's greeting, replies with ClientSetupResponse, and waits for
// ServerStart(Ok). Any non-Ok accept or mode mismatch routes to
// StateError and returns the triggering error (spec §4.J).
func (c *Client) Negotiate() error {
	greeting := &wire.ServerGreeting{}
	if err := c.readInto(greeting); err != nil {
		return c.fail(errors.Wrap(err, "control: read ServerGreeting"))
	}
	if !greeting.Modes.And(SupportedModes).IsSet(wire.ModeUnauthenticated) {
		return c.fail(ErrModeMismatch)
	}
	c.State = StateSendSetup

	setup := wire.ClientSetupResponse{Mode: wire.Mode(wire.ModeUnauthenticated)}
	if err := c.write(setup); err != nil {
		return c.fail(errors.Wrap(err, "control: write ClientSetupResponse"))
	}
	c.State = StateAwaitServerStart

	start := &wire.ServerStart{}
	if err := c.readInto(start); err != nil {
		return c.fail(errors.Wrap(err, "control: read ServerStart"))
	}
	if start.Accept != wire.AcceptOK {
		return c.fail(ErrAcceptNotOK)
	}
	c.State = StateEstablished
	return nil
}

// RequestSession sends RequestTwSession and awaits AcceptSessionMessage.
func (c *Client) RequestSession(req *wire.RequestTwSession) (*wire.AcceptSessionMessage, error) {
	c.State = StateSendRequest
	if err := c.write(req); err != nil {
		return nil, c.fail(errors.Wrap(err, "control: write RequestTwSession"))
	}
	c.State = StateAwaitAccept

	accept := &wire.AcceptSessionMessage{}
	if err := c.readInto(accept); err != nil {
		return nil, c.fail(errors.Wrap(err, "control: read AcceptSessionMessage"))
	}
	if accept.Accept != wire.AcceptOK {
		return nil, c.fail(ErrAcceptNotOK)
	}
	c.State = StateEstablished
	return accept, nil
}

// StartSessions sends ControlMessage(StartSessions) and waits for the
// server's acknowledgement.
func (c *Client) StartSessions() error {
	c.State = StateAwaitStartAck
	msg := wire.ControlMessage{Cmd: wire.CommandStartSessions}
	if err := c.write(msg); err != nil {
		return c.fail(errors.Wrap(err, "control: write StartSessions"))
	}
	ack := &wire.ControlMessage{}
	if err := c.readInto(ack); err != nil {
		return c.fail(errors.Wrap(err, "control: read start ack"))
	}
	c.State = StateTestInProgress
	return nil
}

// StopSessions sends ControlMessage(StopSessions) and transitions to
// FINAL. It does not wait for a reply: the test phase has already
// ended and the connection is about to be closed (spec §4.J).
func (c *Client) StopSessions() error {
	msg := wire.ControlMessage{Cmd: wire.CommandStopSessions}
	if err := c.write(msg); err != nil {
		return c.fail(errors.Wrap(err, "control: write StopSessions"))
	}
	c.State = StateFinal
	return nil
}

// Close releases the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) fail(err error) error {
	c.State = StateError
	log.Errorf("control: client entering error state: %v", err)
	_ = c.conn.Close()
	return err
}

// wireMessage is any record this package writes or reads whole.
type wireMessage interface {
	wire.BinaryMarshalerTo
	wire.Len
}

func (c *Client) write(m wireMessage) error {
	buf, err := wire.Bytes(m)
	if err != nil {
		return err
	}
	return writeAll(c.conn, buf)
}

func (c *Client) readInto(m interface {
	wire.BinaryUnmarshaler
	wire.Len
}) error {
	buf, err := readExact(c.conn, m.Len())
	if err != nil {
		return err
	}
	return m.UnmarshalBinary(buf)
}

func writeAll(conn *socket.TCPConn, buf []byte) error {
	deadline := time.Now().Add(defaultIOTimeout)
	for len(buf) > 0 {
		n, err := conn.Send(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
		if len(buf) > 0 {
			if time.Now().After(deadline) {
				return errors.New("control: write timed out")
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func readExact(conn *socket.TCPConn, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	tmp := make([]byte, n)
	deadline := time.Now().Add(defaultIOTimeout)
	for len(out) < n {
		k, err := conn.Receive(tmp[:n-len(out)])
		if err != nil {
			return nil, err
		}
		if k == 0 {
			if time.Now().After(deadline) {
				return nil, errors.New("control: read timed out")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		out = append(out, tmp[:k]...)
	}
	return out, nil
}
