package control

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twamp-go/twamp/socket"
	"github.com/twamp-go/twamp/wire"
)

var errNotAvailable = errors.New("no ports available")

func TestClientServerFullNegotiation(t *testing.T) {
	ln, err := socket.ListenTCP(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		serverDone <- ServeReflector(conn, func(req *wire.RequestTwSession) (uint16, error) {
			return 50001, nil
		})
	}()

	conn, err := socket.DialTCP(ln.Addr())
	require.NoError(t, err)
	defer conn.Close()

	client := NewClient(conn)
	require.NoError(t, client.Negotiate())
	require.Equal(t, StateEstablished, client.State)

	req, err := wire.NewRequestTwSession(net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.1"), 0)
	require.NoError(t, err)
	accept, err := client.RequestSession(req)
	require.NoError(t, err)
	require.Equal(t, wire.AcceptOK, accept.Accept)
	require.Equal(t, uint16(50001), accept.Port)

	require.NoError(t, client.StartSessions())
	require.Equal(t, StateTestInProgress, client.State)

	require.NoError(t, client.StopSessions())
	require.Equal(t, StateFinal, client.State)

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server side never finished")
	}
}

func TestClientRejectsBadAccept(t *testing.T) {
	ln, err := socket.ListenTCP(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = ServeReflector(conn, func(req *wire.RequestTwSession) (uint16, error) {
			return 0, errNotAvailable
		})
	}()

	conn, err := socket.DialTCP(ln.Addr())
	require.NoError(t, err)
	defer conn.Close()

	client := NewClient(conn)
	require.NoError(t, client.Negotiate())

	req, err := wire.NewRequestTwSession(net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.1"), 0)
	require.NoError(t, err)
	_, err = client.RequestSession(req)
	require.ErrorIs(t, err, ErrAcceptNotOK)
	require.Equal(t, StateError, client.State)
}
