//go:build linux

package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type pipeSource struct {
	r *os.File
}

func (p pipeSource) Fd() int { return int(p.r.Fd()) }

func TestLoopDispatchesReadableSource(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fired := make(chan struct{}, 1)
	_, err = l.Register(pipeSource{r: r}, func(src FdSource, tok Token) {
		buf := make([]byte, 16)
		_, _ = os.NewFile(uintptr(src.Fd()), "pipe").Read(buf)
		fired <- struct{}{}
	})
	require.NoError(t, err)

	go l.Run()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestLoopPeriodicTimerFiresAnchorCallback(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	anchor, err := l.Register(pipeSource{r: r}, func(FdSource, Token) {})
	require.NoError(t, err)

	ticks := make(chan struct{}, 8)
	_, err = l.RegisterTimer(20*time.Millisecond, anchor, func(src FdSource, tok Token) {
		require.Equal(t, anchor, tok)
		ticks <- struct{}{}
	})
	require.NoError(t, err)

	go l.Run()
	_ = w

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopTerminatesOnUnarmedGhostToken(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	_, err = l.AddDuration(20 * time.Millisecond)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop never terminated on ghost token")
	}
}

func TestLoopOvertimeThenTerminates(t *testing.T) {
	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	l.SetOvertime(30 * time.Millisecond)
	_, err = l.AddDuration(20 * time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("loop never terminated after overtime")
	}
}
