//go:build darwin || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueBackend implements platform over kqueue: EVFILT_READ for
// sources, EVFILT_TIMER (NOTE_USECONDS) for timers, matching spec
// §4.F's kqueue backend notes. Timer idents are drawn from a separate
// counter space so they never collide with a real file descriptor.
type kqueueBackend struct {
	kq        int
	nextIdent int
}

const timerIdentBase = 1 << 20

func newPlatformBackend() (platform, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "reactor: kqueue")
	}
	return &kqueueBackend{kq: kq, nextIdent: timerIdentBase}, nil
}

func (b *kqueueBackend) registerFd(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (b *kqueueBackend) unregisterFd(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (b *kqueueBackend) addPeriodicTimer(interval time.Duration) (int, error) {
	return b.addTimer(interval, unix.EV_ADD|unix.EV_ENABLE)
}

func (b *kqueueBackend) addOneShotTimer(d time.Duration) (int, error) {
	return b.addTimer(d, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
}

func (b *kqueueBackend) addTimer(d time.Duration, flags uint16) (int, error) {
	ident := b.nextIdent
	b.nextIdent++
	ev := unix.Kevent_t{
		Ident:  uint64(ident),
		Filter: unix.EVFILT_TIMER,
		Flags:  flags,
		Fflags: unix.NOTE_USECONDS,
		Data:   d.Microseconds(),
	}
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return 0, errors.Wrap(err, "reactor: kevent add timer")
	}
	return ident, nil
}

func (b *kqueueBackend) removeTimer(id int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(id),
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_DELETE,
	}
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (b *kqueueBackend) wait(timeout time.Duration) ([]int, []int, error) {
	events := make([]unix.Kevent_t, 64)
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(b.kq, nil, events, &ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "reactor: kevent wait")
	}
	var fds, timers []int
	for i := 0; i < n; i++ {
		ident := int(events[i].Ident)
		if events[i].Filter == unix.EVFILT_TIMER {
			timers = append(timers, ident)
		} else {
			fds = append(fds, ident)
		}
	}
	return fds, timers, nil
}

func (b *kqueueBackend) close() error {
	return unix.Close(b.kq)
}
