//go:build linux

package reactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollBackend implements platform over epoll, with one timerfd
// (CLOCK_REALTIME) per timer, matching spec §4.F's Linux backend
// notes. timerfds is per-instance (not a package global) because
// spec §5 runs many Loops concurrently, one per control connection's
// reflector session (cmd/twamp-full-reflector's eg.Go(r.Run) per
// accept); a shared global map would race across those goroutines.
type epollBackend struct {
	epfd int

	mu       sync.Mutex
	timerfds map[int]struct{}
}

func newPlatformBackend() (platform, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	return &epollBackend{epfd: fd, timerfds: map[int]struct{}{}}, nil
}

func (b *epollBackend) registerFd(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)} //#nosec G115
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) unregisterFd(fd int) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (b *epollBackend) addPeriodicTimer(interval time.Duration) (int, error) {
	return b.createTimer(interval, interval)
}

func (b *epollBackend) addOneShotTimer(d time.Duration) (int, error) {
	return b.createTimer(d, 0)
}

func (b *epollBackend) createTimer(first, interval time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return 0, errors.Wrap(err, "reactor: timerfd_create")
	}
	spec := &unix.ItimerSpec{
		Value:    durationToTimespec(first),
		Interval: durationToTimespec(interval),
	}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return 0, errors.Wrap(err, "reactor: timerfd_settime")
	}
	if err := b.registerFd(fd); err != nil {
		unix.Close(fd)
		return 0, err
	}
	b.mu.Lock()
	b.timerfds[fd] = struct{}{}
	b.mu.Unlock()
	return fd, nil
}

func (b *epollBackend) removeTimer(id int) error {
	_ = b.unregisterFd(id)
	b.mu.Lock()
	delete(b.timerfds, id)
	b.mu.Unlock()
	return unix.Close(id)
}

func (b *epollBackend) wait(timeout time.Duration) ([]int, []int, error) {
	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.epfd, events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrap(err, "reactor: epoll_wait")
	}
	var fds, timers []int
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if b.isTimerfd(fd) {
			drainTimerfd(fd)
			timers = append(timers, fd)
		} else {
			fds = append(fds, fd)
		}
	}
	return fds, timers, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}

func durationToTimespec(d time.Duration) unix.Timespec {
	if d <= 0 {
		return unix.Timespec{}
	}
	return unix.NsecToTimespec(d.Nanoseconds())
}

// isTimerfd reports whether fd was created by this backend's
// createTimer, so wait() can tell a timer fd apart from an ordinary
// registered source fd without an extra syscall per event.
func (b *epollBackend) isTimerfd(fd int) bool {
	b.mu.Lock()
	_, ok := b.timerfds[fd]
	b.mu.Unlock()
	return ok
}

func drainTimerfd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
