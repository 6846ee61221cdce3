package loop

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const readableEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

type fdWatch struct {
	fd         int
	removeOnce sync.Once
	removed    atomic.Bool
	stop       chan struct{}
}

// WatchReadable calls fn on the loop goroutine whenever fd is readable.
// Hang-up and error conditions count as readable so the callback sees
// them through its own read.
//
// A poller goroutine waits for readiness, posts fn and then waits for
// it to finish before polling again, so fn is never queued twice for
// the same readiness.
func (l *Loop) WatchReadable(fd int, fn func()) (Watch, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if fn == nil || l.Stopped() {
		return nil, ErrStopped
	}

	w := &fdWatch{fd: fd, stop: make(chan struct{})}
	go l.pollFD(w, fn)
	return w, nil
}

func (l *Loop) pollFD(w *fdWatch, fn func()) {
	timeout := int(l.pollInterval.Milliseconds())
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}

	for !w.removed.Load() {
		fds[0].Revents = 0
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.log.Warn("poll on fd %d failed: %v", w.fd, err)
			return
		}
		if n == 0 || fds[0].Revents&readableEvents == 0 {
			continue
		}
		if w.removed.Load() {
			return
		}

		ran := make(chan struct{})
		posted := l.Post(func() {
			defer close(ran)
			if w.removed.Load() {
				return
			}
			fn()
		})
		if !posted {
			// Queue full; back off instead of spinning on a readable fd.
			select {
			case <-time.After(l.pollInterval):
				continue
			case <-w.stop:
				return
			case <-l.quit:
				return
			}
		}

		select {
		case <-ran:
		case <-w.stop:
			return
		case <-l.quit:
			return
		}
	}
}

// Remove implements Watch.
func (w *fdWatch) Remove() {
	w.removeOnce.Do(func() {
		w.removed.Store(true)
		close(w.stop)
	})
}
