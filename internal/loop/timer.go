package loop

import (
	"sync"
	"sync/atomic"
	"time"
)

type ticker struct {
	stopOnce sync.Once
	stop     chan struct{}
	stopped  atomic.Bool
	pending  atomic.Bool
}

// Every runs fn on the loop goroutine once per interval until the
// returned Timer is stopped or the loop stops. A tick is skipped while
// the previous one is still waiting to run, so slow callbacks never
// queue up a backlog.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &ticker{stop: make(chan struct{})}
	if d <= 0 || fn == nil {
		t.Stop()
		return t
	}

	go func() {
		tk := time.NewTicker(d)
		defer tk.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-l.quit:
				return
			case <-tk.C:
				if !t.pending.CompareAndSwap(false, true) {
					continue
				}
				posted := l.Post(func() {
					t.pending.Store(false)
					if t.stopped.Load() {
						return
					}
					fn()
				})
				if !posted {
					t.pending.Store(false)
				}
			}
		}
	}()
	return t
}

// Stop implements Timer.
func (t *ticker) Stop() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
}
