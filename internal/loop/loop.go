// Package loop provides the single cooperative event loop the panel runs
// on. Every callback scheduled through a Loop (posted functions, timer
// ticks, readable-fd notifications) executes on the goroutine that called
// Run, one at a time, so state touched only from callbacks needs no
// locking.
package loop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/panelbus/internal/logging"
)

// Common errors.
var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("loop already running")

	// ErrStopped is returned when scheduling on a stopped loop.
	ErrStopped = errors.New("loop stopped")

	// ErrInvalidFD is returned by WatchReadable for a negative descriptor.
	ErrInvalidFD = errors.New("invalid file descriptor")
)

// Watch is a registered readability watch.
type Watch interface {
	// Remove stops the watch. It is safe to call more than once and from
	// inside the watch callback.
	Remove()
}

// Timer is a periodic callback registration.
type Timer interface {
	// Stop disarms the timer. Pending ticks that have not started are
	// discarded.
	Stop()
}

// Scheduler is the part of a Loop that components schedule work on.
type Scheduler interface {
	Post(fn func()) bool
	Every(d time.Duration, fn func()) Timer
	WatchReadable(fd int, fn func()) (Watch, error)
}

// Loop runs callbacks serially on one goroutine.
type Loop struct {
	queue        chan func()
	quit         chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	running      atomic.Bool
	pollInterval time.Duration

	log *logging.Logger

	executed atomic.Uint64
	panicked atomic.Uint64
	dropped  atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithQueueSize sets how many posted callbacks may be pending.
func WithQueueSize(size int) Option {
	return func(l *Loop) {
		if size > 0 {
			l.queue = make(chan func(), size)
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.log = logger.WithComponent("loop")
		}
	}
}

// WithPollInterval sets how long a readable watch blocks in poll before
// re-checking whether it was removed.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// New creates a loop. It does nothing until Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:        make(chan func(), 1024),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		pollInterval: 100 * time.Millisecond,
		log:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes callbacks until ctx is cancelled or Stop is called.
// Callbacks still queued when the loop stops are discarded.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return nil
		case fn := <-l.queue:
			l.execute(fn)
		}
	}
}

// Stop ends Run. It is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// Post queues fn to run on the loop goroutine. It never blocks: it
// returns false when the loop is stopped or the queue is full.
func (l *Loop) Post(fn func()) bool {
	if fn == nil || l.Stopped() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// execute runs one callback. A panic is logged and does not stop the loop.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.log.Error("loop callback panicked: %v\n%s", r, debug.Stack())
		}
	}()
	l.executed.Add(1)
	fn()
}

// Stats contains loop counters.
type Stats struct {
	Executed uint64
	Panicked uint64
	Dropped  uint64
	Pending  int
}

// Stats returns current loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Executed: l.executed.Load(),
		Panicked: l.panicked.Load(),
		Dropped:  l.dropped.Load(),
		Pending:  len(l.queue),
	}
}

var _ Scheduler = (*Loop)(nil)
