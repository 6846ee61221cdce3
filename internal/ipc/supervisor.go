package ipc

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshills/panelbus/internal/logging"
	"github.com/dshills/panelbus/internal/loop"
)

// ConnState is the lifecycle state of the compositor connection.
type ConnState int32

const (
	// Disconnected means no socket is open.
	Disconnected ConnState = iota
	// Connecting is only observable from inside Connect.
	Connecting
	// Connected means the socket is open and watched for input.
	Connected
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config configures a Supervisor.
type Config struct {
	// ReadSize is the size of each socket read.
	// Default: 4096
	ReadSize int

	// HealthInterval is how often a lost connection is retried.
	// Default: 3 seconds
	HealthInterval time.Duration

	// MaxFrameSize bounds a single unterminated frame.
	// Default: DefaultMaxFrameSize
	MaxFrameSize int
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		ReadSize:       4096,
		HealthInterval: 3 * time.Second,
		MaxFrameSize:   DefaultMaxFrameSize,
	}
}

// StateChangeFunc is called after every state transition.
type StateChangeFunc func(from, to ConnState)

// Supervisor owns the compositor connection: it connects, reads and
// frames input, hands frames to a Decoder, and reconnects from a
// periodic health check after the connection is lost.
//
// Thread Safety: Connect, Disconnect, HealthCheck, Start and Stop must be
// called on the loop goroutine, where the read callback and the health
// check timer also run. State, IsConnected, Path and Stats may be called
// from any goroutine.
type Supervisor struct {
	sched   loop.Scheduler
	decoder *Decoder
	config  Config
	log     *logging.Logger

	state atomic.Int32

	mu       sync.Mutex
	path     string
	watchers []StateChangeFunc

	// Loop-owned.
	fd      int
	watch   loop.Watch
	timer   loop.Timer
	frames  *FrameReader
	readBuf []byte

	// Hooks replaced in tests.
	dial func(path string) (int, error)
	read func(fd int, p []byte) (int, error)

	connects        atomic.Uint64
	connectFailures atomic.Uint64
	disconnects     atomic.Uint64
	bytesRead       atomic.Uint64
	framesRead      atomic.Uint64
}

// NewSupervisor creates a disconnected Supervisor that schedules its
// work on sched and dispatches decoded Events to d.
func NewSupervisor(sched loop.Scheduler, d Dispatcher, config Config, logger *logging.Logger) *Supervisor {
	defaults := DefaultConfig()
	if config.ReadSize <= 0 {
		config.ReadSize = defaults.ReadSize
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = defaults.HealthInterval
	}

	logger = logging.OrNop(logger)
	return &Supervisor{
		sched:   sched,
		decoder: NewDecoder(d, logger),
		config:  config,
		log:     logger.WithComponent("ipc"),
		fd:      -1,
		frames:  NewFrameReader(config.MaxFrameSize),
		readBuf: make([]byte, config.ReadSize),
		dial:    dialUnix,
		read:    unix.Read,
	}
}

// Start records path, attempts the first connection and arms the
// health check. A failed first attempt is not an error; the health
// check retries it.
func (s *Supervisor) Start(path string) error {
	if path == "" {
		return ErrNoPath
	}
	if s.timer != nil {
		return ErrAlreadyStarted
	}

	s.setPath(path)
	s.Connect(path)
	s.timer = s.sched.Every(s.config.HealthInterval, s.HealthCheck)
	return nil
}

// Stop disarms the health check and disconnects.
func (s *Supervisor) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.Disconnect()
}

// Connect opens the socket at path, makes it non-blocking and starts
// watching it. On failure the Supervisor is left Disconnected with no
// descriptor open; a missing socket or a refused connection is logged
// as a warning since the compositor may not be up yet. An existing
// connection is closed first.
func (s *Supervisor) Connect(path string) error {
	if path == "" {
		return ErrNoPath
	}
	if s.fd >= 0 {
		s.Disconnect()
	}
	s.setPath(path)
	s.setState(Connecting)

	fd, err := s.dial(path)
	if err != nil {
		return s.connectFailed(&ConnectError{Path: path, Err: err})
	}

	w, err := s.sched.WatchReadable(fd, s.onReadable)
	if err != nil {
		unix.Close(fd)
		return s.connectFailed(&ConnectError{Path: path, Err: err})
	}

	s.fd = fd
	s.watch = w
	s.frames.Reset()
	s.connects.Add(1)
	s.setState(Connected)
	s.log.Info("connected to compositor socket %s", path)
	return nil
}

func (s *Supervisor) connectFailed(err *ConnectError) error {
	s.connectFailures.Add(1)
	s.setState(Disconnected)

	switch {
	case err.NotFound():
		s.log.Warn("socket file not found: %s", err.Path)
	case err.Refused():
		s.log.Warn("connection refused by %s", err.Path)
	default:
		s.log.Error("unexpected error connecting to socket: %v", err)
	}
	return err
}

// IsConnected reports whether the connection is up.
func (s *Supervisor) IsConnected() bool {
	return s.State() == Connected
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	return ConnState(s.state.Load())
}

// Path returns the last socket path passed to Start or Connect.
func (s *Supervisor) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// HealthCheck reconnects when the connection is down and a path is
// known. It is the only reconnection trigger.
func (s *Supervisor) HealthCheck() {
	if s.IsConnected() {
		return
	}
	path := s.Path()
	if path == "" {
		return
	}
	s.log.Debug("connection down, retrying %s", path)
	s.Connect(path)
}

// Disconnect removes the watch, closes the socket and discards buffered
// bytes. It is idempotent.
func (s *Supervisor) Disconnect() {
	if s.watch != nil {
		s.watch.Remove()
		s.watch = nil
	}
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	s.frames.Reset()

	if s.State() != Disconnected {
		s.disconnects.Add(1)
		s.setState(Disconnected)
		s.log.Info("disconnected from compositor socket")
	}
}

// OnStateChange registers fn to be called after each state transition,
// on the goroutine that caused it.
func (s *Supervisor) OnStateChange(fn StateChangeFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// onReadable performs one bounded read and dispatches every complete
// frame it yields.
func (s *Supervisor) onReadable() {
	if s.fd < 0 {
		return
	}

	n, err := s.read(s.fd, s.readBuf)
	switch {
	case err != nil && isTransient(err):
		return
	case err != nil:
		s.log.Error("socket read failed: %v", err)
		s.Disconnect()
		return
	case n == 0:
		s.log.Warn("compositor closed the connection")
		s.Disconnect()
		return
	}
	s.bytesRead.Add(uint64(n))

	frames, ferr := s.frames.Feed(s.readBuf[:n])
	for _, frame := range frames {
		// A subscriber may have disconnected us; the rest of this read
		// belongs to the dropped connection.
		if s.fd < 0 {
			return
		}
		s.framesRead.Add(1)
		s.decoder.Handle(frame)
	}

	// The stream cannot be resynchronised inside an oversized frame.
	if ferr != nil && s.fd >= 0 {
		s.log.Error("dropping connection: %v", ferr)
		s.Disconnect()
	}
}

func (s *Supervisor) setPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

func (s *Supervisor) setState(to ConnState) {
	from := ConnState(s.state.Swap(int32(to)))
	if from == to {
		return
	}

	s.mu.Lock()
	watchers := make([]StateChangeFunc, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(from, to)
	}
}

// Stats contains connection counters.
type Stats struct {
	State           ConnState
	Path            string
	Connects        uint64
	ConnectFailures uint64
	Disconnects     uint64
	BytesRead       uint64
	Frames          uint64
	Decoder         DecoderStats
}

// Stats returns current connection counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		State:           s.State(),
		Path:            s.Path(),
		Connects:        s.connects.Load(),
		ConnectFailures: s.connectFailures.Load(),
		Disconnects:     s.disconnects.Load(),
		BytesRead:       s.bytesRead.Load(),
		Frames:          s.framesRead.Load(),
		Decoder:         s.decoder.Stats(),
	}
}
