// Package relay rebroadcasts bus events to local clients.
//
// The Server listens on a unix socket. Every event dispatched on the bus
// is written to every connected client as one line of JSON. Clients may
// also write lines; each line is decoded and dispatched on the bus from
// the loop goroutine, so `panelbus emit` can inject events.
//
// Each client has a bounded send queue. A client whose queue is full is
// disconnected; other clients are unaffected.
//
// An optional websocket mirror serves the same stream as text frames.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/ipc"
	"github.com/dshills/panelbus/internal/logging"
)

// Owner is the subscription owner used for the relay's bus subscription.
const Owner = "relay"

// Errors returned by the relay.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("relay already started")

	// ErrClosed is returned when starting a closed relay.
	ErrClosed = errors.New("relay closed")

	// ErrNoListen is returned when no socket path is configured.
	ErrNoListen = errors.New("relay listen path not set")
)

// Bus is the part of the event bus the relay uses.
type Bus interface {
	ipc.Dispatcher
	Subscribe(eventType string, h event.Handler, opts ...event.SubscribeOption) (event.Subscription, error)
	Unsubscribe(sub event.Subscription) bool
}

// Poster runs a function on the loop goroutine.
type Poster interface {
	Post(fn func()) bool
}

// Config configures a Server.
type Config struct {
	// Listen is the unix socket path.
	Listen string

	// Websocket is an optional TCP address for the websocket mirror.
	Websocket string

	// ClientQueue is each client's send queue length.
	// Default: 64
	ClientQueue int

	// WriteTimeout bounds a single write to a client.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxFrameSize bounds one line written by a client.
	// Default: ipc.DefaultMaxFrameSize
	MaxFrameSize int
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		ClientQueue:  64,
		WriteTimeout: 5 * time.Second,
		MaxFrameSize: ipc.DefaultMaxFrameSize,
	}
}

// Server is the event relay.
//
// Thread Safety: all methods are safe for concurrent use. Client input is
// dispatched on the bus only through the Poster.
type Server struct {
	config  Config
	bus     Bus
	poster  Poster
	decoder *ipc.Decoder
	log     *logging.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	listener net.Listener
	http     *http.Server
	wsAddr   net.Addr
	sub      event.Subscription
	clients  map[*client]bool
	wg       sync.WaitGroup

	nextID      atomic.Uint64
	broadcast   atomic.Uint64
	dropped     atomic.Uint64
	injected    atomic.Uint64
	postRefused atomic.Uint64
}

// New creates a relay that fans out bus events and injects client input
// through p.
func New(config Config, bus Bus, p Poster, logger *logging.Logger) *Server {
	defaults := DefaultConfig()
	if config.ClientQueue <= 0 {
		config.ClientQueue = defaults.ClientQueue
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = defaults.MaxFrameSize
	}

	logger = logging.OrNop(logger).WithComponent("relay")
	return &Server{
		config:  config,
		bus:     bus,
		poster:  p,
		decoder: ipc.NewDecoder(bus, logger),
		log:     logger,
		clients: make(map[*client]bool),
	}
}

// Start listens on the unix socket (and the websocket address when set)
// and subscribes to every bus event. A stale socket file at the listen
// path is removed first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if s.config.Listen == "" {
		return ErrNoListen
	}

	if err := removeStaleSocket(s.config.Listen); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.config.Listen)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}

	if s.config.Websocket != "" {
		if err := s.startWebsocket(); err != nil {
			ln.Close()
			return err
		}
	}

	sub, err := s.bus.Subscribe(event.Any, event.HandlerFunc(s.handleEvent), event.WithOwner(Owner))
	if err != nil {
		ln.Close()
		stopWebsocket(s.http)
		s.http = nil
		return err
	}

	s.listener = ln
	s.sub = sub
	s.started = true

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.log.Info("relay listening on %s", s.config.Listen)
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("relay listen path %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed: %v", err)
			}
			return
		}
		nc := &netConn{Conn: c, timeout: s.config.WriteTimeout}
		cl := s.addClient(nc)
		if cl == nil {
			continue
		}
		go s.readLoop(cl, c)
	}
}

// addClient registers c and starts its writer. It returns nil when the
// server is closing. Otherwise the caller must run the client's reader,
// which is already counted in the wait group.
func (s *Server) addClient(c conn) *client {
	cl := newClient(s.nextID.Add(1), c, s.config.ClientQueue)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil
	}
	s.clients[cl] = true
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		cl.writePump(s.writeFailed)
	}()
	s.log.Debug("client %d connected: %s", cl.id, c)
	return cl
}

func (s *Server) removeClient(cl *client) bool {
	s.mu.Lock()
	_, ok := s.clients[cl]
	delete(s.clients, cl)
	s.mu.Unlock()

	cl.close()
	return ok
}

func (s *Server) writeFailed(cl *client, err error) {
	if s.removeClient(cl) {
		s.log.Debug("client %d dropped after write error: %v", cl.id, err)
	}
}

// readLoop frames client input and hands each line to the loop.
func (s *Server) readLoop(cl *client, r io.Reader) {
	defer s.wg.Done()
	defer s.removeClient(cl)

	frames := ipc.NewFrameReader(s.config.MaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines, ferr := frames.Feed(buf[:n])
			for _, line := range lines {
				s.inject(line)
			}
			if ferr != nil {
				s.log.Warn("client %d: %v", cl.id, ferr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// inject dispatches line on the loop goroutine.
func (s *Server) inject(line []byte) {
	if !s.poster.Post(func() {
		if s.decoder.Handle(line) {
			s.injected.Add(1)
		}
	}) {
		s.postRefused.Add(1)
		s.log.Warn("loop refused injected event: %s", ipc.Printable(line))
	}
}

// handleEvent is the relay's Any subscription.
func (s *Server) handleEvent(ev event.Event) error {
	s.Broadcast(append(ev.Raw(), '\n'))
	return nil
}

// Broadcast queues frame for every client. Clients whose queue is full
// are disconnected.
func (s *Server) Broadcast(frame []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	s.broadcast.Add(1)
	for _, cl := range clients {
		if cl.enqueue(frame) {
			continue
		}
		if s.removeClient(cl) {
			s.dropped.Add(1)
			s.log.Warn("client %d too slow, disconnecting", cl.id)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Addr returns the unix socket path, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close unsubscribes from the bus, stops listening, disconnects every
// client and removes the socket file. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	ln := s.listener
	srv := s.http
	clients := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	if sub != nil {
		s.bus.Unsubscribe(sub)
	}
	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := stopWebsocket(srv); err != nil {
		errs = append(errs, err)
	}
	for _, cl := range clients {
		cl.close()
	}
	s.wg.Wait()

	if ln != nil {
		if err := os.Remove(s.config.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats contains relay counters.
type Stats struct {
	Clients     int
	ClientIDs   []uint64
	Broadcast   uint64
	Dropped     uint64
	Injected    uint64
	PostRefused uint64
}

// Stats returns current relay counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.clients))
	for cl := range s.clients {
		ids = append(ids, cl.id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return Stats{
		Clients:     len(ids),
		ClientIDs:   ids,
		Broadcast:   s.broadcast.Load(),
		Dropped:     s.dropped.Load(),
		Injected:    s.injected.Load(),
		PostRefused: s.postRefused.Load(),
	}
}

// netConn writes frames to a stream connection with a deadline.
type netConn struct {
	net.Conn
	timeout time.Duration
}

func (c *netConn) WriteFrame(frame []byte) error {
	if c.timeout > 0 {
		c.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := c.Write(frame)
	return err
}

func (c *netConn) String() string {
	if addr := c.LocalAddr(); addr != nil {
		return "unix:" + addr.String()
	}
	return "unix"
}
