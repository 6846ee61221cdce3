package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/panelbus/internal/event"
	"github.com/dshills/panelbus/internal/loop"
)

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startRelay(t *testing.T, config Config) (*Server, *event.Bus, *loop.Loop) {
	t.Helper()
	if config.Listen == "" {
		config.Listen = filepath.Join(t.TempDir(), "relay.sock")
	}
	l := startLoop(t)
	bus := event.NewBus()
	s := New(config, bus, l, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, bus, l
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("unix", s.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, bufio.NewReader(c)
}

func readLine(t *testing.T, c net.Conn, r *bufio.Reader) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	return line
}

func TestRelayBroadcast(t *testing.T) {
	s, bus, _ := startRelay(t, Config{})

	c1, r1 := dial(t, s)
	c2, r2 := dial(t, s)
	waitFor(t, func() bool { return s.Clients() == 2 })

	raw := `{"event":"view-focused","view":{"id":7}}`
	ev, _ := event.Parse([]byte(raw))
	bus.Dispatch(ev)

	for i, pair := range []struct {
		c net.Conn
		r *bufio.Reader
	}{{c1, r1}, {c2, r2}} {
		if got := readLine(t, pair.c, pair.r); got != raw+"\n" {
			t.Errorf("client %d got %q, want %q", i, got, raw+"\n")
		}
	}
	if got := s.Stats().Broadcast; got != 1 {
		t.Errorf("Stats().Broadcast = %d, want 1", got)
	}
}

func TestRelayInject(t *testing.T) {
	s, bus, _ := startRelay(t, Config{})

	var mu sync.Mutex
	var got []string
	bus.SubscribeFunc("view-focused", func(ev event.Event) {
		mu.Lock()
		got = append(got, ev.Get("view.app-id").String())
		mu.Unlock()
	})

	writer, _ := dial(t, s)
	watcher, wr := dial(t, s)
	waitFor(t, func() bool { return s.Clients() == 2 })

	// Split across writes, with a malformed line in between.
	writer.Write([]byte(`{"event":"view-focused","view":{"app-`))
	writer.Write([]byte("id\":\"foot\"}}\nnot json\n{\"no\":\"type\"}\n"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0] != "foot" {
		t.Errorf("injected app-id = %q, want foot", got[0])
	}
	mu.Unlock()
	if line := readLine(t, watcher, wr); line != `{"event":"view-focused","view":{"app-id":"foot"}}`+"\n" {
		t.Errorf("rebroadcast = %q", line)
	}
	waitFor(t, func() bool { return s.Stats().Injected == 1 })
}

func TestRelayClientDisconnect(t *testing.T) {
	s, bus, _ := startRelay(t, Config{})

	c, _ := dial(t, s)
	keep, kr := dial(t, s)
	waitFor(t, func() bool { return s.Clients() == 2 })

	c.Close()
	waitFor(t, func() bool { return s.Clients() == 1 })

	ev, _ := event.Parse([]byte(`{"event":"output-added"}`))
	bus.Dispatch(ev)
	if got := readLine(t, keep, kr); got != `{"event":"output-added"}`+"\n" {
		t.Errorf("remaining client got %q", got)
	}
}

// blockingConn never completes a write until released.
type blockingConn struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newBlockingConn() *blockingConn {
	return &blockingConn{release: make(chan struct{}), closed: make(chan struct{})}
}

func (c *blockingConn) WriteFrame([]byte) error {
	select {
	case <-c.release:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *blockingConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *blockingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *blockingConn) String() string { return "blocking" }

func TestRelaySlowClientDropped(t *testing.T) {
	s, _, _ := startRelay(t, Config{ClientQueue: 1})

	slow := newBlockingConn()
	cl := s.addClient(slow)
	go s.readLoop(cl, slow)

	fast, fr := dial(t, s)
	waitFor(t, func() bool { return s.Clients() == 2 })

	// The slow writer takes the first frame and blocks; the second fills
	// its queue and the third overflows it.
	for i := 0; i < 3; i++ {
		s.Broadcast([]byte("{\"event\":\"tick\"}\n"))
		readLine(t, fast, fr)
	}

	waitFor(t, func() bool { return s.Clients() == 1 })
	if got := s.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", got)
	}
	select {
	case <-slow.closed:
	default:
		t.Error("slow client connection not closed")
	}
}

func TestRelayStartErrors(t *testing.T) {
	bus := event.NewBus()
	l := startLoop(t)

	if err := New(Config{}, bus, l, nil).Start(); !errors.Is(err, ErrNoListen) {
		t.Errorf("Start() without listen = %v, want ErrNoListen", err)
	}

	file := filepath.Join(t.TempDir(), "regular")
	os.WriteFile(file, []byte("x"), 0o644)
	if err := New(Config{Listen: file}, bus, l, nil).Start(); err == nil {
		t.Error("Start() over a regular file should fail")
	}
	if _, err := os.Stat(file); err != nil {
		t.Errorf("regular file removed: %v", err)
	}

	s := New(Config{Listen: filepath.Join(t.TempDir(), "r.sock")}, bus, l, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	s.Close()
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
}

func TestRelayReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Leave the file behind as a crashed process would.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	startRelay(t, Config{Listen: path})
}

func TestRelayClose(t *testing.T) {
	s, bus, _ := startRelay(t, Config{})
	path := s.Addr()
	c, r := dial(t, s)
	waitFor(t, func() bool { return s.Clients() == 1 })

	if bus.Count(event.Any) != 1 {
		t.Errorf("Any subscriptions = %d, want 1", bus.Count(event.Any))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if bus.Count(event.Any) != 0 {
		t.Error("relay still subscribed after Close")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file left behind: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Error("client connection still open after Close")
	}
}

func TestRelayWebsocketMirror(t *testing.T) {
	s, bus, _ := startRelay(t, Config{Websocket: "127.0.0.1:0"})

	url := "ws://" + s.WebsocketAddr() + WebsocketPath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	defer ws.Close()
	waitFor(t, func() bool { return s.Clients() == 1 })

	raw := `{"event":"workspace-changed","new-workspace":{"x":1,"y":0}}`
	ev, _ := event.Parse([]byte(raw))
	bus.Dispatch(ev)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if kind != websocket.TextMessage || string(msg) != raw {
		t.Errorf("ReadMessage() = %d %q, want text %q", kind, msg, raw)
	}

	// Messages from the browser side are injected too.
	injected := make(chan string, 1)
	bus.SubscribeFunc("view-title-changed", func(ev event.Event) {
		injected <- ev.Get("view.title").String()
	})
	ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"view-title-changed","view":{"title":"vim"}}`))
	select {
	case title := <-injected:
		if title != "vim" {
			t.Errorf("injected title = %q", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("websocket message not injected")
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin   string
		expected bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1", true},
		{"http://[::1]:8080", true},
		{"https://example.com", false},
		{"http://192.168.1.10", false},
	}
	for _, tt := range tests {
		r, _ := http.NewRequest(http.MethodGet, "/events", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(r); got != tt.expected {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.expected)
		}
	}
}
