package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/panelbus/internal/ipc"
)

// WebsocketPath is the HTTP path of the websocket mirror.
const WebsocketPath = "/events"

// startWebsocket listens on the configured TCP address and serves the
// mirror. Called with s.mu held.
func (s *Server) startWebsocket() error {
	ln, err := net.Listen("tcp", s.config.Websocket)
	if err != nil {
		return fmt.Errorf("relay websocket listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebsocketPath, s.handleWS)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.http = srv
	s.wsAddr = ln.Addr()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("websocket server stopped: %v", err)
		}
	}()
	s.log.Info("relay websocket mirror on ws://%s%s", ln.Addr(), WebsocketPath)
	return nil
}

func stopWebsocket(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

// WebsocketAddr returns the mirror's listen address, or "" when the
// mirror is not running.
func (s *Server) WebsocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsAddr == nil {
		return ""
	}
	return s.wsAddr.String()
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser pages served from a loopback host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed: %v", err)
		return
	}

	cl := s.addClient(&wsConn{conn: ws, timeout: s.config.WriteTimeout})
	if cl == nil {
		return
	}
	s.wsReadLoop(cl, ws)
}

// wsReadLoop treats every text message as one or more event lines.
func (s *Server) wsReadLoop(cl *client, ws *websocket.Conn) {
	defer s.wg.Done()
	defer s.removeClient(cl)

	ws.SetReadLimit(int64(s.config.MaxFrameSize))
	frames := ipc.NewFrameReader(s.config.MaxFrameSize)
	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		lines, err := frames.Feed(append(msg, '\n'))
		for _, line := range lines {
			s.inject(line)
		}
		if err != nil {
			s.log.Warn("client %d: %v", cl.id, err)
			return
		}
	}
}

// wsConn writes each NDJSON line as one text message.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) WriteFrame(frame []byte) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte("\n")))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) String() string {
	return "ws:" + c.conn.RemoteAddr().String()
}
