package relay

import (
	"sync"
	"sync/atomic"
)

// conn is the transport side of a relay client.
type conn interface {
	// WriteFrame writes one NDJSON line (including the newline).
	WriteFrame(frame []byte) error
	Close() error
	String() string
}

// client owns one connection and a bounded send queue drained by its
// writer goroutine.
type client struct {
	id   uint64
	conn conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
	sent      atomic.Uint64
}

func newClient(id uint64, c conn, queue int) *client {
	return &client{
		id:   id,
		conn: c,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// enqueue offers frame without blocking. It reports false when the
// queue is full or the client is closed.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writePump drains the queue until the client is closed or a write
// fails. onError is called once for a failed write.
func (c *client) writePump(onError func(*client, error)) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.conn.WriteFrame(frame); err != nil {
				onError(c, err)
				return
			}
			c.sent.Add(1)
		}
	}
}

// close stops the writer and closes the connection. Safe to call more
// than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
