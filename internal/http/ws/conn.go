package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// conn is one websocket connection as seen by the presence registry. Send
// only enqueues; the write loop owns the socket.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan event.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn, buffer int) *conn {
	if buffer <= 0 {
		buffer = 64
	}
	return &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan event.Event, buffer),
		done: make(chan struct{}),
	}
}

// ID identifies the connection for stale-disconnect checks.
func (c *conn) ID() string { return c.id }

// Send queues ev without blocking. A full queue reports ErrSlowConsumer.
func (c *conn) Send(ev event.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return presence.ErrClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return presence.ErrSlowConsumer
	}
}

// close marks the connection closed and stops the write loop. Safe to call
// more than once.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

var _ presence.Conn = (*conn)(nil)
