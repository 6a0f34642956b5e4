package signalws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harmonium-chat/harmonium/internal/server/relay"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn wraps one websocket with a bounded send channel. Writes go through
// the single write pump, which preserves per-sender per-target frame order.
type wsConn struct {
	conn *websocket.Conn
	send chan relay.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{conn: ws, send: make(chan relay.Frame, buffer)}
}

func (c *wsConn) TrySend(f relay.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
