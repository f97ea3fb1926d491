// Package realtime provides the WebSocket transport for the presence server:
// per-session connections with pumped writes, a hub tracking live sessions and
// conversation subscriptions, and the frame dispatch handler.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by Send after the connection has shut down.
var ErrConnClosed = errors.New("connection closed")

// ErrSendBufferFull is returned when a slow consumer's outbound buffer
// overflows; the connection is closed rather than letting broadcasts block.
var ErrSendBufferFull = errors.New("send buffer full")

// ConnOptions tunes a Connection's write behavior.
type ConnOptions struct {
	// SendBuffer is the outbound frame buffer capacity.
	SendBuffer int
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration
	// PingPeriod is the keepalive ping interval.
	PingPeriod time.Duration
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. The channel's FIFO order is what preserves per-session
// event ordering on the way out. Safe for concurrent use.
type Connection struct {
	// SessionID is the server-minted identity for this connection.
	SessionID string

	ws   *websocket.Conn
	opts ConnOptions

	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewConnection constructs a Connection for the given session.
//
// Precondition: sessionID must be non-empty; ws must be an upgraded socket.
func NewConnection(sessionID string, ws *websocket.Conn, opts ConnOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 128
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	return &Connection{
		SessionID: sessionID,
		ws:        ws,
		opts:      opts,
		send:      make(chan []byte, opts.SendBuffer),
		close:     make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues a frame for delivery. Movement traffic is best-effort: if the
// client is too slow to drain its buffer the connection is closed to keep
// backpressure bounded, and the frame is dropped.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.close:
		return ErrConnClosed
	case c.send <- frame:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close terminates the connection and stops the write loop. Idempotent.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.close:
		return true
	default:
		return false
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case frame := <-c.send:
			if err := c.writeMessage(frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) writeMessage(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
