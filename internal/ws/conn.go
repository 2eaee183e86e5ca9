package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// State is the lifecycle stage of a client connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// wireConn is the write side of a WebSocket connection. *websocket.Conn
// satisfies it.
type wireConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// Client is one live connection. It is owned by the Hub between Register
// and Deregister; its write pump is the only goroutine writing to conn.
type Client struct {
	id   uuid.UUID
	conn wireConn
	send chan []byte

	state       atomic.Int32
	lastActive  atomic.Int64
	connectedAt time.Time
	closeOnce   sync.Once

	// stopRead aborts the connection's pending read, which drops the
	// socket. Nil for connections without a read loop.
	stopRead context.CancelFunc
}

func newClient(conn wireConn) *Client {
	now := time.Now()
	c := &Client{
		id:          uuid.New(),
		conn:        conn,
		connectedAt: now,
	}
	c.lastActive.Store(now.UnixNano())
	return c
}

// ID returns the opaque handle the hub keys this client by.
func (c *Client) ID() uuid.UUID { return c.id }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

func (c *Client) touch() { c.lastActive.Store(time.Now().UnixNano()) }

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

// close closes the underlying socket once. Errors are ignored: the peer may
// already be gone.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(code, reason)
	})
}

// closeNow drops the socket without waiting for the peer. A close that is
// still waiting for the peer's close frame returns once the socket is gone.
func (c *Client) closeNow() {
	if c.stopRead != nil {
		c.stopRead()
	}
	// CloseNow waits for an in-flight Close to finish.
	go func() { _ = c.conn.CloseNow() }()
}

// writePump drains the client's send queue, writing each payload to the
// socket. It exits when ctx is cancelled or the queue is closed. A failed
// write deregisters the client.
func (h *Hub) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				// Cancelled means the client was already removed and
				// whoever removed it closes the socket.
				if ctx.Err() != nil {
					return
				}
				h.log.Debug(context.Background(), "write failed", "client_id", c.id, "err", err)
				h.Deregister(c)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
			// A delivered payload counts as activity for the idle reaper.
			c.touch()
		}
	}
}
