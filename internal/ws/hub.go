package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	// defaultSendBuffer is the number of payloads that can be queued per client.
	defaultSendBuffer = 16

	// defaultWriteTimeout is the max time to wait for a single write to complete.
	defaultWriteTimeout = 5 * time.Second

	// idleCheckInterval is how often the idle reaper runs.
	idleCheckInterval = 30 * time.Second
)

var (
	ErrHubClosed = errors.New("ws: hub is shut down")
	ErrHubFull   = errors.New("ws: connection limit reached")
)

// Stats holds point-in-time connection statistics.
type Stats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"max_conns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"dropped_messages"`
	IdleReaped      int64 `json:"idle_reaped"`
}

type hubEntry struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub is the registry of live connections. Every broadcast is delivered to
// exactly the clients registered when it runs; a deregistered client never
// receives another payload.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*hubEntry
	closed  bool

	maxConns     int
	idleTTL      time.Duration
	sendBuffer   int
	writeTimeout time.Duration
	stopIdle     context.CancelFunc
	log          logging.Logger

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMaxConns sets the maximum number of concurrent connections.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) HubOption {
	return func(h *Hub) { h.maxConns = n }
}

// WithIdleTimeout sets how long a connection can go without sending
// anything before it is closed. A value of 0 disables idle reaping (default).
func WithIdleTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.idleTTL = d }
}

// WithSendBuffer sets the per-client queue length. A client whose queue is
// full when a payload arrives is treated as a slow consumer and dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single socket write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func NewHub(log logging.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:      make(map[uuid.UUID]*hubEntry),
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		log:          log.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		h.stopIdle = cancel
		go h.idleReapLoop(ctx)
	}
	return h
}

// Register adds c and starts its write pump. The returned context is
// cancelled when c is deregistered or the hub shuts down. Registering an
// already registered client returns its existing context.
func (h *Hub) Register(c *Client) (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if e, ok := h.clients[c.id]; ok {
		return e.ctx, nil
	}
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		h.rejected.Add(1)
		return nil, ErrHubFull
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.send = make(chan []byte, h.sendBuffer)
	c.setState(StateActive)
	h.clients[c.id] = &hubEntry{client: c, ctx: ctx, cancel: cancel}

	go h.writePump(ctx, c)

	h.log.Debug(ctx, "client registered", "client_id", c.id, "active", len(h.clients))
	return ctx, nil
}

// Deregister removes c. It is a no-op when c is not registered.
func (h *Hub) Deregister(c *Client) {
	h.mu.Lock()
	e, ok := h.clients[c.id]
	if ok && e.client == c {
		delete(h.clients, c.id)
	} else {
		ok = false
	}
	active := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.release(e)
	h.log.Debug(context.Background(), "client deregistered", "client_id", c.id, "active", active)
}

// release stops an entry that has already been removed from the map.
// Closing send is safe here: enqueues only happen under the read lock
// against clients still in the map.
func (h *Hub) release(e *hubEntry) {
	e.cancel()
	close(e.client.send)
	e.client.setState(StateClosed)
}

// Broadcast queues payload for every registered client and returns how many
// clients it was queued for. Clients whose queue is full are dropped.
func (h *Hub) Broadcast(payload []byte) int {
	var (
		sent int
		slow []*Client
	)

	h.mu.RLock()
	for _, e := range h.clients {
		select {
		case e.client.send <- payload:
			sent++
		default:
			slow = append(slow, e.client)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropSlow(c)
	}
	return sent
}

// SendTo queues payload for c alone. It reports false when c is not
// registered or was dropped as a slow consumer.
func (h *Hub) SendTo(c *Client, payload []byte) bool {
	h.mu.RLock()
	e, ok := h.clients[c.id]
	queued := false
	if ok && e.client == c {
		select {
		case c.send <- payload:
			queued = true
		default:
		}
	} else {
		ok = false
	}
	h.mu.RUnlock()

	if ok && !queued {
		h.dropSlow(c)
	}
	return queued
}

func (h *Hub) dropSlow(c *Client) {
	h.droppedMessages.Add(1)
	h.log.Warn(context.Background(), "send buffer full, dropping client", "client_id", c.id)
	h.Deregister(c)
	// Close performs the WebSocket close handshake; keep it off the
	// broadcasting goroutine.
	go c.close(websocket.StatusPolicyViolation, "slow consumer")
}

// Touch records activity from c so the idle reaper leaves it alone.
func (h *Hub) Touch(c *Client) {
	c.touch()
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns point-in-time connection statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	active := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Active:          active,
		MaxConns:        h.maxConns,
		Rejected:        h.rejected.Load(),
		DroppedMessages: h.droppedMessages.Load(),
		IdleReaped:      h.idleReaped.Load(),
	}
}

// Shutdown deregisters every client and closes each socket with
// StatusGoingAway. Closing waits for the peer to answer the close frame;
// connections still waiting when ctx ends are torn down without the
// handshake. Later Register calls fail with ErrHubClosed.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	entries := make([]*hubEntry, 0, len(h.clients))
	for _, e := range h.clients {
		entries = append(entries, e)
	}
	h.clients = make(map[uuid.UUID]*hubEntry)
	h.mu.Unlock()

	if h.stopIdle != nil {
		h.stopIdle()
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		h.release(e)
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, "server shutting down")
		}(e.client)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info(context.Background(), "hub shut down", "closed", len(entries))
	case <-ctx.Done():
		for _, e := range entries {
			e.client.closeNow()
		}
		h.log.Warn(context.Background(), "hub shutdown timed out, dropped pending close handshakes",
			"closed", len(entries), "err", ctx.Err())
	}
}

func (h *Hub) idleReapLoop(ctx context.Context) {
	interval := idleCheckInterval
	if h.idleTTL < interval {
		interval = h.idleTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reapIdle(time.Now())
		}
	}
}

// reapIdle closes connections that have been idle longer than idleTTL.
func (h *Hub) reapIdle(now time.Time) int {
	h.mu.Lock()
	var stale []*hubEntry
	for id, e := range h.clients {
		if e.client.idleFor(now) > h.idleTTL {
			stale = append(stale, e)
			delete(h.clients, id)
		}
	}
	h.mu.Unlock()

	for _, e := range stale {
		h.release(e)
		h.idleReaped.Add(1)
		h.log.Info(context.Background(), "reaped idle connection", "client_id", e.client.id)
		go e.client.close(websocket.StatusPolicyViolation, "idle timeout")
	}
	return len(stale)
}
