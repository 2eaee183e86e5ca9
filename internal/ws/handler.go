package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/christopherjohns/groupchat/internal/message"
	"nhooyr.io/websocket"
)

const (
	// defaultHistoryLimit is the number of recent messages sent on join.
	defaultHistoryLimit = 50

	// storeTimeout bounds a single store call made on behalf of a client.
	storeTimeout = 5 * time.Second

	// defaultReadLimit is the largest inbound frame accepted, matching the
	// 1 MB buffer browsers' socket.io clients are allowed by default.
	defaultReadLimit = 1 << 20
)

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection session: history on join, then a sequential read loop
// that persists each chat message before broadcasting it.
type Handler struct {
	hub            *Hub
	messages       message.Store
	log            logging.Logger
	historyLimit   int
	readLimit      int64
	originPatterns []string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHistoryLimit sets how many recent messages a joining client receives.
func WithHistoryLimit(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.historyLimit = n
		}
	}
}

// WithReadLimit sets the largest inbound message in bytes. A negative value
// removes the limit.
func WithReadLimit(n int64) HandlerOption {
	return func(h *Handler) {
		if n != 0 {
			h.readLimit = n
		}
	}
}

// WithOriginPatterns restricts which Origin hosts may open a connection.
// "*" accepts any origin.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.originPatterns = patterns }
}

func NewHandler(hub *Hub, messages message.Store, log logging.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:          hub,
		messages:     messages,
		log:          log.With("component", "gateway"),
		historyLimit: defaultHistoryLimit,
		readLimit:    defaultReadLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn(r.Context(), "accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	// Cancelling the read context tears the socket down without a close
	// handshake; the hub uses it when a shutdown deadline passes.
	readCtx, stopRead := context.WithCancel(r.Context())
	defer stopRead()

	client := newClient(conn)
	client.stopRead = stopRead
	defer client.close(websocket.StatusNormalClosure, "")

	connCtx, err := h.hub.Register(client)
	if err != nil {
		code := websocket.StatusTryAgainLater
		if errors.Is(err, ErrHubClosed) {
			code = websocket.StatusGoingAway
		}
		h.log.Warn(r.Context(), "connection rejected", "remote", r.RemoteAddr, "err", err)
		client.close(code, err.Error())
		return
	}
	defer h.hub.Deregister(client)

	log := h.log.With("client_id", client.ID())
	log.Info(r.Context(), "client connected", "remote", r.RemoteAddr)

	go h.sendHistory(connCtx, client, log)

	// Every path that deregisters the client also closes its socket, which
	// ends the read loop.
	h.readLoop(readCtx, conn, client, log)
	log.Info(r.Context(), "client disconnected")
}

// sendHistory delivers the load history event. A store failure yields an
// empty history so clients can rely on receiving exactly one.
func (h *Handler) sendHistory(ctx context.Context, c *Client, log logging.Logger) {
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	recent, err := h.messages.Recent(storeCtx, h.historyLimit)
	if err != nil {
		log.Warn(ctx, "failed to load history", "err", err)
		recent = nil
	}

	payload, err := encodeHistory(recent)
	if err != nil {
		log.Error(ctx, "failed to encode history", "err", err)
		return
	}
	if !h.hub.SendTo(c, payload) {
		log.Debug(ctx, "history not delivered, client gone")
	}
}

// readLoop processes inbound frames one at a time, in arrival order.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, c *Client, log logging.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug(ctx, "read failed", "err", err)
			}
			return
		}
		h.hub.Touch(c)
		h.handleFrame(ctx, c, data, log)
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *Client, data []byte, log logging.Logger) {
	p, err := decodeChat(data)
	if err != nil {
		log.Warn(ctx, "rejected event", "err", err)
		h.sendError(c, err.Error(), log)
		return
	}

	// The message is persisted even if the sender drops mid-call.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	msg := &message.Message{Author: p.User, Body: p.Text}
	if err := h.messages.Append(storeCtx, msg); err != nil {
		log.Error(ctx, "failed to persist message", "user", p.User, "err", err)
		h.sendError(c, "message could not be saved", log)
		return
	}

	payload, err := encodeEnvelope(EventChatMessage, toChatMessage(msg))
	if err != nil {
		log.Error(ctx, "failed to encode message", "err", err)
		return
	}
	n := h.hub.Broadcast(payload)
	log.Debug(ctx, "message broadcast", "message_id", msg.ID, "recipients", n)
}

func (h *Handler) sendError(c *Client, text string, log logging.Logger) {
	payload, err := encodeEnvelope(EventError, ErrorPayload{Message: text})
	if err != nil {
		log.Error(context.Background(), "failed to encode error", "err", err)
		return
	}
	h.hub.SendTo(c, payload)
}
