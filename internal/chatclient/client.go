// Package chatclient talks to a groupchat server: account calls over HTTP
// and the chat session over a WebSocket.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/christopherjohns/groupchat/internal/ws"
	"nhooyr.io/websocket"
)

var (
	ErrNotLoggedIn  = errors.New("chatclient: not logged in")
	ErrNotConnected = errors.New("chatclient: not connected")
)

// APIError is a non-2xx answer from the account endpoints.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Event is one decoded server event. Exactly one of History, Message or
// Error is meaningful, depending on Type.
type Event struct {
	Type    string
	History []ws.ChatMessage
	Message ws.ChatMessage
	Error   string
}

type Client struct {
	baseURL  *url.URL
	http     *http.Client
	conn     *websocket.Conn
	username string
}

// New returns a client for the server at baseURL, e.g. "http://localhost:3000".
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Username is the name confirmed by the last successful Login.
func (c *Client) Username() string { return c.username }

func (c *Client) Register(ctx context.Context, username, password string) error {
	var out struct {
		Message string `json:"message"`
	}
	return c.post(ctx, "/register", username, password, &out)
}

// Login verifies the credentials and remembers the username for Send.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var out struct {
		Success  bool   `json:"success"`
		Username string `json:"username"`
	}
	if err := c.post(ctx, "/login", username, password, &out); err != nil {
		return err
	}
	if !out.Success {
		return &APIError{Status: http.StatusOK, Message: "login not confirmed"}
	}
	c.username = out.Username
	return nil
}

func (c *Client) post(ctx context.Context, path, username, password string, out any) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// Connect opens the chat WebSocket. The first event received is the
// message history.
func (c *Client) Connect(ctx context.Context) error {
	if c.username == "" {
		return ErrNotLoggedIn
	}
	u := *c.baseURL
	u.Scheme = "ws"
	if c.baseURL.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/ws"

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	// History alone can hold many large messages.
	conn.SetReadLimit(-1)
	c.conn = conn
	return nil
}

// Send posts text to the room as the logged-in user.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(ws.ChatPayload{User: c.username, Text: text})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ws.Envelope{Type: ws.EventChatMessage, Payload: payload})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Receive blocks for the next server event.
func (c *Client) Receive(ctx context.Context) (Event, error) {
	if c.conn == nil {
		return Event{}, ErrNotConnected
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Event{}, err
	}

	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	ev := Event{Type: env.Type}
	switch env.Type {
	case ws.EventLoadHistory:
		err = json.Unmarshal(env.Payload, &ev.History)
	case ws.EventChatMessage:
		err = json.Unmarshal(env.Payload, &ev.Message)
	case ws.EventError:
		var p ws.ErrorPayload
		err = json.Unmarshal(env.Payload, &p)
		ev.Error = p.Message
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.conn = nil
	return err
}
