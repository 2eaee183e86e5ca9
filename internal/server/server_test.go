package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/groupchat/internal/auth"
	"github.com/christopherjohns/groupchat/internal/config"
	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/christopherjohns/groupchat/internal/message"
	"github.com/christopherjohns/groupchat/internal/user"
	"github.com/christopherjohns/groupchat/internal/ws"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"nhooyr.io/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv      *Server
	hub      *ws.Hub
	messages *message.MemoryStore
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	log := logging.Discard()

	messages := message.NewMemoryStore(0)
	creds := user.NewCredentialStore(user.NewMemoryRepository(), user.NewBcryptHasher(bcrypt.MinCost))
	hub := ws.NewHub(log)
	gateway := ws.NewHandler(hub, messages, log)

	cfg := config.HTTPConfig{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
	srv := New(cfg, hub, gateway, auth.NewHandler(creds, log), log)
	return &testEnv{srv: srv, hub: hub, messages: messages}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var stats ws.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Active != 0 {
		t.Errorf("expected 0 active, got %d", stats.Active)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "http://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allow-origin *, got %q", got)
	}
}

func TestCORSConfigFromHostPatterns(t *testing.T) {
	cfg := corsConfig([]string{"chat.example.com", "https://admin.example.com"})
	if cfg.AllowAllOrigins {
		t.Fatal("expected a restricted policy")
	}
	want := []string{"http://chat.example.com", "https://chat.example.com", "https://admin.example.com"}
	if strings.Join(cfg.AllowOrigins, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, cfg.AllowOrigins)
	}

	if !corsConfig([]string{"a.example.com", "*"}).AllowAllOrigins {
		t.Fatal("expected * to allow all origins")
	}
	if !corsConfig(nil).AllowAllOrigins {
		t.Fatal("expected no patterns to allow all origins")
	}
}

func postJSON(t *testing.T, base, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(base+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return resp.StatusCode, out
}

func readEnvelope(t *testing.T, conn *websocket.Conn) ws.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// TestServeEndToEnd registers, logs in, chats over the WebSocket and shuts
// the server down.
func TestServeEndToEnd(t *testing.T) {
	env := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)

	base := "http://" + ln.Addr().String()

	if code, body := postJSON(t, base, "/register", `{"username":"alice","password":"pw1"}`); code != http.StatusOK {
		t.Fatalf("register: %d %v", code, body)
	}
	if code, _ := postJSON(t, base, "/register", `{"username":"alice","password":"pw2"}`); code != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", code)
	}
	if code, _ := postJSON(t, base, "/login", `{"username":"alice","password":"wrongpw"}`); code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", code)
	}
	code, body := postJSON(t, base, "/login", `{"username":"alice","password":"pw1"}`)
	if code != http.StatusOK || body["username"] != "alice" {
		t.Fatalf("login: %d %v", code, body)
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if first := readEnvelope(t, conn); first.Type != ws.EventLoadHistory || string(first.Payload) != "[]" {
		t.Fatalf("expected empty history, got %s %s", first.Type, first.Payload)
	}

	writeCtx, writeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer writeCancel()
	frame := `{"type":"chat message","payload":{"user":"alice","text":"hello"}}`
	if err := conn.Write(writeCtx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readEnvelope(t, conn)
	var msg ws.ChatMessage
	if err := json.Unmarshal(got.Payload, &msg); err != nil {
		t.Fatalf("unmarshal chat: %v", err)
	}
	if got.Type != ws.EventChatMessage || msg.User != "alice" || msg.Text != "hello" {
		t.Fatalf("unexpected broadcast %s %+v", got.Type, msg)
	}
	if env.messages.Count() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", env.messages.Count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, _, err = conn.Read(readCtx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected GoingAway on shutdown, got %v (%v)", status, err)
	}
}

// TestServeShutdownWithSilentPeer checks that a client that never answers
// the close handshake cannot hold shutdown past ShutdownTimeout.
func TestServeShutdownWithSilentPeer(t *testing.T) {
	env := newTestServer(t)
	env.srv.cfg.ShutdownTimeout = 300 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	readEnvelope(t, conn)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took %v with a %v timeout", elapsed, env.srv.cfg.ShutdownTimeout)
	}
}

func TestRunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	env := newTestServer(t)
	env.srv.cfg.Addr = ln.Addr().String()

	if err := env.srv.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the address is in use")
	}
}
