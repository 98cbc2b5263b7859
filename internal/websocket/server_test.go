package websocket

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/conntest"
)

const waitTimeout = 5 * time.Second

func startServer(t *testing.T, h kephasmmo.Handler, mutate func(*ServerConfig)) *Server {
	t.Helper()
	cfg := &ServerConfig{
		Addr:            "127.0.0.1:0",
		Handler:         h,
		RateLimitConfig: kephasmmo.NoRateLimit(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	server := New(cfg)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	dialer := &websocket.Dialer{HandshakeTimeout: waitTimeout}
	conn, _, err := dialer.Dial("ws://"+server.Addr()+Path, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConn(t *testing.T, ch <-chan kephasmmo.Conn, what string) kephasmmo.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

// readCloseCode reads until the server closes the socket and returns the close code.
func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		t.Fatalf("expected a close frame, got %v", err)
		return 0
	}
}

// TestNewServer tests server creation with various configurations
func TestNewServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		rateLimitConfig *kephasmmo.RateLimitConfig
		maxMessageSize  int64
		wantMaxSize     int64
	}{
		{
			name:            "with default rate limit",
			rateLimitConfig: kephasmmo.DefaultRateLimitConfig(),
			wantMaxSize:     DefaultMaxMessageSize,
		},
		{
			name:            "with no rate limit",
			rateLimitConfig: kephasmmo.NoRateLimit(),
			maxMessageSize:  512,
			wantMaxSize:     512,
		},
		{
			name:            "with nil rate limit config",
			rateLimitConfig: nil,
			wantMaxSize:     DefaultMaxMessageSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := New(&ServerConfig{
				Addr:            ":0",
				Handler:         conntest.NewHandler(),
				RateLimitConfig: tt.rateLimitConfig,
				MaxMessageSize:  tt.maxMessageSize,
			})

			if server.rateLimitConfig == nil {
				t.Error("server.rateLimitConfig is nil")
			}
			if server.maxMessageSize != tt.wantMaxSize {
				t.Errorf("maxMessageSize = %d, want %d", server.maxMessageSize, tt.wantMaxSize)
			}
			if server.upgrader.CheckOrigin == nil {
				t.Error("expected a default CheckOrigin")
			}
			if server.running {
				t.Error("new server should not be running")
			}
		})
	}
}

// TestCheckOriginFunction tests custom origin checking
func TestCheckOriginFunction(t *testing.T) {
	t.Parallel()

	h := conntest.NewHandler()
	server := startServer(t, h, func(cfg *ServerConfig) {
		cfg.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == "" }
	})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	dialer := &websocket.Dialer{HandshakeTimeout: waitTimeout}
	if _, _, err := dialer.Dial("ws://"+server.Addr()+Path, header); err == nil {
		t.Fatal("expected the handshake to be rejected")
	}

	dial(t, server)
	waitConn(t, h.Connected, "connected")
}

// TestStartTwice tests that a running server refuses a second Start
func TestStartTwice(t *testing.T) {
	t.Parallel()

	server := startServer(t, conntest.NewHandler(), nil)
	if err := server.Start(context.Background()); !errors.Is(err, kephasmmo.ErrServerAlreadyRunning) {
		t.Errorf("Start() error = %v, want %v", err, kephasmmo.ErrServerAlreadyRunning)
	}
}

// TestEcho tests a binary round trip through the handler
func TestEcho(t *testing.T) {
	t.Parallel()

	h := conntest.NewHandler()
	server := startServer(t, h, nil)
	conn := dial(t, server)
	c := waitConn(t, h.Connected, "connected")
	if !c.IsAlive() {
		t.Error("connection should be alive")
	}

	payload := []byte{byte(kephasmmo.OpKeepAliveProbe)}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	msgType, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %v, want %v", got, payload)
	}
}

// TestDisconnectedOnce tests that a peer close raises Disconnected exactly once
func TestDisconnectedOnce(t *testing.T) {
	t.Parallel()

	h := conntest.NewHandler()
	server := startServer(t, h, nil)
	conn := dial(t, server)
	c := waitConn(t, h.Connected, "connected")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	gone := waitConn(t, h.Disconnected, "disconnected")
	if gone.ID() != c.ID() {
		t.Errorf("disconnected %s, want %s", gone.ID(), c.ID())
	}
	c.Close(context.Background())
	time.Sleep(50 * time.Millisecond)
	if n := h.Disconnects(c.ID()); n != 1 {
		t.Errorf("Disconnected raised %d times, want 1", n)
	}
	if c.IsAlive() {
		t.Error("connection should be closed")
	}
	if c.Context().Err() == nil {
		t.Error("connection context should be cancelled")
	}
}

// TestCloseCodes tests the close code sent for each kind of violation
func TestCloseCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*ServerConfig)
		onMsg    func(kephasmmo.Conn, []byte) error
		msgType  int
		messages [][]byte
		wantCode int
	}{
		{
			name:     "protocol error",
			onMsg:    func(kephasmmo.Conn, []byte) error { return errors.New("bad record") },
			msgType:  websocket.BinaryMessage,
			messages: [][]byte{{0xFF}},
			wantCode: websocket.CloseProtocolError,
		},
		{
			name:     "message too big",
			mutate:   func(cfg *ServerConfig) { cfg.MaxMessageSize = 8 },
			msgType:  websocket.BinaryMessage,
			messages: [][]byte{bytes.Repeat([]byte{1}, 64)},
			wantCode: websocket.CloseMessageTooBig,
		},
		{
			name: "rate limited",
			mutate: func(cfg *ServerConfig) {
				cfg.RateLimitConfig = &kephasmmo.RateLimitConfig{MessagesPerSecond: 1, Burst: 1, Enabled: true}
			},
			onMsg:    func(kephasmmo.Conn, []byte) error { return nil },
			msgType:  websocket.BinaryMessage,
			messages: [][]byte{{28}, {28}, {28}},
			wantCode: websocket.ClosePolicyViolation,
		},
		{
			name:     "text frame",
			msgType:  websocket.TextMessage,
			messages: [][]byte{[]byte("hello")},
			wantCode: websocket.CloseUnsupportedData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := conntest.NewHandler()
			h.OnMessage = tt.onMsg
			server := startServer(t, h, tt.mutate)
			conn := dial(t, server)
			waitConn(t, h.Connected, "connected")

			for _, m := range tt.messages {
				if err := conn.WriteMessage(tt.msgType, m); err != nil {
					break
				}
			}
			if code := readCloseCode(t, conn); code != tt.wantCode {
				t.Errorf("close code = %d, want %d", code, tt.wantCode)
			}
			waitConn(t, h.Disconnected, "disconnected")
		})
	}
}

// TestServerSideClose tests that Close from the application reaches the peer and raises
// Disconnected
func TestServerSideClose(t *testing.T) {
	t.Parallel()

	h := conntest.NewHandler()
	server := startServer(t, h, nil)
	conn := dial(t, server)
	c := waitConn(t, h.Connected, "connected")

	c.Send([]byte{byte(kephasmmo.OpAdminMessage)})
	c.Close(context.Background())
	c.Send([]byte{byte(kephasmmo.OpAdminMessage)})

	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("queued message should be flushed before the close frame: %v", err)
	}
	if len(got) != 1 || got[0] != byte(kephasmmo.OpAdminMessage) {
		t.Errorf("got %v", got)
	}
	if code := readCloseCode(t, conn); code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", code, websocket.CloseNormalClosure)
	}
	waitConn(t, h.Disconnected, "disconnected")
}

// TestStopClosesClients tests that Stop closes open connections and waits for their teardown
func TestStopClosesClients(t *testing.T) {
	t.Parallel()

	h := conntest.NewHandler()
	server := New(&ServerConfig{Addr: "127.0.0.1:0", Handler: h})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := dial(t, server)
	c := waitConn(t, h.Connected, "connected")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := h.Disconnects(c.ID()); n != 1 {
		t.Errorf("Disconnected raised %d times, want 1", n)
	}
	if code := readCloseCode(t, conn); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	if err := server.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
