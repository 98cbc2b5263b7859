// Package websocket is the websocket transport. Each binary frame is one physical message of
// opcode records.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
)

// Path is where the server accepts websocket upgrades.
const Path = "/ws"

// DefaultMaxMessageSize bounds an inbound frame when the config leaves it unset.
const DefaultMaxMessageSize = 64 * 1024

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins accepts every origin. Game clients are not browsers, so there is no page origin to
// check.
func AllOrigins() CheckOriginFn {
	return func(*http.Request) bool { return true }
}

type ServerConfig struct {
	Addr            string
	Handler         kephasmmo.Handler
	MaxMessageSize  int64
	RateLimitConfig *kephasmmo.RateLimitConfig
	CheckOrigin     CheckOriginFn
	Logger          *zap.Logger
}

var _ kephasmmo.Server = (*Server)(nil)

// Server accepts websocket connections and feeds them to a kephasmmo.Handler.
type Server struct {
	addr            string
	server          *http.Server
	listener        net.Listener
	clients         sync.Map // map[string]*Client
	handler         kephasmmo.Handler
	maxMessageSize  int64
	rateLimitConfig *kephasmmo.RateLimitConfig
	logger          *zap.Logger

	mu       sync.RWMutex
	running  bool
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// New creates a server. A nil RateLimitConfig uses kephasmmo.DefaultRateLimitConfig and a nil
// CheckOrigin accepts every origin.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = kephasmmo.DefaultRateLimitConfig()
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = AllOrigins()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:            cfg.Addr,
		handler:         cfg.Handler,
		maxMessageSize:  cfg.MaxMessageSize,
		rateLimitConfig: cfg.RateLimitConfig,
		logger:          logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return kephasmmo.ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWebSocket)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.running = true

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve", zap.Error(err))
		}
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down and closes every client. It waits, within ctx, for each client
// to raise its Disconnected event.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	err := s.server.Shutdown(ctx)

	s.clients.Range(func(_, value any) bool {
		if client, ok := value.(*Client); ok {
			client.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.rateLimitConfig.NewLimiter(), s.logger)
	s.clients.Store(client.ID(), client)

	s.wg.Add(1)
	go s.handleClient(client)
}

// handleClient is the client's read loop. It raises Connected first and Disconnected exactly
// once when the loop ends, whatever ended it.
func (s *Server) handleClient(client *Client) {
	defer s.wg.Done()
	defer func() {
		client.CloseWithCode(websocket.CloseNormalClosure, "")
		s.clients.Delete(client.ID())
		s.handler.HandleDisconnected(client)
	}()

	client.conn.SetReadLimit(s.maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.handler.HandleConnected(client)

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				client.logger.Info("unexpected close", zap.Error(err))
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !client.CheckRateLimit() {
			client.logger.Warn("rate limit exceeded")
			client.CloseWithCode(websocket.ClosePolicyViolation, kephasmmo.ErrRateLimited.Error())
			return
		}
		if msgType != websocket.BinaryMessage {
			client.CloseWithCode(websocket.CloseUnsupportedData, "binary frames only")
			return
		}

		if err := s.handler.HandleMessage(client, data); err != nil {
			client.logger.Warn("protocol violation", zap.Error(err))
			client.CloseWithCode(websocket.CloseProtocolError, "invalid message")
			return
		}
	}
}
