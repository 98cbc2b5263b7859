// Package tcp is the raw TCP transport. Every physical message is framed as
//
//	[4 bytes: little-endian int32 length][records]
//
// so a message boundary survives TCP segmentation.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
)

// DefaultMaxMessageSize bounds an inbound frame when the config leaves it unset.
const DefaultMaxMessageSize = 64 * 1024

type ServerConfig struct {
	Addr            string
	Handler         kephasmmo.Handler
	MaxMessageSize  int64
	RateLimitConfig *kephasmmo.RateLimitConfig
	// IdleTimeout closes a connection that sends nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

var _ kephasmmo.Server = (*Server)(nil)

// Server accepts TCP connections and feeds their frames to a kephasmmo.Handler.
type Server struct {
	addr            string
	handler         kephasmmo.Handler
	maxMessageSize  int64
	rateLimitConfig *kephasmmo.RateLimitConfig
	idleTimeout     time.Duration
	logger          *zap.Logger

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	conns    sync.Map // map[string]*Conn
	wg       sync.WaitGroup
}

func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = kephasmmo.DefaultRateLimitConfig()
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
		idleTimeout:     cfg.IdleTimeout,
		logger:          logger.Named("tcp"),
	}
}

// Start listens and accepts in the background.
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
	s.listener = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ln)
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

// Stop closes the listener and every connection, then waits within ctx for their
// Disconnected events.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	err := s.listener.Close()
	s.mu.Unlock()

	s.conns.Range(func(_, value any) bool {
		if c, ok := value.(*Conn); ok {
			c.shutdown()
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
		return ctx.Err()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept", zap.Error(err))
			}
			return
		}
		c := newConn(nc, s.rateLimitConfig.NewLimiter(), s.logger)
		s.conns.Store(c.ID(), c)
		s.wg.Add(1)
		go s.handleConn(c)
	}
}

// handleConn is the connection's read loop. Connected is raised first and Disconnected exactly
// once when the loop ends.
func (s *Server) handleConn(c *Conn) {
	defer s.wg.Done()
	defer func() {
		c.shutdown()
		s.conns.Delete(c.ID())
		s.handler.HandleDisconnected(c)
	}()

	s.handler.HandleConnected(c)

	r := bufio.NewReader(c.conn)
	for {
		data, err := s.readFrame(c, r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, kephasmmo.ErrMessageTooLarge):
				c.logger.Warn("frame rejected", zap.Error(err))
			default:
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if len(data) == 0 {
			continue
		}

		if !c.allow() {
			c.logger.Warn("rate limit exceeded")
			return
		}
		if err := s.handler.HandleMessage(c, data); err != nil {
			c.logger.Warn("protocol violation", zap.Error(err))
			return
		}
	}
}

func (s *Server) readFrame(c *Conn, r *bufio.Reader) ([]byte, error) {
	if s.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(header[:]))
	if n < 0 || int64(n) > s.maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", kephasmmo.ErrMessageTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
