package tcp

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasmmo"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	// headerSize is the length prefix in front of every physical message.
	headerSize = 4
)

var _ kephasmmo.Conn = (*Conn)(nil)

// Conn is one length-framed TCP connection. It implements kephasmmo.Conn.
type Conn struct {
	id          string
	conn        net.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

func newConn(nc net.Conn, limiter *rate.Limiter, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	addr := nc.RemoteAddr().String()

	c := &Conn{
		id:          id,
		conn:        nc,
		remoteAddr:  addr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		rateLimiter: limiter,
		logger:      logger.With(zap.String("conn_id", id), zap.String("remote_addr", addr)),
	}
	go c.writePump()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send queues msg without blocking. When the buffer is full the connection is closed.
func (c *Conn) Send(msg []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.sendCh <- msg:
		c.mu.RUnlock()
		return
	default:
	}
	c.mu.RUnlock()

	c.logger.Warn("send buffer full, closing connection")
	c.shutdown()
}

// Close stops accepting messages. Queued messages are flushed before the socket closes.
func (c *Conn) Close(ctx context.Context) error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.sendCh)
}

func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) allow() bool {
	return c.rateLimiter == nil || c.rateLimiter.Allow()
}

func (c *Conn) writePump() {
	defer c.conn.Close()

	header := make([]byte, headerSize)
	for msg := range c.sendCh {
		binary.LittleEndian.PutUint32(header, uint32(len(msg)))
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := (&net.Buffers{header, msg}).WriteTo(c.conn); err != nil {
			c.logger.Debug("write failed", zap.Error(err))
			c.shutdown()
			for range c.sendCh {
			}
			return
		}
	}
}
