package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasmmo"
)

const (
	// sendBufferSize is how many outbound messages may wait for the writer.
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second
)

var _ kephasmmo.Conn = (*Client)(nil)

// Client is one websocket connection. It implements kephasmmo.Conn.
type Client struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient wraps an upgraded connection and starts its writer. A nil limiter disables rate
// limiting.
func NewClient(conn *websocket.Conn, remoteAddr string, limiter *rate.Limiter, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	client := &Client{
		id:          id,
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		rateLimiter: limiter,
		logger:      logger.With(zap.String("conn_id", id), zap.String("remote_addr", remoteAddr)),
	}

	go client.writePump()

	return client
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled when the connection closes.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Send queues msg for the writer without blocking. A full buffer means the peer is not
// reading, so the connection is closed.
func (c *Client) Send(msg []byte) {
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
	c.CloseWithCode(websocket.CloseTryAgainLater, "send buffer full")
}

// Close closes the connection normally.
func (c *Client) Close(ctx context.Context) error {
	c.CloseWithCode(websocket.CloseNormalClosure, "")
	return nil
}

// CloseWithCode marks the connection closed and hands the close frame to the writer, which
// flushes queued messages first. It never blocks and is safe to call more than once.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.cancel()
	close(c.sendCh)
}

func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// CheckRateLimit reports whether another inbound message is allowed now.
func (c *Client) CheckRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump owns every write to the socket. It exits after writing the close frame, closing
// the socket so the read loop unblocks.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				frame := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.mu.RUnlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, frame)
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.CloseWithCode(websocket.CloseAbnormalClosure, "")
				c.drain()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.CloseWithCode(websocket.CloseAbnormalClosure, "")
				c.drain()
				return
			}
		}
	}
}

// drain discards whatever is still queued after a failed write.
func (c *Client) drain() {
	for range c.sendCh {
	}
}
