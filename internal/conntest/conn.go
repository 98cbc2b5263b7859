// Package conntest provides an in-memory kephasmmo.Conn that records what is sent to it.
package conntest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
)

// Conn is a recording connection for tests.
type Conn struct {
	id     string
	addr   string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

var _ kephasmmo.Conn = (*Conn)(nil)

func New(addr string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     uuid.New().String(),
		addr:   addr,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.addr
}

func (c *Conn) Context() context.Context {
	return c.ctx
}

func (c *Conn) Send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sent = append(c.sent, append([]byte(nil), msg...))
}

func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.cancel()
	}
	return nil
}

func (c *Conn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Sent returns a copy of every message sent so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Opcodes returns the opcode of every message sent so far.
func (c *Conn) Opcodes() []kephasmmo.Opcode {
	var ops []kephasmmo.Opcode
	for _, msg := range c.Sent() {
		if len(msg) > 0 {
			ops = append(ops, kephasmmo.Opcode(msg[0]))
		}
	}
	return ops
}

// Count returns how many sent messages start with op.
func (c *Conn) Count(op kephasmmo.Opcode) int {
	n := 0
	for _, got := range c.Opcodes() {
		if got == op {
			n++
		}
	}
	return n
}

// Last returns a reader over the payload of the most recent message starting with op, or nil.
func (c *Conn) Last(op kephasmmo.Opcode) *protocol.Reader {
	sent := c.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if len(sent[i]) > 0 && kephasmmo.Opcode(sent[i][0]) == op {
			r := protocol.NewReader(sent[i])
			_, _ = r.Opcode()
			return r
		}
	}
	return nil
}

// Reset forgets every recorded message.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
