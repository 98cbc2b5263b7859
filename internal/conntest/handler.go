package conntest

import (
	"sync"

	"github.com/luciancaetano/kephasmmo"
)

// Handler is a kephasmmo.Handler for transport tests. It records lifecycle events on buffered
// channels and passes messages to OnMessage, echoing them back when OnMessage is nil.
type Handler struct {
	Connected    chan kephasmmo.Conn
	Disconnected chan kephasmmo.Conn
	OnMessage    func(conn kephasmmo.Conn, data []byte) error

	mu            sync.Mutex
	disconnectsBy map[string]int
}

var _ kephasmmo.Handler = (*Handler)(nil)

func NewHandler() *Handler {
	return &Handler{
		Connected:     make(chan kephasmmo.Conn, 16),
		Disconnected:  make(chan kephasmmo.Conn, 16),
		disconnectsBy: make(map[string]int),
	}
}

func (h *Handler) HandleConnected(conn kephasmmo.Conn) {
	h.Connected <- conn
}

func (h *Handler) HandleMessage(conn kephasmmo.Conn, data []byte) error {
	if h.OnMessage != nil {
		return h.OnMessage(conn, data)
	}
	conn.Send(append([]byte(nil), data...))
	return nil
}

func (h *Handler) HandleDisconnected(conn kephasmmo.Conn) {
	h.mu.Lock()
	h.disconnectsBy[conn.ID()]++
	h.mu.Unlock()
	h.Disconnected <- conn
}

// Disconnects returns how many times the connection with id was reported gone.
func (h *Handler) Disconnects(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnectsBy[id]
}
