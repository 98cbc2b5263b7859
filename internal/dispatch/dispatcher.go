// Package dispatch maps opcodes to the handlers registered for them.
package dispatch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
)

var (
	// ErrUnknownOpcode is returned for a record whose opcode has no handler.
	ErrUnknownOpcode = errors.New("dispatch: unknown opcode")
	// ErrReservedOpcode is returned when a peer sends a lifecycle opcode over the wire.
	ErrReservedOpcode = errors.New("dispatch: reserved opcode")
)

// HandlerFunc decodes one record's payload from r. It runs on the connection's read goroutine
// and must not touch shared state; it hands the decoded values to the action queue instead.
type HandlerFunc func(conn kephasmmo.Conn, r *protocol.Reader)

// Registration binds a handler to the single opcode it reacts to.
type Registration struct {
	Op     kephasmmo.Opcode
	Name   string
	Handle HandlerFunc
}

// Dispatcher is the static opcode table. It is built once and never modified, so it is safe to
// use from every connection goroutine.
type Dispatcher struct {
	table  map[kephasmmo.Opcode][]Registration
	logger *zap.Logger
}

// New builds the table. Handlers sharing an opcode run in the order given.
func New(logger *zap.Logger, regs ...Registration) *Dispatcher {
	table := make(map[kephasmmo.Opcode][]Registration)
	for _, reg := range regs {
		if reg.Handle == nil {
			continue
		}
		table[reg.Op] = append(table[reg.Op], reg)
	}
	return &Dispatcher{table: table, logger: logger}
}

// handlerCount returns the number of handlers registered for op.
func (d *Dispatcher) handlerCount(op kephasmmo.Opcode) int {
	return len(d.table[op])
}

// Dispatch calls every handler registered for op. Each handler reads from its own fork of r
// positioned at the record payload; afterwards r is advanced past the furthest byte any
// handler consumed.
func (d *Dispatcher) Dispatch(op kephasmmo.Opcode, conn kephasmmo.Conn, r *protocol.Reader) error {
	regs, ok := d.table[op]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}

	end := r.Offset()
	for _, reg := range regs {
		fr := r.Fork()
		reg.Handle(conn, fr)
		if err := fr.Err(); err != nil {
			return fmt.Errorf("%s: %w", reg.Name, err)
		}
		if fr.Offset() > end {
			end = fr.Offset()
		}
	}
	r.SetOffset(end)
	return nil
}

// HandleMessage dispatches every record in data, in order.
func (d *Dispatcher) HandleMessage(conn kephasmmo.Conn, data []byte) error {
	r := protocol.NewReader(data)
	for r.Len() > 0 {
		op, err := r.Opcode()
		if err != nil {
			return err
		}
		if op == kephasmmo.OpConnected || op == kephasmmo.OpDisconnected {
			return fmt.Errorf("%w: %s", ErrReservedOpcode, op)
		}
		if err := d.Dispatch(op, conn, r); err != nil {
			return err
		}
	}
	return nil
}

// HandleConnected raises the synthetic Connected record.
func (d *Dispatcher) HandleConnected(conn kephasmmo.Conn) {
	d.lifecycle(kephasmmo.OpConnected, conn)
}

// HandleDisconnected raises the synthetic Disconnected record.
func (d *Dispatcher) HandleDisconnected(conn kephasmmo.Conn) {
	d.lifecycle(kephasmmo.OpDisconnected, conn)
}

func (d *Dispatcher) lifecycle(op kephasmmo.Opcode, conn kephasmmo.Conn) {
	if _, ok := d.table[op]; !ok {
		return
	}
	if err := d.Dispatch(op, conn, protocol.NewReader(nil)); err != nil {
		d.logger.Error("lifecycle dispatch failed",
			zap.String("conn_id", conn.ID()),
			zap.Stringer("opcode", op),
			zap.Error(err))
	}
}
