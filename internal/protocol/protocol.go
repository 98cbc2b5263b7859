// Package protocol implements the wire codec: little-endian fixed-width values, int32
// length-prefixed UTF-8 strings, and one opcode byte at the start of each record.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/luciancaetano/kephasmmo"
)

const (
	opcodeSize = 1
	int32Size  = 4
)

// ErrTruncated is reported when a fixed-width value runs past the end of the message.
var ErrTruncated = errors.New("protocol: truncated record")

// Writer builds an outbound message. A message may hold several records; call Op to start the
// next one.
type Writer struct {
	buf []byte
}

// NewMessage returns a Writer whose first record has the given opcode.
func NewMessage(op kephasmmo.Opcode) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	return w.Op(op)
}

// Op starts a new record.
func (w *Writer) Op(op kephasmmo.Opcode) *Writer {
	w.buf = append(w.buf, byte(op))
	return w
}

// Uint8 appends one byte.
func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// Bool appends a bool as one byte, 1 for true.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

// Int32 appends v little-endian.
func (w *Writer) Int32(v int32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	return w
}

// Int writes v as an int32.
func (w *Writer) Int(v int) *Writer {
	return w.Int32(int32(v))
}

// Ints writes an int32 count followed by each value as an int32.
func (w *Writer) Ints(vs []int) *Writer {
	w.Int(len(vs))
	for _, v := range vs {
		w.Int(v)
	}
	return w
}

// Float32 appends v as a little-endian IEEE 754 single.
func (w *Writer) Float32(v float32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	return w
}

// Text writes an int32 byte length followed by the UTF-8 bytes of s.
func (w *Writer) Text(s string) *Writer {
	w.Int(len(s))
	w.buf = append(w.buf, s...)
	return w
}

// Bytes returns the encoded message.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Encode builds a single-record message from an opcode and a list of fields.
// Supported field types are int, int32, float32, bool, uint8, string, []int and []int32.
func Encode(op kephasmmo.Opcode, fields ...any) ([]byte, error) {
	w := NewMessage(op)
	for i, f := range fields {
		switch v := f.(type) {
		case int:
			w.Int(v)
		case int32:
			w.Int32(v)
		case float32:
			w.Float32(v)
		case bool:
			w.Bool(v)
		case uint8:
			w.Uint8(v)
		case string:
			w.Text(v)
		case []int:
			w.Ints(v)
		case []int32:
			w.Int(len(v))
			for _, n := range v {
				w.Int32(n)
			}
		default:
			return nil, fmt.Errorf("encode %s field %d: unsupported type %T", op, i, f)
		}
	}
	return w.Bytes(), nil
}

// Reader decodes records from one inbound message.
//
// Fixed-width reads past the end return the zero value and set a sticky ErrTruncated.
// Strings fail closed: a negative or oversized length yields "" and consumes the rest of the
// message without setting an error.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader reads from data, which must not change while the Reader is in use.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.off
}

// Offset is the position of the next unread byte.
func (r *Reader) Offset() int {
	return r.off
}

// Fork returns an independent reader positioned at the current offset.
func (r *Reader) Fork() *Reader {
	return &Reader{data: r.data, off: r.off, err: r.err}
}

// SetOffset moves the read position, clamped to the message bounds.
func (r *Reader) SetOffset(off int) {
	switch {
	case off < 0:
		r.off = 0
	case off > len(r.data):
		r.off = len(r.data)
	default:
		r.off = off
	}
}

// Err returns the first decode error, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Opcode reads the opcode that starts the next record.
func (r *Reader) Opcode() (kephasmmo.Opcode, error) {
	if r.Len() < opcodeSize {
		return kephasmmo.OpUndefined, ErrTruncated
	}
	op := kephasmmo.Opcode(r.data[r.off])
	r.off += opcodeSize
	return op, nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Len() < n {
		r.err = ErrTruncated
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Uint8 reads one byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads one byte; any non-zero value is true.
func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() int32 {
	b := r.take(int32Size)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

// Int reads an int32 and widens it.
func (r *Reader) Int() int {
	return int(r.Int32())
}

// Float32 reads a little-endian IEEE 754 single.
func (r *Reader) Float32() float32 {
	b := r.take(int32Size)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Text reads a length-prefixed string.
func (r *Reader) Text() string {
	if r.err != nil {
		return ""
	}
	if r.Len() < int32Size {
		r.off = len(r.data)
		return ""
	}
	n := int(int32(binary.LittleEndian.Uint32(r.data[r.off:])))
	r.off += int32Size
	if n < 0 || n > r.Len() {
		r.off = len(r.data)
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}
