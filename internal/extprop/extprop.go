// Package extprop reads and writes tagged property chunks. Each entry is a
// 32-bit code, a 16-bit payload size and the payload itself, all little
// endian. Readers skip codes they do not know by size.
package extprop

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

// MaxSize is the largest payload a single entry can carry.
const MaxSize = 0xFFFF

// ErrTooLarge is returned when a payload does not fit in 16 bits.
var ErrTooLarge = errors.New("extprop: payload larger than 65535 bytes")

// Code builds a property code from its four character name. Existing files
// store the code as a little-endian integer of the big-endian name, so the
// characters appear reversed on disk.
func Code(name string) uint32 {
	var b [4]byte
	copy(b[:], name)
	return binary.BigEndian.Uint32(b[:])
}

// Name is the inverse of Code.
func Name(code uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], code)
	return string(b[:])
}

// Entry is one decoded (code, payload) pair. Payload is a cursor over exactly
// size bytes, possibly fewer if the chunk was truncated.
type Entry struct {
	Code    uint32
	Size    int
	Payload *fieldreader.Cursor
}

// Next reads the next entry header and carves its payload. It returns false
// when fewer than six bytes remain.
func Next(c *fieldreader.Cursor) (Entry, bool) {
	code, size, ok := NextHeader(c)
	if !ok {
		return Entry{}, false
	}
	return Entry{Code: code, Size: size, Payload: c.ReadChunk(size)}, true
}

// NextHeader reads only the code and size of the next entry. It is used by
// blocks where one header is followed by several payloads of the same size.
func NextHeader(c *fieldreader.Cursor) (code uint32, size int, ok bool) {
	if !c.CanRead(6) {
		return 0, 0, false
	}
	code, _ = c.ReadU32LE()
	s, _ := c.ReadU16LE()
	return code, int(s), true
}

// PeekCode returns the next code without consuming it.
func PeekCode(c *fieldreader.Cursor) (uint32, bool) {
	b, ok := c.Peek(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// Writer emits entries to an io.Writer.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Header writes an entry header. The caller must follow it with exactly size
// payload bytes.
func (w *Writer) Header(code uint32, size int) {
	if w.err != nil {
		return
	}
	if size < 0 || size > MaxSize {
		w.err = errors.WithStack(ErrTooLarge)
		return
	}
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:], code)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(size))
	w.Raw(hdr[:])
}

// Entry writes a complete entry.
func (w *Writer) Entry(code uint32, payload []byte) {
	w.Header(code, len(payload))
	w.Raw(payload)
}

// Raw writes bytes verbatim.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// Uint writes v as a little-endian integer of size bytes.
func (w *Writer) Uint(v uint64, size int) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Raw(b[:min(max(size, 0), 8)])
}

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }
