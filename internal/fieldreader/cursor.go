// Package fieldreader provides a bounds checked cursor over an in-memory
// module file.
//
// Every read is fallible. A read that would run past the end of the active
// chunk returns the zero value and false, and leaves the position untouched.
package fieldreader

import (
	"bytes"
	"encoding/binary"
)

// Cursor reads fixed width fields from a byte slice. A Cursor obtained from
// ReadChunk is restricted to a sub-range of its parent; positions reported by
// Pos and accepted by Seek are relative to the start of that range.
type Cursor struct {
	data []byte
	pos  int
}

// New returns a Cursor positioned at the start of b. The cursor does not copy
// b; the caller must not modify it while the cursor is in use.
func New(b []byte) *Cursor {
	return &Cursor{data: b}
}

// Len returns the extent of the cursor.
func (c *Cursor) Len() int { return len(c.data) }

// Pos returns the current position.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of bytes between the position and the extent.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

// CanRead reports whether n more bytes are available.
func (c *Cursor) CanRead(n int) bool {
	return n >= 0 && n <= len(c.data)-c.pos
}

// Seek moves to an absolute position. It fails if pos is outside [0, Len].
func (c *Cursor) Seek(pos int) bool {
	if pos < 0 || pos > len(c.data) {
		return false
	}
	c.pos = pos
	return true
}

// Skip advances by n bytes.
func (c *Cursor) Skip(n int) bool {
	if !c.CanRead(n) {
		return false
	}
	c.pos += n
	return true
}

// SkipBack moves backwards by n bytes.
func (c *Cursor) SkipBack(n int) bool {
	if n < 0 || n > c.pos {
		return false
	}
	c.pos -= n
	return true
}

// Rest returns a view of the unread bytes without advancing.
func (c *Cursor) Rest() []byte { return c.data[c.pos:] }

// Peek returns a view of the next n bytes without advancing.
func (c *Cursor) Peek(n int) ([]byte, bool) {
	if !c.CanRead(n) {
		return nil, false
	}
	return c.data[c.pos : c.pos+n], true
}

// ReadView returns a view of the next n bytes and advances past them. The view
// aliases the underlying buffer.
func (c *Cursor) ReadView(n int) ([]byte, bool) {
	b, ok := c.Peek(n)
	if ok {
		c.pos += n
	}
	return b, ok
}

// ReadBytes returns a copy of the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, bool) {
	b, ok := c.ReadView(n)
	if !ok {
		return nil, false
	}
	return bytes.Clone(b), true
}

// ReadChunk carves a sub-cursor of n bytes starting at the current position.
// The chunk is clipped to the bytes actually available, but the parent always
// advances by n (or to its extent), so unread bytes in the chunk are skipped.
func (c *Cursor) ReadChunk(n int) *Cursor {
	if n < 0 {
		n = 0
	}
	avail := min(n, c.Remaining())
	chunk := &Cursor{data: c.data[c.pos : c.pos+avail]}
	c.pos += avail
	return chunk
}

// ChunkAt returns a sub-cursor of n bytes at an absolute position without
// moving the cursor. It fails if the range is not fully inside the extent.
func (c *Cursor) ChunkAt(pos, n int) (*Cursor, bool) {
	if pos < 0 || n < 0 || pos > len(c.data) || n > len(c.data)-pos {
		return nil, false
	}
	return &Cursor{data: c.data[pos : pos+n]}, true
}

// ReadMagic consumes s if the next bytes match it exactly. The position is
// unchanged on mismatch.
func (c *Cursor) ReadMagic(s string) bool {
	b, ok := c.Peek(len(s))
	if !ok || string(b) != s {
		return false
	}
	c.pos += len(s)
	return true
}

func (c *Cursor) ReadU8() (uint8, bool) {
	if !c.CanRead(1) {
		return 0, false
	}
	v := c.data[c.pos]
	c.pos++
	return v, true
}

func (c *Cursor) ReadI8() (int8, bool) {
	v, ok := c.ReadU8()
	return int8(v), ok
}

func (c *Cursor) ReadU16LE() (uint16, bool) {
	b, ok := c.ReadView(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (c *Cursor) ReadU16BE() (uint16, bool) {
	b, ok := c.ReadView(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (c *Cursor) ReadI16LE() (int16, bool) {
	v, ok := c.ReadU16LE()
	return int16(v), ok
}

func (c *Cursor) ReadI16BE() (int16, bool) {
	v, ok := c.ReadU16BE()
	return int16(v), ok
}

func (c *Cursor) ReadU32LE() (uint32, bool) {
	b, ok := c.ReadView(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (c *Cursor) ReadU32BE() (uint32, bool) {
	b, ok := c.ReadView(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (c *Cursor) ReadI32LE() (int32, bool) {
	v, ok := c.ReadU32LE()
	return int32(v), ok
}

func (c *Cursor) ReadI32BE() (int32, bool) {
	v, ok := c.ReadU32BE()
	return int32(v), ok
}

func (c *Cursor) ReadU64LE() (uint64, bool) {
	b, ok := c.ReadView(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (c *Cursor) ReadU64BE() (uint64, bool) {
	b, ok := c.ReadView(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

// ReadSizedIntLE reads a little-endian integer stored in size bytes, where
// size may be anywhere from 0 to 8. Missing high bytes are zero.
func (c *Cursor) ReadSizedIntLE(size int) (uint64, bool) {
	if size < 0 || size > 8 {
		return 0, false
	}
	b, ok := c.ReadView(size)
	if !ok {
		return 0, false
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, true
}

// ReadSizedIntBE is the big-endian counterpart of ReadSizedIntLE.
func (c *Cursor) ReadSizedIntBE(size int) (uint64, bool) {
	if size < 0 || size > 8 {
		return 0, false
	}
	b, ok := c.ReadView(size)
	if !ok {
		return 0, false
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, true
}

// ReadStruct decodes a fixed layout struct field by field with the given
// byte order. v must be a pointer to a struct built only from fixed size
// fields, as accepted by encoding/binary; no host padding is involved.
func (c *Cursor) ReadStruct(order binary.ByteOrder, v any) bool {
	size := binary.Size(v)
	if size < 0 {
		return false
	}
	b, ok := c.Peek(size)
	if !ok {
		return false
	}
	if _, err := binary.Decode(b, order, v); err != nil {
		return false
	}
	c.pos += size
	return true
}

// ReadStructPartial decodes at most n bytes of v. Fields beyond the bytes
// available are zero. The cursor advances by the number of bytes consumed.
// Headers whose stored size has grown across format revisions are read this
// way.
func (c *Cursor) ReadStructPartial(order binary.ByteOrder, v any, n int) bool {
	size := binary.Size(v)
	if size < 0 || n < 0 {
		return false
	}
	n = min(n, size, c.Remaining())
	buf := make([]byte, size)
	copy(buf, c.data[c.pos:c.pos+n])
	if _, err := binary.Decode(buf, order, v); err != nil {
		return false
	}
	c.pos += n
	return true
}

// ReadString reads a fixed width string field of n bytes. The result is cut
// at the first NUL.
func (c *Cursor) ReadString(n int) ([]byte, bool) {
	b, ok := c.ReadView(n)
	if !ok {
		return nil, false
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return bytes.Clone(b), true
}

// ReadNullString reads a NUL terminated string of at most maxLen bytes, not
// counting the terminator. The terminator is consumed. If no terminator is
// found within maxLen bytes the read fails and the position is unchanged.
func (c *Cursor) ReadNullString(maxLen int) ([]byte, bool) {
	rest := c.Rest()
	if len(rest) > maxLen+1 {
		rest = rest[:maxLen+1]
	}
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return nil, false
	}
	s := bytes.Clone(rest[:i])
	c.pos += i + 1
	return s, true
}
