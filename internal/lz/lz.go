// Package lz decodes the LZ compressed music block of MO3 files.
//
// The stream starts with one raw byte. After that a control bit selects
// between a literal byte (0) and a back-reference (1). Back-references either
// reuse the previous offset or build a new one from a variable length prefix
// and a raw byte; long offsets implicitly lengthen the copy.
package lz

import (
	"io"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/internal/ctrlbits"
)

// ErrBroken is returned by Read once the stream turns out to be truncated or
// refers to data outside the output produced so far.
var ErrBroken = errors.New("lz: broken stream")

// Decoder is a streaming decoder producing exactly size bytes.
type Decoder struct {
	bits *ctrlbits.Reader
	size int

	out  []byte // everything produced so far, back-references index into it
	read int    // bytes of out handed to the caller

	copyLen int // bytes of the current back-reference still to copy
	offset  int // current back-reference offset, always negative when valid
	broken  bool
}

// NewDecoder returns a Decoder that expands src into size bytes.
func NewDecoder(src []byte, size int) *Decoder {
	return &Decoder{
		bits: ctrlbits.NewReader(src),
		size: max(size, 0),
		out:  make([]byte, 0, max(size, 0)),
	}
}

// Read implements io.Reader. It returns io.EOF once size bytes have been
// delivered and ErrBroken if the stream is corrupt.
func (d *Decoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	want := min(d.read+len(p), d.size)
	d.fill(want)
	n := copy(p, d.out[d.read:])
	d.read += n
	if n > 0 {
		return n, nil
	}
	if d.broken {
		return 0, ErrBroken
	}
	return 0, io.EOF
}

// UnpackedSuccessfully reports whether the full declared size was produced.
func (d *Decoder) UnpackedSuccessfully() bool {
	return !d.broken && len(d.out) == d.size
}

// Consumed returns the number of compressed bytes read so far.
func (d *Decoder) Consumed() int { return d.bits.Pos() }

// Unpack decodes the whole stream. It returns the output, the number of input
// bytes consumed and whether decoding succeeded. On failure the output holds
// what was decoded before the stream broke.
func Unpack(src []byte, size int) ([]byte, int, bool) {
	d := NewDecoder(src, size)
	d.fill(d.size)
	return d.out, d.Consumed(), d.UnpackedSuccessfully()
}

// fill decodes until len(d.out) reaches want or the stream breaks.
func (d *Decoder) fill(want int) {
	for len(d.out) < want && !d.broken {
		if d.copyLen > 0 {
			d.out = append(d.out, d.out[len(d.out)+d.offset])
			d.copyLen--
			continue
		}
		if len(d.out) == 0 {
			b, ok := d.bits.Byte()
			if !ok {
				d.broken = true
				return
			}
			d.out = append(d.out, b)
			continue
		}
		d.step()
	}
}

// step consumes one control bit and either appends a literal or sets up a
// back-reference copy.
func (d *Decoder) step() {
	bit, ok := d.bits.Bit()
	if !ok {
		d.broken = true
		return
	}
	if bit == 0 {
		b, ok := d.bits.Byte()
		if !ok {
			d.broken = true
			return
		}
		d.out = append(d.out, b)
		return
	}

	length, ok := d.bits.VarLen(0)
	if !ok {
		d.broken = true
		return
	}
	length -= 3
	adjust := 0
	if length < 0 {
		// reuse the previous offset
		length++
	} else {
		b, ok := d.bits.Byte()
		if !ok {
			d.broken = true
			return
		}
		d.offset = ^(length<<8 | int(b))
		length = 0
		if d.offset < -1280 {
			adjust++
		}
		adjust++
		if d.offset < -32000 {
			adjust++
		}
	}

	for range 2 {
		c, ok := d.bits.Bit()
		if !ok {
			d.broken = true
			return
		}
		length = length<<1 + int(c)
	}
	if length == 0 {
		if length, ok = d.bits.VarLen(0); !ok {
			d.broken = true
			return
		}
		length += 2
	}
	length += adjust

	remain := d.size - len(d.out)
	if length <= 0 || remain < length || d.offset >= 0 || d.offset < -len(d.out) {
		d.broken = true
		return
	}
	d.copyLen = length
}
