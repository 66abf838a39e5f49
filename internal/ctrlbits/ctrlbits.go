// Package ctrlbits implements the control bit register shared by the MO3
// music block compressor and its delta sample codecs.
//
// Control bits are taken most significant bit first from bytes interleaved
// with the payload. A byte is fetched only when the previous one is used up,
// so literal bytes and control bytes share one input stream.
package ctrlbits

// Reader pulls control bits and raw bytes from a single input.
type Reader struct {
	src  []byte
	pos  int
	data uint32 // shift register, a sentinel 1 marks the end of the loaded bits
}

// NewReader returns a Reader over src.
func NewReader(src []byte) *Reader {
	return &Reader{src: src}
}

// Pos returns the number of input bytes consumed so far.
func (r *Reader) Pos() int { return r.pos }

// Byte reads one raw byte from the input.
func (r *Reader) Byte() (byte, bool) {
	if r.pos >= len(r.src) {
		return 0, false
	}
	b := r.src[r.pos]
	r.pos++
	return b, true
}

// Bit returns the next control bit. It fails when the register is empty and
// no input remains.
func (r *Reader) Bit() (uint32, bool) {
	r.data <<= 1
	carry := r.data >> 8
	r.data &= 0xFF
	if r.data == 0 {
		b, ok := r.Byte()
		if !ok {
			return 0, false
		}
		r.data = uint32(b)<<1 | 1
		carry = r.data >> 8
		r.data &= 0xFF
	}
	return carry, true
}

// VarLen decodes a variable length number. Starting from v+1, each step
// shifts in one value bit followed by a continuation bit.
func (r *Reader) VarLen(v int) (int, bool) {
	v++
	for {
		b, ok := r.Bit()
		if !ok {
			return v, false
		}
		v = v<<1 + int(b)
		more, ok := r.Bit()
		if !ok {
			return v, false
		}
		if more == 0 {
			return v, true
		}
	}
}

// Writer produces streams that Reader consumes. Control bytes are reserved in
// the output at the point where the reader will fetch them.
type Writer struct {
	out  []byte
	ctrl int // index of the control byte being filled
	used int // bits used in out[ctrl]
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{used: 8}
}

// Bit appends one control bit.
func (w *Writer) Bit(b uint32) {
	if w.used == 8 {
		w.ctrl = len(w.out)
		w.out = append(w.out, 0)
		w.used = 0
	}
	if b != 0 {
		w.out[w.ctrl] |= 0x80 >> w.used
	}
	w.used++
}

// Byte appends one raw byte.
func (w *Writer) Byte(b byte) {
	w.out = append(w.out, b)
}

// VarLen appends v, which must be at least 2, in the form VarLen reads when
// started from zero.
func (w *Writer) VarLen(v int) {
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		w.Bit(uint32(v>>i) & 1)
		if i > 0 {
			w.Bit(1)
		} else {
			w.Bit(0)
		}
	}
}

// Bytes returns the encoded stream.
func (w *Writer) Bytes() []byte { return w.out }
