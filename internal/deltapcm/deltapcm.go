// Package deltapcm decodes the adaptive delta sample codecs used by MO3.
//
// Each value is coded as a variable length prefix followed by dh low bits,
// where dh tracks the magnitude of recent deltas. The least significant bit
// of the value is the sign (1 = positive). Channels are decoded one after
// the other into an interleaved buffer.
package deltapcm

import "github.com/chriskillpack/modload/internal/ctrlbits"

// Sample is a PCM sample width the codecs support.
type Sample interface {
	~int8 | ~int16
}

type params struct {
	dhInit uint
	shift  uint // highest bit examined when estimating the width of a value
	bits   uint
	// pairs selects two value bits per prefix group while dh < 5
	pairs bool
}

var (
	params8  = params{dhInit: 4, shift: 7, bits: 8}
	params16 = params{dhInit: 8, shift: 15, bits: 16, pairs: true}
)

func paramsFor[T Sample]() params {
	if T(1)<<8 == 0 {
		return params8
	}
	return params16
}

// state is the adaptive decoder shared by both codecs.
type state struct {
	p    params
	bits *ctrlbits.Reader
	dh   uint
	mask uint32
}

func newState(p params, src []byte) *state {
	return &state{
		p:    p,
		bits: ctrlbits.NewReader(src),
		dh:   p.dhInit,
		mask: 1<<p.bits - 1,
	}
}

// next decodes one delta, already sign adjusted, as a value modulo the
// sample width.
func (s *state) next() (uint32, bool) {
	var val uint32
	bit := func() bool {
		c, ok := s.bits.Bit()
		val = (val<<1 + c) & s.mask
		return ok
	}

	if s.p.pairs && s.dh < 5 {
		for {
			if !bit() || !bit() {
				return 0, false
			}
			more, ok := s.bits.Bit()
			if !ok {
				return 0, false
			}
			if more == 0 {
				break
			}
		}
	} else {
		for {
			if !bit() {
				return 0, false
			}
			more, ok := s.bits.Bit()
			if !ok {
				return 0, false
			}
			if more == 0 {
				break
			}
		}
	}
	for range s.dh {
		if !bit() {
			return 0, false
		}
	}

	cl := uint(1)
	if val >= 4 {
		cl = s.p.shift
		for val&(1<<cl) == 0 && cl > 1 {
			cl--
		}
	}
	s.dh = (s.dh + cl) >> 1

	positive := val & 1
	val >>= 1
	if positive == 0 {
		val = ^val & s.mask
	}
	return val, true
}

// Decode decodes frames*channels plain delta samples. Each output sample is
// the previous output sample plus the decoded delta. It returns the
// interleaved samples, the number of input bytes consumed and whether the
// input held enough data. On exhaustion the remaining samples are zero.
func Decode[T Sample](src []byte, frames, channels int) ([]T, int, bool) {
	s := newState(paramsFor[T](), src)
	out := make([]T, frames*channels)
	var previous uint32
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			delta, ok := s.next()
			if !ok {
				return out, s.bits.Pos(), false
			}
			previous = (previous + delta) & s.mask
			out[f*channels+ch] = T(previous)
		}
	}
	return out, s.bits.Pos(), true
}

// DecodePrediction decodes frames*channels samples coded as differences from
// a linear prediction. The prediction for the next sample is
// 2*current + delta/2 - previous, clamped to the sample range.
func DecodePrediction[T Sample](src []byte, frames, channels int) ([]T, int, bool) {
	p := paramsFor[T]()
	s := newState(p, src)
	out := make([]T, frames*channels)

	lo := -(1 << (p.bits - 1))
	hi := 1<<(p.bits-1) - 1
	var next, previous int
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			raw, ok := s.next()
			if !ok {
				return out, s.bits.Pos(), false
			}
			delta := signExtend(raw, p.bits)
			sval := signExtend((raw+uint32(next))&s.mask, p.bits)
			out[f*channels+ch] = T(sval)
			next = min(max(2*sval+delta>>1-previous, lo), hi)
			previous = sval
		}
	}
	return out, s.bits.Pos(), true
}

func signExtend(v uint32, bits uint) int {
	shift := 32 - bits
	return int(int32(v<<shift) >> shift)
}
