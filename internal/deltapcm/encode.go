package deltapcm

import "github.com/chriskillpack/modload/internal/ctrlbits"

type encoder struct {
	p    params
	w    *ctrlbits.Writer
	dh   uint
	mask uint32
}

func newEncoder(p params) *encoder {
	return &encoder{p: p, w: ctrlbits.NewWriter(), dh: p.dhInit, mask: 1<<p.bits - 1}
}

// put writes the shortest code for delta and updates dh the way the decoder
// will.
func (e *encoder) put(delta int) {
	var raw uint32
	if delta >= 0 {
		raw = uint32(delta)<<1 | 1
	} else {
		raw = uint32(-delta-1) << 1
	}
	raw &= e.mask

	group := uint(1)
	if e.p.pairs && e.dh < 5 {
		group = 2
	}
	prefix := raw >> e.dh
	digits := uint(1)
	for prefix>>(group*digits) != 0 {
		digits++
	}
	for i := int(digits) - 1; i >= 0; i-- {
		for b := int(group) - 1; b >= 0; b-- {
			e.w.Bit(prefix >> (uint(i)*group + uint(b)) & 1)
		}
		if i > 0 {
			e.w.Bit(1)
		} else {
			e.w.Bit(0)
		}
	}
	for i := int(e.dh) - 1; i >= 0; i-- {
		e.w.Bit(raw >> uint(i) & 1)
	}

	cl := uint(1)
	if raw >= 4 {
		cl = e.p.shift
		for raw&(1<<cl) == 0 && cl > 1 {
			cl--
		}
	}
	e.dh = (e.dh + cl) >> 1
}

// Encode produces a plain delta stream that Decode turns back into samples.
// samples is interleaved with the given number of channels.
func Encode[T Sample](samples []T, channels int) []byte {
	p := paramsFor[T]()
	e := newEncoder(p)
	frames := len(samples) / channels
	previous := 0
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			v := int(samples[f*channels+ch])
			e.put(signExtend(uint32(v-previous)&e.mask, p.bits))
			previous = v
		}
	}
	return e.w.Bytes()
}

// EncodePrediction is the counterpart of DecodePrediction.
func EncodePrediction[T Sample](samples []T, channels int) []byte {
	p := paramsFor[T]()
	e := newEncoder(p)
	lo := -(1 << (p.bits - 1))
	hi := 1<<(p.bits-1) - 1
	frames := len(samples) / channels
	var next, previous int
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			sval := int(samples[f*channels+ch])
			delta := signExtend(uint32(sval-next)&e.mask, p.bits)
			e.put(delta)
			next = min(max(2*sval+delta>>1-previous, lo), hi)
			previous = sval
		}
	}
	return e.w.Bytes()
}
