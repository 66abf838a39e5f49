package modload

import (
	"github.com/chriskillpack/modload/internal/fieldreader"
)

// sampleEncoding describes how raw PCM is laid out in a file.
type sampleEncoding struct {
	bits      int // 8 or 16
	channels  int
	unsigned  bool
	bigEndian bool
	delta     bool // values are differences from the previous value
	split     bool // stereo stored as all left samples, then all right
	adpcm     bool // ModPlug 4-bit ADPCM, 8-bit mono only
}

func (enc sampleEncoding) bytesPerFrame() int {
	return enc.bits / 8 * enc.channels
}

// size returns the number of bytes frames occupy in the file.
func (enc sampleEncoding) size(frames int) int {
	if enc.adpcm {
		return 16 + (frames+1)/2
	}
	return frames * enc.bytesPerFrame()
}

// read decodes s.Length frames from c into s.Data or s.Data16. The cursor
// advances by the encoded size. If the file holds fewer frames than the
// header declares, or more than MaxSampleLength, s.Length is cut to what
// was decoded and read returns false.
func (enc sampleEncoding) read(s *Sample, c *fieldreader.Cursor) bool {
	if enc.channels < 1 {
		enc.channels = 1
	}
	declared := max(s.Length, 0)
	src := c.ReadChunk(enc.size(declared)).Rest()
	frames := min(declared, MaxSampleLength, enc.available(len(src)))
	complete := frames == declared
	if !complete {
		s.Length = frames
		s.sanitizeLoops()
	}

	switch {
	case enc.adpcm:
		s.Data = decodeADPCM(src, frames)
	case enc.bits == 16:
		s.Data16 = make([]int16, frames*enc.channels)
		enc.decode16(s.Data16, src, declared)
	default:
		s.Data = make([]int8, frames*enc.channels)
		enc.decode8(s.Data, src, declared)
	}
	return complete
}

// available returns how many whole frames n bytes of encoded data hold.
func (enc sampleEncoding) available(n int) int {
	if enc.adpcm {
		return max(n-16, 0) * 2
	}
	return n / enc.bytesPerFrame()
}

// index returns where the i-th stored value goes in the interleaved output.
func (enc sampleEncoding) index(i, frames int) (pos, ch int) {
	if enc.split && enc.channels > 1 {
		ch, f := i/frames, i%frames
		return f*enc.channels + ch, ch
	}
	return i, i % enc.channels
}

// decode8 expands src into out. stride is the frame count the stored
// layout was written for, which differs from len(out) for truncated split
// stereo data.
func (enc sampleEncoding) decode8(out []int8, src []byte, stride int) {
	var acc [2]int8
	for i := 0; i < min(stride*enc.channels, len(src)); i++ {
		v := int8(src[i])
		if enc.unsigned {
			v = int8(src[i] ^ 0x80)
		}
		pos, ch := enc.index(i, stride)
		if enc.delta {
			acc[ch&1] += v
			v = acc[ch&1]
		}
		if pos >= len(out) {
			continue
		}
		out[pos] = v
	}
}

func (enc sampleEncoding) decode16(out []int16, src []byte, stride int) {
	var acc [2]int16
	for i := 0; i < min(stride*enc.channels, len(src)/2); i++ {
		var u uint16
		if enc.bigEndian {
			u = uint16(src[2*i])<<8 | uint16(src[2*i+1])
		} else {
			u = uint16(src[2*i]) | uint16(src[2*i+1])<<8
		}
		if enc.unsigned {
			u ^= 0x8000
		}
		v := int16(u)
		pos, ch := enc.index(i, stride)
		if enc.delta {
			acc[ch&1] += v
			v = acc[ch&1]
		}
		if pos >= len(out) {
			continue
		}
		out[pos] = v
	}
}

// decodeADPCM expands ModPlug ADPCM: a table of 16 deltas followed by one
// nibble per sample, low nibble first.
func decodeADPCM(src []byte, frames int) []int8 {
	out := make([]int8, frames)
	if len(src) < 16 {
		return out
	}
	var table [16]int8
	for i := range table {
		table[i] = int8(src[i])
	}
	src = src[16:]
	var v int8
	for i := 0; i < frames && i/2 < len(src); i++ {
		nibble := src[i/2]
		if i&1 == 1 {
			nibble >>= 4
		}
		v += table[nibble&0x0F]
		out[i] = v
	}
	return out
}
