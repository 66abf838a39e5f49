package lz

import "github.com/chriskillpack/modload/internal/ctrlbits"

const (
	packWindow     = 1 << 15
	packCandidates = 256
)

// Pack compresses data into a stream Unpack accepts. It uses a greedy match
// search and is meant for building fixtures, not for producing small files.
func Pack(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	w := ctrlbits.NewWriter()
	w.Byte(data[0])

	m := &matcher{data: data, heads: map[uint32][]int{}}
	m.insert(0)

	prev := 0
	for i := 1; i < len(data); {
		dist, length := m.longest(i, prev)
		if length == 0 {
			w.Bit(0)
			w.Byte(data[i])
			m.insert(i)
			i++
			continue
		}

		w.Bit(1)
		adjust := 0
		if dist == prev {
			w.VarLen(2)
		} else {
			adjust = lengthAdjust(dist)
			w.VarLen((dist-1)>>8 + 3)
			w.Byte(byte(dist - 1))
			prev = dist
		}
		if n := length - adjust; n <= 3 {
			w.Bit(uint32(n>>1) & 1)
			w.Bit(uint32(n) & 1)
		} else {
			w.Bit(0)
			w.Bit(0)
			w.VarLen(n - 2)
		}
		for j := i; j < i+length; j++ {
			m.insert(j)
		}
		i += length
	}
	return w.Bytes()
}

// lengthAdjust is the implicit length bonus carried by a new offset.
func lengthAdjust(dist int) int {
	adjust := 1
	if dist > 1280 {
		adjust++
	}
	if dist > 32000 {
		adjust++
	}
	return adjust
}

type matcher struct {
	data  []byte
	heads map[uint32][]int // positions by three byte prefix
}

func (m *matcher) key(i int) (uint32, bool) {
	if i+3 > len(m.data) {
		return 0, false
	}
	return uint32(m.data[i])<<16 | uint32(m.data[i+1])<<8 | uint32(m.data[i+2]), true
}

func (m *matcher) insert(i int) {
	if k, ok := m.key(i); ok {
		m.heads[k] = append(m.heads[k], i)
	}
}

func (m *matcher) matchLen(i, dist int) int {
	n := 0
	for i+n < len(m.data) && m.data[i+n-dist] == m.data[i+n] {
		n++
	}
	return n
}

// longest finds the longest earlier occurrence of data[i:]. A match at the
// previous distance is kept unless another one is clearly longer, since it
// costs fewer bits.
func (m *matcher) longest(i, prev int) (dist, length int) {
	if prev > 0 && prev <= i {
		if n := m.matchLen(i, prev); n >= 2 {
			dist, length = prev, n
		}
	}
	k, ok := m.key(i)
	if !ok {
		return dist, length
	}
	cands := m.heads[k]
	for j, tried := len(cands)-1, 0; j >= 0 && tried < packCandidates; j, tried = j-1, tried+1 {
		d := i - cands[j]
		if d > packWindow {
			break
		}
		n := m.matchLen(i, d)
		if n < lengthAdjust(d)+2 {
			continue
		}
		if n > length+1 {
			dist, length = d, n
		}
	}
	return dist, length
}
