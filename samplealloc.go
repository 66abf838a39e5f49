package modload

import "slices"

// sampleAllocator hands out sample slots to instruments as they are read.
// When the slots run out it first reuses slots without data, then reclaims
// samples no instrument references.
type sampleAllocator struct {
	song  *Song
	limit int // slots must stay below this number

	// deferred is set when sample data follows all instrument headers, as
	// in XM 1.02 and 1.03. Slots handed out then have no data yet but are
	// not free.
	deferred bool
	pending  []int
}

func newSampleAllocator(song *Song) *sampleAllocator {
	return &sampleAllocator{song: song, limit: MaxSamples}
}

// allocate returns up to n slot numbers (1-based) for the samples of one
// instrument. Fewer are returned if no more slots can be found.
func (a *sampleAllocator) allocate(n int) []int {
	slots := make([]int, 0, n)
	for range n {
		slot := len(a.song.Samples) + 1
		if slot >= a.limit {
			slot = a.reuseEmpty(slots)
		}
		if slot >= a.limit {
			slot = a.reclaimUnused(slots)
			if slot == 0 {
				break
			}
		}
		slots = append(slots, slot)
		if a.deferred {
			a.pending = append(a.pending, slot)
		}
		if slot > len(a.song.Samples) {
			a.song.Samples = append(a.song.Samples, Sample{})
		}
	}
	return slots
}

// reuseEmpty finds a slot without sample data that the current instrument
// does not hold yet and no earlier instrument is waiting to fill. The slot
// is detached from every keyboard.
func (a *sampleAllocator) reuseEmpty(taken []int) int {
	for j := 1; j <= len(a.song.Samples); j++ {
		if a.song.Samples[j-1].HasData() || slices.Contains(taken, j) || slices.Contains(a.pending, j) {
			continue
		}
		a.unmap(j)
		return j
	}
	return a.limit
}

// reclaimUnused clears every sample no instrument uses and returns the first
// freed slot, or 0 if there is none.
func (a *sampleAllocator) reclaimUnused(taken []int) int {
	used := make([]bool, len(a.song.Samples)+1)
	for _, ins := range a.song.Instruments {
		if ins == nil {
			continue
		}
		for _, smp := range ins.Keyboard {
			if int(smp) < len(used) {
				used[smp] = true
			}
		}
	}
	first := 0
	for j := 1; j < len(used); j++ {
		if used[j] || slices.Contains(taken, j) || slices.Contains(a.pending, j) {
			continue
		}
		a.song.Samples[j-1] = Sample{}
		if first == 0 {
			first = j
		}
	}
	return first
}

func (a *sampleAllocator) unmap(slot int) {
	for _, ins := range a.song.Instruments {
		if ins == nil {
			continue
		}
		for k, smp := range ins.Keyboard {
			if int(smp) == slot {
				ins.Keyboard[k] = 0
			}
		}
	}
}
