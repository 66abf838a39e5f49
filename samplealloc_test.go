package modload

import (
	"slices"
	"testing"
)

func allocTestSong(withData ...bool) *Song {
	song := newSong(FormatXM, FormatXM, 2)
	for _, has := range withData {
		var s Sample
		if has {
			s.Data = []int8{1}
			s.Length = 1
		}
		song.Samples = append(song.Samples, s)
	}
	return song
}

func mappedInstrument(samples ...uint16) *Instrument {
	ins := NewInstrument()
	for i, s := range samples {
		ins.Keyboard[i] = s
	}
	return ins
}

func TestAllocateAppends(t *testing.T) {
	song := allocTestSong(true)
	a := newSampleAllocator(song)
	if got := a.allocate(3); !slices.Equal(got, []int{2, 3, 4}) {
		t.Errorf("Expected slots [2 3 4], got %v", got)
	}
	if len(song.Samples) != 4 {
		t.Errorf("Expected 4 samples, got %d", len(song.Samples))
	}
}

func TestAllocateReusesEmptySlot(t *testing.T) {
	song := allocTestSong(true, false)
	song.Instruments = []*Instrument{mappedInstrument(1, 2)}
	a := newSampleAllocator(song)
	a.limit = 4

	if got := a.allocate(2); !slices.Equal(got, []int{3, 2}) {
		t.Fatalf("Expected slots [3 2], got %v", got)
	}
	if k := song.Instruments[0].Keyboard; k[0] != 1 || k[1] != 0 {
		t.Errorf("Expected the reused slot to be unmapped, got %v", k[:2])
	}
}

func TestAllocateReclaimsUnused(t *testing.T) {
	song := allocTestSong(true, true, true)
	song.Instruments = []*Instrument{mappedInstrument(1)}
	a := newSampleAllocator(song)
	a.limit = 4

	if got := a.allocate(1); !slices.Equal(got, []int{2}) {
		t.Fatalf("Expected slot [2], got %v", got)
	}
	if song.Samples[1].HasData() || song.Samples[2].HasData() {
		t.Errorf("Expected unused samples to be cleared")
	}
	if !song.Samples[0].HasData() {
		t.Errorf("Used sample was cleared")
	}
}

func TestAllocateFull(t *testing.T) {
	song := allocTestSong(true, true, true)
	song.Instruments = []*Instrument{mappedInstrument(1, 2, 3)}
	a := newSampleAllocator(song)
	a.limit = 4

	if got := a.allocate(2); len(got) != 0 {
		t.Errorf("Expected no slots, got %v", got)
	}
}

func TestAllocateKeepsPendingSlots(t *testing.T) {
	for _, deferred := range []bool{false, true} {
		song := allocTestSong()
		a := newSampleAllocator(song)
		a.limit = 3
		a.deferred = deferred

		if got := a.allocate(2); !slices.Equal(got, []int{1, 2}) {
			t.Fatalf("Expected slots [1 2], got %v", got)
		}
		song.Instruments = []*Instrument{mappedInstrument(1, 2)}

		got := a.allocate(1)
		switch {
		case deferred && len(got) != 0:
			t.Errorf("Slots waiting for data were handed out again: %v", got)
		case !deferred && !slices.Equal(got, []int{1}):
			t.Errorf("Expected the empty slot 1 to be reused, got %v", got)
		}
	}
}
