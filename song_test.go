package modload

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestNoteString(t *testing.T) {
	tests := map[Note]string{
		NoteNone:        "...",
		NoteMin:         "C-0",
		NoteMiddleC:     "C-5",
		NoteMiddleC + 1: "C#5",
		NoteMax:         "B-9",
		NoteKeyOff:      "^^.",
		NoteCut:         "^^^",
		NoteFade:        "~~~",
		200:             "???",
	}
	for n, want := range tests {
		if got := n.String(); got != want {
			t.Errorf("Note %d: expected %s, got %s", n, want, got)
		}
	}
}

func TestTransposeNote(t *testing.T) {
	if got := transposeNote(NoteMax-1, 5); got != NoteMax {
		t.Errorf("Expected clamp to %s, got %s", NoteMax, got)
	}
	if got := transposeNote(NoteMin+2, -5); got != NoteMin {
		t.Errorf("Expected clamp to %s, got %s", NoteMin, got)
	}
	if got := transposeNote(NoteCut, 12); got != NoteCut {
		t.Errorf("Special notes must not move, got %s", got)
	}
}

func TestCellString(t *testing.T) {
	c := Cell{Note: NoteMiddleC, Instrument: 0x1F, VolCmd: VolVolume, Vol: 32, Command: EffectVolume, Param: 0x40}
	if got := c.String(); got != "C-5 1F v32 v40" {
		t.Errorf("Unexpected cell %q", got)
	}
	if got := (Cell{}).String(); got != "... .. ... ..." {
		t.Errorf("Unexpected empty cell %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	song := newSong(FormatXM, FormatXM, 2)
	song.Patterns = []Pattern{NewPattern(1, 2)}
	song.Instruments = []*Instrument{NewInstrument()}
	song.Samples = []Sample{{Length: 2, Data: []int8{1, 2}}}

	c := song.Clone()
	c.Patterns[0].Cell(0, 0).Note = NoteCut
	c.Instruments[0].Name = "copy"
	c.Samples[0].Data[0] = 99
	c.ChannelSettings[1].Pan = 0

	if song.Patterns[0].Cell(0, 0).Note != NoteNone {
		t.Errorf("Pattern cells are shared")
	}
	if song.Instruments[0].Name != "" {
		t.Errorf("Instruments are shared")
	}
	if song.Samples[0].Data[0] != 1 {
		t.Errorf("Sample data is shared")
	}
	if song.ChannelSettings[1].Pan != centerPan {
		t.Errorf("Channel settings are shared")
	}
}

func TestDecodeError(t *testing.T) {
	cause := pkgerrors.New("pattern 3 of 4")
	err := error(&DecodeError{Kind: ErrShortRead, Format: FormatXM, Stage: "patterns", Offset: 0x150, Err: cause})
	wrapped := pkgerrors.Wrap(err, "loading song.xm")

	if !errors.Is(wrapped, ErrShortRead) || !errors.Is(wrapped, ErrInvalidXM) {
		t.Errorf("Expected short read in an invalid XM, got %v", wrapped)
	}
	if errors.Is(wrapped, ErrBadMagic) || errors.Is(wrapped, ErrInvalidMOD) {
		t.Errorf("Error matches the wrong kind or format")
	}
	if !errors.Is(wrapped, cause) {
		t.Errorf("Expected the cause to be reachable")
	}
	var de *DecodeError
	if !errors.As(wrapped, &de) || de.Stage != "patterns" {
		t.Errorf("Expected a DecodeError from the patterns stage")
	}
	if msg := err.Error(); !strings.Contains(msg, "patterns: short read at 0x150") {
		t.Errorf("Unexpected message %q", msg)
	}
}

func TestWarnings(t *testing.T) {
	var w Warnings
	w.Add(ErrBadOffset, sampleItem(3), "header at 0x%X outside the file", 0x200)
	if !w.Has(ErrBadOffset) || w.Has(ErrShortRead) {
		t.Errorf("Unexpected warning kinds %v", w)
	}
	if got := w[0].String(); got != "sample 3: header at 0x200 outside the file" {
		t.Errorf("Unexpected warning %q", got)
	}
}

func TestSanitizeLoops(t *testing.T) {
	s := Sample{Length: 10, LoopStart: 4, LoopEnd: 20, SustainStart: 8, SustainEnd: 8, Flags: SampleLoop | SampleSustain}
	s.sanitizeLoops()
	if s.LoopEnd != 10 || s.Flags&SampleLoop == 0 {
		t.Errorf("Expected loop clamped to 4-10, got %d-%d", s.LoopStart, s.LoopEnd)
	}
	if s.SustainStart != 0 || s.SustainEnd != 0 || s.Flags&SampleSustain != 0 {
		t.Errorf("Expected the empty sustain loop to be removed")
	}
}

func TestCodecString(t *testing.T) {
	if CodecVorbis.String() != "Ogg Vorbis" || Codec(42).String() != "Codec(42)" {
		t.Errorf("Unexpected codec names %s %s", CodecVorbis, Codec(42))
	}
}
