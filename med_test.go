package modload

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"
)

func TestLoadMMD0(t *testing.T) {
	sample := []int8{0, 20, 40, 60, 40, 20, 0, -20}
	cells := map[[2]int][3]byte{
		{0, 0}: {0x01, 0x1C, 0x20}, // C-1, instrument 1, volume 20 (decimal)
		{1, 1}: {0x0D, 0x10, 0x00}, // C-2, instrument 1
		{2, 2}: {0x00, 0x0F, 0x00}, // pattern break
		{3, 3}: {0x00, 0x0F, 0xFF}, // note cut
	}
	data := newTestMED(t, cells, sample)

	if r := ProbeMED(data, int64(len(data))); r != ProbeSuccess {
		t.Fatalf("Expected probe success, got %s", r)
	}
	song, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if song.Format != FormatMED || song.Tracker != "MED" {
		t.Errorf("Expected MED, got %s by %q", song.Format, song.Tracker)
	}
	if song.Channels != 4 {
		t.Errorf("Expecting 4 channels, got %d", song.Channels)
	}
	if song.Speed != 3 || song.Tempo != 125 || song.GlobalVolume != 128 {
		t.Errorf("Expected speed 3, tempo 125, volume 128, got %d %d %d", song.Speed, song.Tempo, song.GlobalVolume)
	}
	if orders := song.Orders(); !slices.Equal(orders, []Order{0, 0}) {
		t.Errorf("Order data is wrong: %v", orders)
	}

	p := &song.Patterns[0]
	if p.Rows != 64 {
		t.Errorf("Expected 64 rows, got %d", p.Rows)
	}
	checks := []struct {
		row, ch int
		want    Cell
	}{
		{0, 0, Cell{Note: NoteMin + 48, Instrument: 1, Command: EffectVolume, Param: 20}},
		{1, 1, Cell{Note: NoteMin + 60, Instrument: 1}},
		{2, 2, Cell{Command: EffectPatternBreak}},
		{3, 3, Cell{Note: NoteCut}},
	}
	for _, c := range checks {
		if got := *p.Cell(c.row, c.ch); got != c.want {
			t.Errorf("Row %d channel %d: expected %s, got %s", c.row, c.ch, c.want, got)
		}
	}

	if len(song.Instruments) != 1 || song.Instruments[0].Keyboard[60] != 1 {
		t.Fatalf("Expected one instrument mapped to sample 1")
	}
	smp := song.Sample(1)
	if smp.Length != 8 || smp.Volume != 256 {
		t.Errorf("Unexpected sample length %d volume %d", smp.Length, smp.Volume)
	}
	if smp.Flags&SampleLoop == 0 || smp.LoopStart != 2 || smp.LoopEnd != 6 {
		t.Errorf("Expected loop 2-6, got %d-%d", smp.LoopStart, smp.LoopEnd)
	}
	if !slices.Equal(smp.Data, sample) {
		t.Errorf("Sample data is wrong: %v", smp.Data)
	}
}

func TestMEDBadSongOffset(t *testing.T) {
	data := newTestMED(t, nil, make([]int8, 8))
	binary.BigEndian.PutUint32(data[8:], 51)

	if r := ProbeMED(data, int64(len(data))); r != ProbeFailure {
		t.Errorf("Expected probe failure, got %s", r)
	}
	_, err := loadMED(data, DefaultOptions)
	if !errors.Is(err, ErrBadOffset) || !errors.Is(err, ErrInvalidMED) {
		t.Errorf("Expected bad offset, got %v", err)
	}

	binary.BigEndian.PutUint32(data[8:], medFileHeaderSize)
	if r := ProbeMED(data, int64(len(data))); r != ProbeSuccess {
		t.Errorf("Expected the smallest song offset to probe, got %s", r)
	}
}

func TestProbeMEDWantsMoreData(t *testing.T) {
	data := newTestMED(t, nil, make([]int8, 8))
	if r := ProbeMED(data[:2], -1); r != ProbeWantMoreData {
		t.Errorf("Expected want more data, got %s", r)
	}
	if r := ProbeMED(data[:100], -1); r != ProbeWantMoreData {
		t.Errorf("Expected want more data for the song structure, got %s", r)
	}
	if r := ProbeMED(data[:100], 100); r != ProbeFailure {
		t.Errorf("Expected failure for a 100 byte file, got %s", r)
	}
}

func TestLoadMMD2(t *testing.T) {
	song, err := Load(newTestMMD2(t))
	if err != nil {
		t.Fatal(err)
	}
	if song.Tracker != "OctaMED" || song.Title != "mmd2 song" {
		t.Errorf("Expected OctaMED song %q, got %q by %q", "mmd2 song", song.Title, song.Tracker)
	}
	if song.Channels != 3 {
		t.Errorf("Expecting 3 channels, got %d", song.Channels)
	}
	if song.Speed != 6 || song.Tempo != 125 {
		t.Errorf("Expected speed 6 and tempo 125, got %d %d", song.Speed, song.Tempo)
	}
	cs := song.ChannelSettings
	if cs[0].Volume != 64 || cs[1].Volume != 32 || cs[0].Pan != 0 || cs[1].Pan != MaxPan {
		t.Errorf("Unexpected track settings %+v", cs[:2])
	}
	if len(song.Patterns) != 3 {
		t.Fatalf("Expected 3 patterns, got %d", len(song.Patterns))
	}

	p := &song.Patterns[0]
	if p.Rows != 4 || p.Name != "intro" {
		t.Errorf("Expected block %q with 4 lines, got %q with %d", "intro", p.Name, p.Rows)
	}
	// the command page adds a speed change next to the main column volume
	want := Cell{Note: NoteMin + 60, Instrument: 1, VolCmd: VolVolume, Vol: 20, Command: EffectSpeed, Param: 5}
	if got := *p.Cell(0, 0); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	if len(song.Sequences) != 2 {
		t.Fatalf("Expected 2 sequences, got %d", len(song.Sequences))
	}
	seq := song.Sequences[0]
	if seq.Name != "main" || !slices.Equal(seq.Orders, []Order{0, OrderStop, 1}) {
		t.Errorf("Expected main = [0 --- 1], got %s = %v", seq.Name, seq.Orders)
	}
	last := &song.Patterns[1]
	if c := last.Cell(1, 0); c.Command != EffectVolume || c.Param != 10 {
		t.Errorf("Expected the volume command to stay, got %s", c)
	}
	if c := last.Cell(1, 1); c.Command != EffectPositionJump || c.Param != 0 {
		t.Errorf("Expected a jump to position 0 in the free column, got %s", c)
	}
}

func TestMEDSongsKeepTheirTempo(t *testing.T) {
	song, err := Load(newTestMMD2(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(song.Sequences) != 2 {
		t.Fatalf("Expected 2 sequences, got %d", len(song.Sequences))
	}
	first, second := song.Sequences[0], song.Sequences[1]
	if first.Speed != 6 || first.Tempo != 125 {
		t.Errorf("First song: expected speed 6 and tempo 125, got %d %d", first.Speed, first.Tempo)
	}
	if second.Speed != 3 || second.Tempo != 99 {
		t.Errorf("Second song: expected speed 3 and 99 BPM, got %d %d", second.Speed, second.Tempo)
	}
	if !slices.Equal(second.Orders, []Order{2}) {
		t.Errorf("Expected the second song to play its own block, got %v", second.Orders)
	}
	if c := song.Patterns[2].Cell(0, 2); c.Note != NoteMin+48 || c.Instrument != 1 {
		t.Errorf("Unexpected cell in the second song %s", c)
	}
}

func TestMEDSongChainMustAdvance(t *testing.T) {
	song, err := Load(newTestMMD2(t))
	if err != nil {
		t.Fatal(err)
	}
	// the second song points back at itself and the chain stops there
	if len(song.Sequences) != 2 {
		t.Errorf("Expected 2 sequences, got %d", len(song.Sequences))
	}
	if !song.Warnings.Has(ErrBadOffset) {
		t.Errorf("Expected a bad offset warning, got %v", song.Warnings)
	}
}

func TestMEDTooManyBlocks(t *testing.T) {
	// NumBlocks follows the 63 sample headers of the song structure
	const numBlocksAt = testMEDSongAt + medMaxSamples*8

	data := newTestMED(t, nil, make([]int8, 8))
	binary.BigEndian.PutUint16(data[numBlocksAt:], MaxPatterns+1)
	_, err := loadMED(data, DefaultOptions)
	if !errors.Is(err, ErrCountOutOfRange) || !errors.Is(err, ErrInvalidMED) {
		t.Errorf("Expected count out of range, got %v", err)
	}

	binary.BigEndian.PutUint16(data[numBlocksAt:], MaxPatterns)
	_, err = loadMED(data, DefaultOptions)
	if errors.Is(err, ErrCountOutOfRange) {
		t.Errorf("Expected %d blocks to pass the count check, got %v", MaxPatterns, err)
	}
}

func TestMEDTempo(t *testing.T) {
	m := &medModule{}
	if got := m.tempo(33); got != 125 {
		t.Errorf("Expected 125 BPM, got %d", got)
	}
	m.song.Flags = medFlag8Channel
	if got := m.tempo(1); got != 179 {
		t.Errorf("Expected 179 BPM in 8 channel mode, got %d", got)
	}
	m.song.Flags = 0
	m.song.Flags2 = medFlags2BPM | 3
	if got := m.tempo(120); got != 120 {
		t.Errorf("Expected 120 BPM with 4 rows per beat, got %d", got)
	}
}

func newJumpTestDecoder(patterns ...Pattern) *decoder {
	d := newDecoder(FormatMED, nil, DefaultOptions)
	d.song = newSong(FormatMED, FormatMED, 2)
	d.song.Patterns = patterns
	return d
}

func TestMEDJumpWritesLastRow(t *testing.T) {
	d := newJumpTestDecoder(NewPattern(4, 2), NewPattern(4, 2))
	seq := Sequence{Orders: []Order{0, 1}}
	d.applyMEDJumps(&seq, nil, []medJump{{pos: 1, target: 0}})

	if !slices.Equal(seq.Orders, []Order{0, 1}) {
		t.Errorf("Orders changed: %v", seq.Orders)
	}
	if c := d.song.Patterns[1].Cell(3, 0); c.Command != EffectPositionJump || c.Param != 0 {
		t.Errorf("Expected position jump to 0, got %s", c)
	}
}

func TestMEDJumpClonesSharedPattern(t *testing.T) {
	d := newJumpTestDecoder(NewPattern(4, 2))
	seq := Sequence{Orders: []Order{0, 0, 0}}
	d.applyMEDJumps(&seq, nil, []medJump{{pos: 1, target: 0}})

	if !slices.Equal(seq.Orders, []Order{0, 1, 0}) {
		t.Errorf("Expected the jumping position to get its own pattern, got %v", seq.Orders)
	}
	if len(d.song.Patterns) != 2 {
		t.Fatalf("Expected 2 patterns, got %d", len(d.song.Patterns))
	}
	if !d.song.Patterns[0].IsEmpty() {
		t.Errorf("Original pattern was modified")
	}
	if c := d.song.Patterns[1].Cell(3, 0); c.Command != EffectPositionJump {
		t.Errorf("Expected position jump in the copy, got %s", c)
	}
}

func TestMEDJumpInsertsPatternWhenRowIsFull(t *testing.T) {
	p := NewPattern(2, 2)
	for ch := range 2 {
		p.Cell(1, ch).Command = EffectVibrato
	}
	d := newJumpTestDecoder(p, NewPattern(2, 2))
	seq := Sequence{Orders: []Order{0, 1}}
	inserts := []medSeqInsert{{pos: 1, order: OrderStop}}
	d.applyMEDJumps(&seq, inserts, []medJump{{pos: 0, target: 1}})

	// the jump row goes after position 0; position 1 moves to 2
	want := []Order{0, 2, 1, OrderStop}
	if !slices.Equal(seq.Orders, want) {
		t.Fatalf("Expected orders %v, got %v", want, seq.Orders)
	}
	jp := &d.song.Patterns[2]
	if jp.Rows != 1 {
		t.Errorf("Expected a one row pattern, got %d rows", jp.Rows)
	}
	if c := jp.Cell(0, 0); c.Command != EffectPositionJump || c.Param != 2 {
		t.Errorf("Expected position jump to 2, got %s", c)
	}
}
