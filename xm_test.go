package modload

import (
	"errors"
	"testing"
)

func TestLoadXMEmptyPattern(t *testing.T) {
	data := newTestXM(t, 4, 1, 0)
	if len(data) != 345 {
		t.Fatalf("Fixture is %d bytes, expected 345", len(data))
	}

	song, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if song.Format != FormatXM || song.Container != FormatXM {
		t.Errorf("Expected XM format, got %s in %s", song.Format, song.Container)
	}
	if song.Title != "empty song" {
		t.Errorf("Incorrect song title %q", song.Title)
	}
	if song.Tracker != "FastTracker 2" {
		t.Errorf("Expected FastTracker 2, got %q", song.Tracker)
	}
	if song.Channels != 4 {
		t.Errorf("Expecting 4 channels, got %d", song.Channels)
	}
	if orders := song.Orders(); len(orders) != 1 || orders[0] != 0 {
		t.Errorf("Expected orders [0], got %v", orders)
	}
	if len(song.Patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(song.Patterns))
	}
	p := &song.Patterns[0]
	if p.Rows != 64 || p.Channels != 4 || !p.Loaded() || !p.IsEmpty() {
		t.Errorf("Expected an empty 64x4 pattern, got %dx%d loaded=%v", p.Rows, p.Channels, p.Loaded())
	}
	if len(song.Instruments) != 0 || len(song.Samples) != 0 {
		t.Errorf("Expected no instruments or samples, got %d and %d", len(song.Instruments), len(song.Samples))
	}
	if len(song.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", song.Warnings)
	}
}

func TestXMHeaderOnly(t *testing.T) {
	song, err := LoadWithOptions(newTestXM(t, 4, 1, 0), Options{Flags: OnlyVerifyHeader})
	if err != nil {
		t.Fatal(err)
	}
	if song.Channels != 4 || song.Patterns != nil {
		t.Errorf("Expected header only, got %d channels and %d patterns", song.Channels, len(song.Patterns))
	}
}

func TestXMCountsOutOfRange(t *testing.T) {
	tests := []struct {
		name                           string
		channels, patterns, instrument uint16
	}{
		{"channels", 65, 1, 0},
		{"patterns", 4, 257, 0},
		{"instruments", 4, 1, 256},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := newTestXM(t, tc.channels, tc.patterns, tc.instrument)
			if r := ProbeXM(data, int64(len(data))); r != ProbeFailure {
				t.Errorf("Expected probe failure, got %s", r)
			}
			_, err := loadXM(data, DefaultOptions)
			if !errors.Is(err, ErrCountOutOfRange) {
				t.Errorf("Expected count out of range, got %v", err)
			}
			if !errors.Is(err, ErrInvalidXM) {
				t.Errorf("Expected error to match ErrInvalidXM, got %v", err)
			}
		})
	}

	// the limits themselves are fine
	data := newTestXM(t, 64, 1, 0)
	if r := ProbeXM(data, int64(len(data))); r != ProbeSuccess {
		t.Errorf("Expected 64 channels to probe, got %s", r)
	}
}

func TestXMCell(t *testing.T) {
	tests := []struct {
		note, instr, vol, cmd, param uint8
		want                         Cell
	}{
		{49, 1, 0x30, 0x0C, 0x20, Cell{Note: NoteMiddleC, Instrument: 1, VolCmd: VolVolume, Vol: 0x20, Command: EffectVolume, Param: 0x20}},
		{97, 0, 0, 0, 0, Cell{Note: NoteKeyOff}},
		{0, 0xFF, 0xC8, 0x0F, 0x80, Cell{VolCmd: VolPanning, Vol: 32, Command: EffectTempo, Param: 0x80}},
		{0, 0, 0xF3, 0x0D, 0x21, Cell{VolCmd: VolTonePorta, Vol: 3, Command: EffectPatternBreak, Param: 21}},
		{0, 0, 0, 0x00, 0x00, Cell{}},
	}
	for i, tc := range tests {
		got := xmCell(tc.note, tc.instr, tc.vol, tc.cmd, tc.param)
		if got != tc.want {
			t.Errorf("%d: expected %+v, got %+v", i, tc.want, got)
		}
	}
}

func TestXMEnvelopeTickRepair(t *testing.T) {
	// second tick only kept its low byte
	data := []uint16{0x00F0, 64, 0x0010, 32, 0x0120, 0}
	env := convertXMEnvelope(data, 3, 1, 0, 2, xmEnvEnabled|xmEnvSustain|xmEnvLoop)
	want := []uint16{0x00F0, 0x0110, 0x0120}
	for i, n := range env.Nodes {
		if n.Tick != want[i] {
			t.Errorf("Node %d: expected tick %#x, got %#x", i, want[i], n.Tick)
		}
	}
	if env.Flags != EnvEnabled|EnvSustain|EnvLoop {
		t.Errorf("Unexpected flags %v", env.Flags)
	}
}

func TestXMSampleLongerThanFile(t *testing.T) {
	tests := []struct {
		name   string
		sh     xmSample
		frames int
	}{
		{"8 bit", xmSample{Length: 0x7FFFFFF0, Volume: 64}, 4},
		{"16 bit stereo", xmSample{Length: 0xFFFFFFFC, Volume: 64, Flags: xmSample16Bit | xmSampleStereo}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := newTestXMSample(t, tc.sh, []byte{1, 1, 1, 1})
			song, err := Load(data)
			if err != nil {
				t.Fatal(err)
			}
			smp := song.Sample(1)
			if smp.Length != tc.frames {
				t.Errorf("Expected %d frames, got %d", tc.frames, smp.Length)
			}
			if n := len(smp.Data) + len(smp.Data16); n > 4 {
				t.Errorf("Expected at most 4 values, got %d", n)
			}
			if !song.Warnings.Has(ErrShortRead) {
				t.Errorf("Expected a short read warning, got %v", song.Warnings)
			}
		})
	}
}
