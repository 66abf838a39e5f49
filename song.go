package modload

import (
	"fmt"

	clone "github.com/huandu/go-clone/generic"
)

const (
	MaxChannels      = 64
	MaxPatterns      = 4000
	MaxPatternRows   = 1024
	MaxOrders        = 0xFFFE
	MaxInstruments   = 255
	MaxSamples       = 4000
	MaxEnvelopeNodes = 25
	MaxSampleLength  = 0x10000000 // frames

	MaxGlobalVolume = 256
	MaxSampleVolume = 256
	MaxPan          = 256
	centerPan       = 128

	defaultSpeed = 6
	defaultTempo = 125
)

// Format identifies the conventions a song follows. For songs read from an
// MO3 container this is the format the module was converted from.
type Format int

const (
	FormatUnknown Format = iota
	FormatMOD
	FormatS3M
	FormatXM
	FormatIT
	FormatMTM
	FormatMED
	FormatMO3
)

var formatNames = [...]string{"unknown", "MOD", "S3M", "XM", "IT", "MTM", "MED", "MO3"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// SongFlags hold playback conventions a loader detected.
type SongFlags uint32

const (
	FlagLinearSlides SongFlags = 1 << iota
	FlagFastVolumeSlides
	FlagAmigaLimits
	FlagInstrumentMode
	FlagITOldEffects
	FlagITCompatGxx
	FlagExtendedFilterRange
	FlagModPlugMode
	FlagVBlankTiming
	FlagBPMMode   // MED: tempo is given in beats per minute
	FlagFilterOn  // Amiga LED filter enabled at song start
	FlagMixPlugin // the original module used mix plugins, which are not loaded
)

// Order is one entry of a sequence: a pattern index or one of the sentinels.
type Order uint16

const (
	OrderSkip Order = 0xFFFE // "+++" marker, playback moves to the next entry
	OrderStop Order = 0xFFFF // "---" marker, end of song
)

// IsPattern reports whether o references a pattern.
func (o Order) IsPattern() bool { return o < OrderSkip }

// Sequence is one playable order list. Most formats have a single sequence;
// MED files can store several songs sharing one instrument set.
type Sequence struct {
	Name    string
	Orders  []Order
	Restart int
	Speed   int
	Tempo   int
}

// ChannelSettings holds initial channel state.
type ChannelSettings struct {
	Name     string
	Volume   int // 0..64
	Pan      int // 0..256
	Surround bool
	Muted    bool
	Plugin   int // mix plugin reference, 0 = none
}

// MidiMacros is a MIDI macro configuration. Each macro is a string of hex
// digits and placeholder letters.
type MidiMacros struct {
	Global [9]string
	SFx    [16]string
	Zxx    [128]string
}

const (
	midiMacroLen      = 32
	midiMacroDataSize = (9 + 16 + 128) * midiMacroLen
)

// Song is a decoded module.
type Song struct {
	Title     string
	Artist    string
	Message   string
	Tracker   string
	Format    Format
	Container Format

	Channels       int
	Speed          int // ticks per row
	Tempo          int // beats per minute
	GlobalVolume   int // 0..256
	SampleVolume   int // sample pre-amp, 0 = format default
	Flags          SongFlags
	RowsPerBeat    int
	RowsPerMeasure int

	ChannelSettings []ChannelSettings
	Sequences       []Sequence
	Patterns        []Pattern

	// Instruments[i] is instrument number i+1. Entries may be nil.
	Instruments []*Instrument
	// Samples[i] is sample number i+1.
	Samples []Sample

	MidiMacros *MidiMacros
	Warnings   Warnings
}

// Orders returns the order list of the first sequence.
func (s *Song) Orders() []Order {
	if len(s.Sequences) == 0 {
		return nil
	}
	return s.Sequences[0].Orders
}

// Clone returns a deep copy of the song.
func (s *Song) Clone() *Song {
	return clone.Clone(s)
}

// Instrument returns instrument n (1-based) or nil.
func (s *Song) Instrument(n int) *Instrument {
	if n < 1 || n > len(s.Instruments) {
		return nil
	}
	return s.Instruments[n-1]
}

// Sample returns sample n (1-based) or nil.
func (s *Song) Sample(n int) *Sample {
	if n < 1 || n > len(s.Samples) {
		return nil
	}
	return &s.Samples[n-1]
}

func newSong(format, container Format, channels int) *Song {
	song := &Song{
		Format:          format,
		Container:       container,
		Channels:        channels,
		Speed:           defaultSpeed,
		Tempo:           defaultTempo,
		GlobalVolume:    MaxGlobalVolume,
		ChannelSettings: make([]ChannelSettings, channels),
	}
	for i := range song.ChannelSettings {
		song.ChannelSettings[i] = ChannelSettings{Volume: 64, Pan: centerPan}
	}
	return song
}

// Cell is one row/channel intersection of a pattern.
type Cell struct {
	Note       Note
	Instrument uint8
	VolCmd     VolumeCommand
	Vol        uint8
	Command    Effect
	Param      uint8
}

// IsEmpty reports whether the cell carries no data.
func (c Cell) IsEmpty() bool {
	return c == Cell{}
}

func (c Cell) String() string {
	instr := ".."
	if c.Instrument != 0 {
		instr = fmt.Sprintf("%02X", c.Instrument)
	}
	vol := "..."
	if c.VolCmd != VolNone {
		vol = fmt.Sprintf("%c%02d", c.VolCmd.Letter(), c.Vol)
	}
	fx := "..."
	if c.Command != EffectNone {
		fx = fmt.Sprintf("%c%02X", c.Command.Letter(), c.Param)
	}
	return fmt.Sprintf("%s %s %s %s", c.Note, instr, vol, fx)
}

// Pattern is a grid of cells stored row by row.
type Pattern struct {
	Name           string
	Rows           int
	Channels       int
	RowsPerBeat    int
	RowsPerMeasure int
	Cells          []Cell
}

// NewPattern allocates an empty pattern.
func NewPattern(rows, channels int) Pattern {
	return Pattern{Rows: rows, Channels: channels, Cells: make([]Cell, rows*channels)}
}

// Cell returns the cell at (row, ch). It panics if either index is out of
// range, like a slice access.
func (p *Pattern) Cell(row, ch int) *Cell {
	if row < 0 || row >= p.Rows || ch < 0 || ch >= p.Channels {
		panic(fmt.Sprintf("modload: cell (%d, %d) outside %dx%d pattern", row, ch, p.Rows, p.Channels))
	}
	return &p.Cells[row*p.Channels+ch]
}

// Row returns the cells of one row.
func (p *Pattern) Row(row int) []Cell {
	return p.Cells[row*p.Channels : (row+1)*p.Channels]
}

// IsEmpty reports whether no cell carries data.
func (p *Pattern) IsEmpty() bool {
	for _, c := range p.Cells {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// Loaded reports whether the pattern has cell data allocated.
func (p *Pattern) Loaded() bool { return p.Cells != nil }

// EnvelopeNode is one point of an envelope.
type EnvelopeNode struct {
	Tick  uint16
	Value uint8
}

// EnvelopeFlags describe how an envelope plays.
type EnvelopeFlags uint8

const (
	EnvEnabled EnvelopeFlags = 1 << iota
	EnvLoop
	EnvSustain
	EnvCarry
	EnvFilter // pitch envelope drives the filter instead of pitch
)

const EnvReleaseNone = 0xFF

// Envelope is a volume, panning or pitch curve. Values are 0..64 with 32 as
// the center for panning and pitch.
type Envelope struct {
	Nodes        []EnvelopeNode
	Flags        EnvelopeFlags
	LoopStart    uint8
	LoopEnd      uint8
	SustainStart uint8
	SustainEnd   uint8
	ReleaseNode  uint8
}

// fixTicks repairs nodes whose tick lies before the previous node.
func (e *Envelope) fixTicks() {
	for i := 1; i < len(e.Nodes); i++ {
		if e.Nodes[i].Tick < e.Nodes[i-1].Tick {
			e.Nodes[i].Tick = e.Nodes[i-1].Tick + 1
		}
	}
}

// NewNoteAction is what happens to a playing note when a new one starts.
type NewNoteAction uint8

const (
	NNACut NewNoteAction = iota
	NNAContinue
	NNANoteOff
	NNANoteFade
)

// Instrument maps notes to samples and carries envelopes and MIDI settings.
type Instrument struct {
	Name     string
	Filename string

	// Keyboard maps each note to a sample number (0 = none). NoteMap maps
	// each note to the note actually played.
	Keyboard [NoteMax]uint16
	NoteMap  [NoteMax]Note

	VolEnv   Envelope
	PanEnv   Envelope
	PitchEnv Envelope

	FadeOut      int
	GlobalVolume int // 0..64
	Pan          int // 0..256, valid if SetPan
	SetPan       bool
	Muted        bool

	NNA                NewNoteAction
	DCT                uint8
	DNA                uint8
	PitchPanSeparation int8
	PitchPanCenter     Note
	RandomVolume       int // 0..100
	RandomPan          int // 0..64

	CutOff     uint8 // 0..127, bit 7 set when enabled
	Resonance  uint8
	FilterMode uint8

	MidiChannel uint8
	MidiProgram uint8
	MidiBank    uint16
	MidiDrumKey uint8
	MidiPWD     int8
	Plugin      uint8

	VolRampUp              uint16
	ResamplingMode         uint8
	PluginVelocityHandling uint8
	PluginVolumeHandling   uint8
	PitchToTempoLock       uint32 // fixed point, 4 fractional digits
	Hold, Decay            uint8  // MED note hold and decay

	// Used only by formats that store auto vibrato per instrument.
	Vibrato AutoVibrato
}

// NewInstrument returns an instrument with the identity note map.
func NewInstrument() *Instrument {
	ins := &Instrument{
		GlobalVolume:   64,
		Pan:            centerPan,
		PitchPanCenter: NoteMin + 5*12,
	}
	ins.VolEnv.ReleaseNode = EnvReleaseNone
	ins.PanEnv.ReleaseNode = EnvReleaseNone
	ins.PitchEnv.ReleaseNode = EnvReleaseNone
	for i := range ins.NoteMap {
		ins.NoteMap[i] = NoteMin + Note(i)
	}
	return ins
}

// AutoVibrato settings of a sample.
type AutoVibrato struct {
	Type  uint8
	Sweep uint8
	Depth uint8
	Rate  uint8
}

// SampleFlags describe a sample's layout and looping.
type SampleFlags uint16

const (
	Sample16Bit SampleFlags = 1 << iota
	SampleStereo
	SampleLoop
	SamplePingPong
	SampleSustain
	SampleSustainPingPong
	SamplePanning
	SampleSurround
)

// Codec identifies how a sample payload is stored in the file.
type Codec int

const (
	CodecPCM Codec = iota
	CodecDelta
	CodecDeltaPrediction
	CodecADPCM
	CodecMP3
	CodecVorbis
	CodecOPL
)

var codecNames = [...]string{"PCM", "delta", "delta prediction", "ADPCM", "MP3", "Ogg Vorbis", "OPL"}

func (c Codec) String() string {
	if c < 0 || int(c) >= len(codecNames) {
		return fmt.Sprintf("Codec(%d)", int(c))
	}
	return codecNames[c]
}

// Payload locates a compressed sample in the source file. It is kept even
// when sample data is not decoded.
type Payload struct {
	Codec        Codec
	Offset       int
	Size         int
	EncoderDelay int
	// SharedHeader is the sample number whose leading bytes hold this
	// sample's codec header, or 0.
	SharedHeader int
}

// Sample is PCM metadata plus decoded data.
type Sample struct {
	Name     string
	Filename string

	Length       int // in frames
	LoopStart    int
	LoopEnd      int
	SustainStart int
	SustainEnd   int
	Flags        SampleFlags

	C5Speed      int // playback rate of C-5, 0 if RelativeTone and FineTune apply
	RelativeTone int
	FineTune     int // -128..127

	Volume       int // 0..256
	GlobalVolume int // 0..64
	Pan          int // 0..256, valid with SamplePanning
	Vibrato      AutoVibrato

	// Interleaved PCM. Only one of the two is set.
	Data   []int8
	Data16 []int16

	Payload *Payload
	OPL     []byte // raw OPL patch for FM instruments
}

// Channels returns 2 for stereo samples and 1 otherwise.
func (s *Sample) Channels() int {
	if s.Flags&SampleStereo != 0 {
		return 2
	}
	return 1
}

// Is16Bit reports whether the sample uses 16-bit data.
func (s *Sample) Is16Bit() bool { return s.Flags&Sample16Bit != 0 }

// HasData reports whether PCM data has been decoded.
func (s *Sample) HasData() bool {
	return len(s.Data) > 0 || len(s.Data16) > 0
}

// sanitizeLoops clamps loop points to the sample length.
func (s *Sample) sanitizeLoops() {
	fix := func(start, end *int, flags SampleFlags) {
		*end = min(*end, s.Length)
		if *start >= *end || *start < 0 {
			*start, *end = 0, 0
			s.Flags &^= flags
		}
	}
	fix(&s.LoopStart, &s.LoopEnd, SampleLoop|SamplePingPong)
	fix(&s.SustainStart, &s.SustainEnd, SampleSustain|SampleSustainPingPong)
}

func (s Sample) String() string {
	return fmt.Sprintf(
		"\tName:\t\t%s\n"+
			"\tLength:\t\t%d\n"+
			"\tVolume:\t\t%d\n"+
			"\tLoop:\t\t%d-%d\n"+
			"\tC5Speed:\t%d\n"+
			"\tFlags:\t\t%#x\n", s.Name, s.Length, s.Volume, s.LoopStart, s.LoopEnd, s.C5Speed, s.Flags,
	)
}
