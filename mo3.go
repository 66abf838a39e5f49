package modload

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/codec"
	"github.com/chriskillpack/modload/internal/deltapcm"
	"github.com/chriskillpack/modload/internal/fieldreader"
	"github.com/chriskillpack/modload/internal/lz"
)

// MO3 files are MOD, S3M, XM, IT or MTM modules whose song data is LZ
// compressed and whose samples may be delta, MPEG or Ogg Vorbis coded.

const (
	mo3Magic        = "MO3"
	mo3MaxVersion   = 5
	mo3MaxMusicSize = 512 << 20
	mo3MaxTrackSize = 0x200000

	// header flags
	mo3LinearSlides   = 0x0001
	mo3IsS3M          = 0x0002
	mo3S3MFastSlides  = 0x0004
	mo3IsMTM          = 0x0008
	mo3S3MAmigaLimits = 0x0010
	mo3IsMOD          = 0x0080
	mo3IsIT           = 0x0100
	mo3InstrumentMode = 0x0200
	mo3ITCompatGxx    = 0x0400
	mo3ITOldFX        = 0x0800
	mo3ModPlugMode    = 0x10000
	mo3ModVBlank      = 0x80000
	mo3HasPlugins     = 0x100000
	mo3ExtFilterRange = 0x200000

	// sample flags
	mo3Sample16Bit         = 0x01
	mo3SampleLoop          = 0x10
	mo3SamplePingPong      = 0x20
	mo3SampleSustain       = 0x100
	mo3SampleSustainPingPg = 0x200
	mo3SampleStereo        = 0x400
	mo3CompressionMPEG     = 0x1000
	mo3CompressionOgg      = 0x1000 | 0x2000
	mo3CompressionShared   = 0x1000 | 0x2000 | 0x4000 // Ogg without its own headers
	mo3CompressionDelta    = 0x2000
	mo3CompressionPredict  = 0x4000
	mo3CompressionOPL      = 0x8000
	mo3CompressionMask     = 0xF000

	// envelope flags
	mo3EnvEnabled = 0x01
	mo3EnvSustain = 0x02
	mo3EnvLoop    = 0x04
	mo3EnvFilter  = 0x10
	mo3EnvCarry   = 0x20

	mo3InstrPlayOnMIDI = 0x01
	mo3InstrMute       = 0x02
)

type mo3ContainerHeader struct {
	Magic     [3]byte
	Version   uint8
	MusicSize uint32 // unpacked size of the music block
}

type mo3FileHeader struct {
	NumChannels    uint8
	NumOrders      uint16
	RestartPos     uint16
	NumPatterns    uint16
	NumTracks      uint16
	NumInstruments uint16
	NumSamples     uint16
	DefaultSpeed   uint8
	DefaultTempo   uint8
	Flags          uint32
	GlobalVol      uint8 // 0..128 in IT, 0..64 in S3M
	PanSeparation  uint8
	SampleVolume   int8
	ChnVolume      [64]uint8
	ChnPan         [64]uint8 // 127 is surround
	SFxMacros      [16]uint8
	FixedMacros    [128][2]uint8
}

const mo3FileHeaderSize = 422

type mo3Envelope struct {
	Flags        uint8
	NumNodes     uint8
	SustainStart uint8
	SustainEnd   uint8
	LoopStart    uint8
	LoopEnd      uint8
	Points       [MaxEnvelopeNodes][2]int16
}

type mo3Instrument struct {
	Flags       uint32
	SampleMap   [NoteMax][2]uint16 // note, sample
	VolEnv      mo3Envelope
	PanEnv      mo3Envelope
	PitchEnv    mo3Envelope
	Vibrato     AutoVibrato // XM only, applies to all samples
	FadeOut     uint16
	MidiChannel uint8
	MidiBank    uint8
	MidiPatch   uint8
	MidiBend    uint8
	GlobalVol   uint8  // 0..128
	Panning     uint16 // 0..256, 0xFFFF if unset
	NNA         uint8
	PPS         uint8
	PPC         uint8
	DCT         uint8
	DCA         uint8
	VolSwing    uint16
	PanSwing    uint16
	CutOff      uint8
	Resonance   uint8
}

type mo3Sample struct {
	FreqFineTune   uint32 // Hz in S3M and IT, finetune otherwise
	Transpose      int8
	DefaultVolume  uint8
	Panning        uint16 // 0..256, 0xFFFF if unset
	Length         uint32
	LoopStart      uint32
	LoopEnd        uint32
	Flags          uint16
	VibType        uint8
	VibSweep       uint8
	VibDepth       uint8
	VibRate        uint8
	GlobalVol      uint8
	SustainStart   uint32
	SustainEnd     uint32
	CompressedSize int32  // negative: copy of an earlier sample
	EncoderDelay   uint16 // MP3: frames to drop; shared Ogg: header size
}

// mo3BlockSize returns the size of the container header and the size of the
// stored music block. Before version 5 the compressed size is not recorded
// and size is -1.
func mo3BlockSize(version uint8, data []byte) (header, size int) {
	if version < 5 {
		return 8, -1
	}
	if len(data) < 12 {
		return 12, -1
	}
	return 12, int(binary.LittleEndian.Uint32(data[8:]))
}

// validateMO3Header checks the container header. compressedSize is the
// stored size of the music block, or -1 if unknown.
func validateMO3Header(h *mo3ContainerHeader, compressedSize int64) ErrorKind {
	switch {
	case string(h.Magic[:]) != mo3Magic:
		return ErrBadMagic
	case h.Version > mo3MaxVersion:
		return ErrBadVersion
	case h.MusicSize <= mo3FileHeaderSize || h.MusicSize >= mo3MaxMusicSize:
		return ErrCountOutOfRange
	case compressedSize >= 0 && compressedSize > int64(h.MusicSize):
		return ErrCorruptStream
	}
	return 0
}

// ProbeMO3 checks whether data starts an MO3 file.
func ProbeMO3(data []byte, fileSize int64) ProbeResult {
	if r := probeMagic(data, 0, mo3Magic); r != ProbeSuccess {
		return r
	}
	var h mo3ContainerHeader
	if !fieldreader.New(data).ReadStruct(binary.LittleEndian, &h) {
		return ProbeWantMoreData
	}
	headerSize, size := mo3BlockSize(h.Version, data)
	if h.Version >= 5 && size < 0 {
		return ProbeWantMoreData
	}
	if validateMO3Header(&h, int64(size)) != 0 {
		return ProbeFailure
	}
	if size < 0 {
		size = 1
	}
	return probeAdditionalSize(len(data), int64(headerSize+size), fileSize)
}

// mo3SampleInfo keeps what the sample payload pass needs from the header.
type mo3SampleInfo struct {
	header mo3Sample
	// sharedHeader is the sample whose payload starts with the Ogg headers
	// this sample lacks, or 0.
	sharedHeader int
	payload      []byte
}

func loadMO3(data []byte, opts Options) (*Song, error) {
	d := newDecoder(FormatMO3, data, opts)

	d.startStage("container")
	var ch mo3ContainerHeader
	if !d.file.ReadStruct(binary.LittleEndian, &ch) {
		return nil, d.fail(ErrShortRead, "container header")
	}
	headerSize, compressedSize := mo3BlockSize(ch.Version, data)
	if kind := validateMO3Header(&ch, int64(compressedSize)); kind != 0 {
		return nil, d.fail(kind, "version %d, music size %d, compressed size %d", ch.Version, ch.MusicSize, compressedSize)
	}
	if !d.file.Seek(headerSize) {
		return nil, d.fail(ErrShortRead, "container header")
	}
	src := d.file.Rest()
	if compressedSize >= 0 {
		if compressedSize > len(src) {
			return nil, d.fail(ErrShortRead, "music block of %d bytes", compressedSize)
		}
		src = src[:compressedSize]
	}

	d.startStage("music")
	music, consumed, ok := lz.Unpack(src, int(ch.MusicSize))
	if !ok {
		return nil, d.fail(ErrCorruptStream, "music block does not unpack to %d bytes", ch.MusicSize)
	}
	if compressedSize < 0 {
		compressedSize = consumed
	}
	m := fieldreader.New(music)

	d.startStage("header")
	title, _ := m.ReadNullString(m.Remaining())
	message, _ := m.ReadNullString(m.Remaining())
	var h mo3FileHeader
	if !m.ReadStruct(binary.LittleEndian, &h) {
		return nil, d.fail(ErrShortRead, "music header")
	}
	switch {
	case h.NumChannels == 0 || int(h.NumChannels) > MaxChannels:
		return nil, d.fail(ErrCountOutOfRange, "%d channels", h.NumChannels)
	case int(h.NumInstruments) > MaxInstruments:
		return nil, d.fail(ErrCountOutOfRange, "%d instruments", h.NumInstruments)
	case int(h.NumSamples) >= MaxSamples:
		return nil, d.fail(ErrCountOutOfRange, "%d samples", h.NumSamples)
	case int(h.NumPatterns) > MaxPatterns:
		return nil, d.fail(ErrCountOutOfRange, "%d patterns", h.NumPatterns)
	}

	origin := mo3Origin(h.Flags)
	song := newSong(origin, FormatMO3, int(h.NumChannels))
	d.song = song
	song.Title = cleanName(title)
	song.Message = messageText(message, cp437)
	song.Tracker = fmt.Sprintf("MO3 %d", ch.Version)
	d.applyMO3Header(&h, ch.Version)

	dumpf("Title:\t\t%s\n", song.Title)
	dumpf("Tracker:\t%s (from %s)\n", song.Tracker, origin)
	dumpf("Channels:\t%d\n", song.Channels)
	dumpf("Speed:\t\t%d\n", song.Speed)
	dumpf("Tempo:\t\t%d\n", song.Tempo)
	dumpf("Patterns:\t%d\n", h.NumPatterns)
	dumpf("Instruments:\t%d\n", h.NumInstruments)
	dumpf("Samples:\t%d\n", h.NumSamples)

	if opts.Flags == OnlyVerifyHeader {
		return song, nil
	}

	d.startStage("orders")
	orders, ok := m.ReadView(int(h.NumOrders))
	if !ok {
		return nil, d.fail(ErrShortRead, "%d orders", h.NumOrders)
	}
	seq := Sequence{Speed: song.Speed, Tempo: song.Tempo}
	for _, o := range orders {
		switch o {
		case 0xFF:
			seq.Orders = append(seq.Orders, OrderStop)
		case 0xFE:
			seq.Orders = append(seq.Orders, OrderSkip)
		default:
			seq.Orders = append(seq.Orders, Order(o))
		}
	}
	if int(h.RestartPos) < len(seq.Orders) {
		seq.Restart = int(h.RestartPos)
	}
	song.Sequences = []Sequence{seq}

	d.startStage("patterns")
	if err := d.readMO3Patterns(m, &h); err != nil {
		return nil, err
	}

	d.startStage("instruments")
	for i := 0; i < int(h.NumInstruments); i++ {
		if !d.readMO3Instrument(m, ch.Version, i+1) {
			d.warn(ErrShortRead, "", "music block ends after %d of %d instruments", i, h.NumInstruments)
			break
		}
	}

	d.startStage("samples")
	infos := make([]mo3SampleInfo, 0, h.NumSamples)
	song.Samples = make([]Sample, 0, h.NumSamples)
	for i := 0; i < int(h.NumSamples); i++ {
		info, ok := d.readMO3Sample(m, ch.Version, i+1)
		if !ok {
			d.warn(ErrShortRead, "", "music block ends after %d of %d samples", i, h.NumSamples)
			break
		}
		infos = append(infos, info)
	}
	d.applyMO3InstrumentVibrato()

	if h.Flags&mo3HasPlugins != 0 {
		d.skipMO3Plugins(m)
	}
	d.readMO3Chunks(m)

	d.startStage("sample data")
	if !d.file.Seek(headerSize + compressedSize) {
		d.warn(ErrShortRead, "", "no sample data")
		return song, nil
	}
	d.readMO3SampleData(infos)
	return song, nil
}

// mo3Origin returns the format a module was converted from.
func mo3Origin(flags uint32) Format {
	switch {
	case flags&mo3IsIT != 0:
		return FormatIT
	case flags&mo3IsS3M != 0:
		return FormatS3M
	case flags&mo3IsMOD != 0:
		return FormatMOD
	case flags&mo3IsMTM != 0:
		return FormatMTM
	}
	return FormatXM
}

var mo3SongFlags = []struct {
	bit  uint32
	flag SongFlags
}{
	{mo3LinearSlides, FlagLinearSlides},
	{mo3S3MFastSlides, FlagFastVolumeSlides},
	{mo3S3MAmigaLimits, FlagAmigaLimits},
	{mo3InstrumentMode, FlagInstrumentMode},
	{mo3ITCompatGxx, FlagITCompatGxx},
	{mo3ITOldFX, FlagITOldEffects},
	{mo3ModPlugMode, FlagModPlugMode},
	{mo3ModVBlank, FlagVBlankTiming},
	{mo3HasPlugins, FlagMixPlugin},
	{mo3ExtFilterRange, FlagExtendedFilterRange},
}

func (d *decoder) applyMO3Header(h *mo3FileHeader, version uint8) {
	song := d.song
	for _, f := range mo3SongFlags {
		if h.Flags&f.bit != 0 {
			song.Flags |= f.flag
		}
	}
	if song.Format == FormatXM {
		song.Flags |= FlagInstrumentMode
	}
	if h.DefaultSpeed != 0 {
		song.Speed = int(h.DefaultSpeed)
	}
	if h.DefaultTempo != 0 {
		song.Tempo = int(h.DefaultTempo)
	}
	switch song.Format {
	case FormatIT:
		song.GlobalVolume = int(min(h.GlobalVol, 128)) * 2
		if h.SampleVolume > 0 {
			song.SampleVolume = int(h.SampleVolume)
		}
	case FormatS3M:
		song.GlobalVolume = int(min(h.GlobalVol, 64)) * 4
	}

	for i := range song.ChannelSettings {
		cs := &song.ChannelSettings[i]
		cs.Volume = int(min(h.ChnVolume[i], 64))
		switch pan := h.ChnPan[i]; pan {
		case 127:
			cs.Surround = true
			cs.Pan = centerPan
		case 255:
			cs.Pan = MaxPan
		default:
			cs.Pan = int(pan)
		}
	}

	if song.Format == FormatIT || song.Format == FormatXM {
		macros := defaultMidiMacros()
		for i, v := range h.SFxMacros {
			if v != 0 {
				macros.SFx[i] = fmt.Sprintf("F0F0%02Xz", v-1)
			}
		}
		for i, v := range h.FixedMacros {
			if v[1] != 0 {
				macros.Zxx[i] = fmt.Sprintf("F0F0%02X%02X", v[1]-1, v[0])
			}
		}
		song.MidiMacros = macros
	}
}

func (d *decoder) readMO3Patterns(m *fieldreader.Cursor, h *mo3FileHeader) error {
	song := d.song
	numPatterns, numChannels := int(h.NumPatterns), int(h.NumChannels)
	trackTable := m.ReadChunk(numPatterns * numChannels * 2)
	lengths := m.ReadChunk(numPatterns * 2)
	if trackTable.Len() < numPatterns*numChannels*2 || lengths.Len() < numPatterns*2 {
		return d.fail(ErrShortRead, "track table of %d patterns", numPatterns)
	}
	tracks := make([][]byte, h.NumTracks)
	for i := range tracks {
		n, ok := m.ReadU32LE()
		if !ok {
			return d.fail(ErrShortRead, "%d of %d tracks", i, h.NumTracks)
		}
		if n > mo3MaxTrackSize {
			return d.fail(ErrCorruptStream, "track %d is %d bytes", i, n)
		}
		tracks[i] = m.ReadChunk(int(n)).Rest()
	}

	t := Translator{Format: song.Format}
	song.Patterns = make([]Pattern, numPatterns)
	for pat := range song.Patterns {
		rows, _ := lengths.ReadU16LE()
		if rows == 0 || int(rows) > MaxPatternRows {
			d.warn(ErrCountOutOfRange, patternItem(pat), "%d rows", rows)
			rows = 64
		}
		p := Pattern{Rows: int(rows), Channels: song.Channels}
		if d.wantPatterns() {
			p = NewPattern(int(rows), song.Channels)
		}
		for ch := 0; ch < numChannels; ch++ {
			idx, _ := trackTable.ReadU16LE()
			if !p.Loaded() || int(idx) >= len(tracks) {
				continue
			}
			d.readMO3Track(t, &p, ch, fieldreader.New(tracks[idx]))
		}
		song.Patterns[pat] = p
		if p.Loaded() {
			dumpPattern(pat, &p)
		}
	}
	return nil
}

// readMO3Track fills one channel of a pattern. Each entry is a byte whose
// high nibble repeats the cell over that many rows and whose low nibble
// counts the (command, parameter) pairs building the cell. A zero byte ends
// the track.
func (d *decoder) readMO3Track(t Translator, p *Pattern, ch int, c *fieldreader.Cursor) {
	for row := 0; row < p.Rows; {
		b, ok := c.ReadU8()
		if !ok || b == 0 {
			return
		}
		repeat, numCommands := int(b>>4), int(b&0x0F)
		var cell Cell
		for range numCommands {
			cmd, _ := c.ReadU8()
			param, ok := c.ReadU8()
			if !ok {
				return
			}
			d.placeMO3Command(t, &cell, cmd, param)
		}
		for r := row; r < min(row+repeat, p.Rows); r++ {
			*p.Cell(r, ch) = cell
		}
		row += repeat
	}
}

func (d *decoder) placeMO3Command(t Translator, cell *Cell, cmd, param uint8) {
	switch cmd {
	case 0x01:
		switch {
		case param < uint8(NoteMax):
			cell.Note = NoteMin + Note(param)
		case param == 0xFF:
			cell.Note = NoteKeyOff
		case param == 0xFE:
			cell.Note = NoteCut
		default:
			cell.Note = NoteFade
		}
	case 0x02:
		cell.Instrument = param + 1
	case 0x06:
		if cell.VolCmd == VolNone {
			if t.Format == FormatXM && param&0x0F == 0 {
				cell.VolCmd, cell.Vol = VolTonePorta, param>>4
				return
			}
			if t.Format == FormatIT {
				if v, vol, ok := effectToVolume(EffectTonePorta, param, false); ok {
					cell.VolCmd, cell.Vol = v, vol
					return
				}
			}
		}
		t.PlaceCell(cell, EffectTonePorta, param)
	case 0x0F:
		if t.Format != FormatMOD && cell.VolCmd == VolNone {
			cell.VolCmd, cell.Vol = VolVolume, min(param, 64)
			return
		}
		t.PlaceCell(cell, EffectVolume, param)
	case 0x22:
		if v, vol := convertXMVolume(param); v != VolNone && cell.VolCmd == VolNone {
			cell.VolCmd, cell.Vol = v, vol
		}
	default:
		e, p := convertMO3Effect(cmd, param, t.Format)
		if e != EffectNone {
			t.PlaceCell(cell, e, p)
		}
	}
}

func (d *decoder) readMO3Instrument(m *fieldreader.Cursor, version uint8, n int) bool {
	song := d.song
	name, _ := m.ReadNullString(m.Remaining())
	var filename []byte
	if version >= 5 {
		filename, _ = m.ReadNullString(m.Remaining())
	}
	var raw mo3Instrument
	if !m.ReadStruct(binary.LittleEndian, &raw) {
		return false
	}
	ins := raw.toInstrument(song.Format)
	ins.Name = cleanName(name)
	ins.Filename = cleanName(filename)
	song.Instruments = append(song.Instruments, ins)
	dumpf("Instrument %d: %s\n", n, ins.Name)
	return true
}

func (raw *mo3Instrument) toInstrument(origin Format) *Instrument {
	ins := NewInstrument()
	for i, entry := range raw.SampleMap {
		ins.NoteMap[i] = NoteMin + Note(min(entry[0], uint16(NoteMax-1)))
		ins.Keyboard[i] = entry[1] + 1
	}
	ins.VolEnv = raw.VolEnv.toEnvelope(0, origin)
	ins.PanEnv = raw.PanEnv.toEnvelope(0, origin)
	ins.PitchEnv = raw.PitchEnv.toEnvelope(5, origin)
	ins.Vibrato = raw.Vibrato
	ins.FadeOut = int(raw.FadeOut)
	if raw.Flags&mo3InstrPlayOnMIDI != 0 {
		ins.MidiChannel = raw.MidiChannel + 1
	}
	ins.MidiBank = uint16(raw.MidiBank)
	ins.MidiProgram = raw.MidiPatch
	ins.MidiPWD = int8(raw.MidiBend)
	ins.Muted = raw.Flags&mo3InstrMute != 0
	if origin == FormatIT {
		ins.GlobalVolume = int(min(raw.GlobalVol, 128)) / 2
	}
	if raw.Panning <= MaxPan {
		ins.Pan, ins.SetPan = int(raw.Panning), true
	}
	ins.NNA = NewNoteAction(min(raw.NNA, uint8(NNANoteFade)))
	ins.PitchPanSeparation = int8(raw.PPS)
	ins.PitchPanCenter = NoteMin + Note(min(raw.PPC, uint8(NoteMax-1)))
	ins.DCT, ins.DNA = raw.DCT, raw.DCA
	ins.RandomVolume = int(min(raw.VolSwing, 100))
	ins.RandomPan = int(min(raw.PanSwing, 256)) / 4
	ins.CutOff, ins.Resonance = raw.CutOff, raw.Resonance
	if origin == FormatXM {
		// FastTracker 2 plays a note-off on new notes
		ins.NNA = NNANoteOff
	}
	return ins
}

func (e *mo3Envelope) toEnvelope(shift uint, origin Format) Envelope {
	env := Envelope{
		LoopStart:    e.LoopStart,
		LoopEnd:      e.LoopEnd,
		SustainStart: e.SustainStart,
		SustainEnd:   e.SustainEnd,
		ReleaseNode:  EnvReleaseNone,
	}
	if origin == FormatXM {
		env.SustainEnd = e.SustainStart
	}
	for _, f := range []struct {
		bit  uint8
		flag EnvelopeFlags
	}{{mo3EnvEnabled, EnvEnabled}, {mo3EnvSustain, EnvSustain}, {mo3EnvLoop, EnvLoop}, {mo3EnvFilter, EnvFilter}, {mo3EnvCarry, EnvCarry}} {
		if e.Flags&f.bit != 0 {
			env.Flags |= f.flag
		}
	}
	n := min(int(e.NumNodes), MaxEnvelopeNodes)
	if n > 0 {
		env.Nodes = make([]EnvelopeNode, n)
	}
	for i := range env.Nodes {
		env.Nodes[i] = EnvelopeNode{
			Tick:  uint16(max(e.Points[i][0], 0)),
			Value: uint8(min(max(int(e.Points[i][1])>>shift, 0), 64)),
		}
	}
	env.fixTicks()
	return env
}

func (d *decoder) readMO3Sample(m *fieldreader.Cursor, version uint8, n int) (mo3SampleInfo, bool) {
	song := d.song
	name, _ := m.ReadNullString(m.Remaining())
	var filename []byte
	if version >= 5 {
		filename, _ = m.ReadNullString(m.Remaining())
	}
	var info mo3SampleInfo
	if !m.ReadStruct(binary.LittleEndian, &info.header) {
		return info, false
	}
	if version >= 5 && info.header.Flags&mo3CompressionMask == mo3CompressionShared {
		shared, _ := m.ReadI16LE()
		info.sharedHeader = int(shared)
	}
	smp := info.header.toSample(song.Format, version >= 5)
	smp.Name = cleanName(name)
	smp.Filename = cleanName(filename)
	song.Samples = append(song.Samples, smp)
	return info, true
}

func (s *mo3Sample) toSample(origin Format, frequencyIsHertz bool) Sample {
	smp := Sample{
		Length:       int(s.Length),
		LoopStart:    int(s.LoopStart),
		LoopEnd:      int(s.LoopEnd),
		SustainStart: int(s.SustainStart),
		SustainEnd:   int(s.SustainEnd),
		Volume:       int(min(s.DefaultVolume, 64)) * 4,
		GlobalVolume: 64,
		Vibrato:      AutoVibrato{Type: s.VibType, Sweep: s.VibSweep, Depth: s.VibDepth, Rate: s.VibRate},
	}
	switch origin {
	case FormatIT, FormatS3M:
		if frequencyIsHertz {
			smp.C5Speed = int(s.FreqFineTune)
		} else {
			smp.C5Speed = int(math.Round(8363 * math.Pow(2, float64(int32(s.FreqFineTune)+1408)/1536)))
		}
	case FormatMTM:
		smp.FineTune = int(int8(s.FreqFineTune))
		smp.RelativeTone = int(s.Transpose)
	default:
		smp.FineTune = int(s.FreqFineTune) - 128
		smp.RelativeTone = int(s.Transpose)
	}
	if origin == FormatIT {
		smp.GlobalVolume = int(min(s.GlobalVol, 64))
	}
	if s.Panning <= MaxPan {
		smp.Pan = int(s.Panning)
		smp.Flags |= SamplePanning
	}
	for _, f := range []struct {
		bit  uint16
		flag SampleFlags
	}{
		{mo3Sample16Bit, Sample16Bit},
		{mo3SampleStereo, SampleStereo},
		{mo3SampleLoop, SampleLoop},
		{mo3SamplePingPong, SamplePingPong},
		{mo3SampleSustain, SampleSustain},
		{mo3SampleSustainPingPg, SampleSustainPingPong},
	} {
		if s.Flags&f.bit != 0 {
			smp.Flags |= f.flag
		}
	}
	smp.sanitizeLoops()
	return smp
}

// applyMO3InstrumentVibrato copies the auto vibrato of XM instruments to
// their samples, where the other formats keep it.
func (d *decoder) applyMO3InstrumentVibrato() {
	if d.song.Format != FormatXM {
		return
	}
	for _, ins := range d.song.Instruments {
		for _, n := range ins.Keyboard {
			if smp := d.song.Sample(int(n)); smp != nil {
				smp.Vibrato = ins.Vibrato
			}
		}
	}
}

// skipMO3Plugins steps over mix plugin data, keeping only the channel
// plugin assignments.
func (d *decoder) skipMO3Plugins(m *fieldreader.Cursor) {
	flags, _ := m.ReadU8()
	if flags&1 != 0 {
		for i := range d.song.ChannelSettings {
			v, _ := m.ReadU32LE()
			d.song.ChannelSettings[i].Plugin = int(v)
		}
	}
	for {
		plug, ok := m.ReadU8()
		if !ok || plug == 0 {
			break
		}
		n, _ := m.ReadU32LE()
		m.Skip(min(int(n), m.Remaining()))
		d.warn(ErrNotSupported, "", "mix plugin %d skipped", plug)
	}
}

// readMO3Chunks reads the tagged chunks at the end of the music block.
func (d *decoder) readMO3Chunks(m *fieldreader.Cursor) {
	song := d.song
	for m.CanRead(8) {
		id, _ := m.ReadView(4)
		n, _ := m.ReadU32LE()
		c := m.ReadChunk(int(n))
		switch string(id) {
		case "VERS":
			if v, ok := c.ReadU16LE(); ok && (song.Format == FormatIT || song.Format == FormatS3M) {
				song.Tracker += fmt.Sprintf(", created with version %#04x", v)
			}
		case "PRHI":
			beat, _ := c.ReadU8()
			measure, _ := c.ReadU8()
			song.RowsPerBeat, song.RowsPerMeasure = int(beat), int(measure)
		case "MIDI":
			if macros, ok := readMidiMacros(c); ok {
				song.MidiMacros = macros
			} else {
				d.warn(ErrShortRead, "", "MIDI macro chunk truncated")
			}
		case "OMPT":
			d.readExtendedProperties(c)
		default:
			dumpf("skipping chunk %q\n", id)
		}
	}
}

// readMO3SampleData reads the sample payloads, which follow the music block
// in sample order. Ogg samples are decoded last so that shared headers can
// be resolved against any other sample.
func (d *decoder) readMO3SampleData(infos []mo3SampleInfo) {
	song := d.song
	var oggs []int
	for i := range infos {
		info := &infos[i]
		n := i + 1
		smp := &song.Samples[i]
		hdr := &info.header
		compression := int(hdr.Flags) & mo3CompressionMask

		switch {
		case compression == 0 && hdr.CompressedSize == 0:
			enc := sampleEncoding{bits: 8, channels: smp.Channels(), split: true}
			if smp.Is16Bit() {
				enc.bits = 16
			}
			if !d.wantSamples() {
				d.file.Skip(min(enc.size(smp.Length), d.file.Remaining()))
				continue
			}
			if !enc.read(smp, d.file) {
				d.warn(ErrShortRead, sampleItem(n), "sample data truncated")
			}

		case hdr.CompressedSize < 0:
			src := n + int(hdr.CompressedSize)
			if src < 1 {
				d.warn(ErrBadOffset, sampleItem(n), "copy of sample %d", src)
				continue
			}
			from := &song.Samples[src-1]
			smp.Length = from.Length
			smp.Flags = smp.Flags&^(Sample16Bit|SampleStereo) | from.Flags&(Sample16Bit|SampleStereo)
			smp.Data, smp.Data16 = slices.Clone(from.Data), slices.Clone(from.Data16)
			smp.sanitizeLoops()

		default:
			offset := d.file.Pos()
			info.payload = d.file.ReadChunk(int(hdr.CompressedSize)).Rest()
			if len(info.payload) < int(hdr.CompressedSize) {
				d.warn(ErrShortRead, sampleItem(n), "compressed data truncated")
			}
			smp.Payload = &Payload{Offset: offset, Size: len(info.payload), EncoderDelay: int(hdr.EncoderDelay)}
			switch compression {
			case mo3CompressionDelta, mo3CompressionPredict:
				d.readMO3DeltaSample(n, compression == mo3CompressionPredict, info.payload)
			case mo3CompressionMPEG:
				smp.Payload.Codec = CodecMP3
				d.decodeMO3External(n, d.opts.Codecs.MP3, info.payload, int(hdr.EncoderDelay))
			case mo3CompressionOgg, mo3CompressionShared:
				smp.Payload.Codec = CodecVorbis
				smp.Payload.EncoderDelay = 0
				oggs = append(oggs, i)
			case mo3CompressionOPL:
				smp.Payload.Codec = CodecOPL
				smp.OPL = info.payload
				d.warn(ErrNotSupported, sampleItem(n), "OPL instruments are not supported")
			default:
				d.warn(ErrUnsupportedCodec, sampleItem(n), "compression %#x", compression)
			}
		}
		if smp.HasData() {
			dumpf("Sample %d x%02X\n%s", n, n, smp)
		}
	}

	for _, i := range oggs {
		n := i + 1
		info := &infos[i]
		data := info.payload
		if info.header.Flags&mo3CompressionMask == mo3CompressionShared {
			hdr, err := sharedOggHeader(infos, i)
			if err != nil {
				d.warn(ErrBadOffset, sampleItem(n), "%v", err)
				continue
			}
			song.Samples[i].Payload.SharedHeader = info.sharedHeader
			data = append(slices.Clip(hdr), data...)
		}
		d.decodeMO3External(n, d.opts.Codecs.Vorbis, data, 0)
	}
}

// sharedOggHeader returns the Ogg headers sample i borrows. The referenced
// sample must exist, must not be i itself and must carry its own headers.
func sharedOggHeader(infos []mo3SampleInfo, i int) ([]byte, error) {
	info := &infos[i]
	ref := info.sharedHeader
	size := int(info.header.EncoderDelay)
	switch {
	case ref < 1 || ref > len(infos) || ref == i+1:
		return nil, errors.Errorf("shared Ogg header refers to sample %d", ref)
	case infos[ref-1].header.Flags&mo3CompressionMask != mo3CompressionOgg:
		return nil, errors.Errorf("shared Ogg header sample %d has no headers of its own", ref)
	case size > len(infos[ref-1].payload):
		return nil, errors.Errorf("shared Ogg header of %d bytes exceeds sample %d", size, ref)
	}
	return infos[ref-1].payload[:size], nil
}

func (d *decoder) readMO3DeltaSample(n int, prediction bool, src []byte) {
	smp := &d.song.Samples[n-1]
	kind := CodecDelta
	if prediction {
		kind = CodecDeltaPrediction
	}
	smp.Payload.Codec = kind

	// every value takes at least two bits
	channels := smp.Channels()
	smp.Length = min(smp.Length, MaxSampleLength, len(src)*4/channels)
	smp.sanitizeLoops()
	if !d.wantSamples() {
		return
	}
	var ok bool
	switch {
	case smp.Is16Bit() && prediction:
		smp.Data16, _, ok = deltapcm.DecodePrediction[int16](src, smp.Length, channels)
	case smp.Is16Bit():
		smp.Data16, _, ok = deltapcm.Decode[int16](src, smp.Length, channels)
	case prediction:
		smp.Data, _, ok = deltapcm.DecodePrediction[int8](src, smp.Length, channels)
	default:
		smp.Data, _, ok = deltapcm.Decode[int8](src, smp.Length, channels)
	}
	if !ok {
		d.warn(ErrCorruptStream, sampleItem(n), "%s stream ends early", kind)
	}
}

// decodeMO3External decodes an MPEG or Ogg payload with an external codec.
// Without a codec the payload is only located.
func (d *decoder) decodeMO3External(n int, dec codec.Decoder, src []byte, delay int) {
	smp := &d.song.Samples[n-1]
	if !d.wantSamples() {
		return
	}
	if dec == nil {
		d.warn(ErrUnsupportedCodec, sampleItem(n), "no %s decoder configured", smp.Payload.Codec)
		return
	}
	pcm, err := dec.Decode(src)
	if err != nil {
		d.warn(ErrCorruptStream, sampleItem(n), "%s: %v", smp.Payload.Codec, err)
		return
	}
	pcm = codec.Trim(pcm, delay)
	if smp.Flags&SampleStereo == 0 {
		pcm = codec.Mono(pcm)
	}
	smp.Data, smp.Data16 = nil, pcm.Data
	smp.Flags |= Sample16Bit
	if pcm.Channels == 2 {
		smp.Flags |= SampleStereo
	}
	smp.Length = pcm.Frames()
	if smp.C5Speed != 0 && pcm.SampleRate > 0 {
		smp.C5Speed = pcm.SampleRate
	}
	smp.sanitizeLoops()
}
