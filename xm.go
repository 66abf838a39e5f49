package modload

import (
	"encoding/binary"
	"strings"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

const (
	xmMagic           = "Extended Module: "
	xmFileHeaderSize  = 80
	xmMaxPatterns     = 256
	xmMaxOrders       = 256
	xmMaxInstruments  = 255
	xmMaxInstrSamples = 32
	xmNoteKeyOff      = 97

	xmFlagLinearSlides   = 0x0001
	xmFlagExtFilterRange = 0x1000

	xmSampleLoop     = 0x01
	xmSamplePingPong = 0x02
	xmSample16Bit    = 0x10
	xmSampleStereo   = 0x20
	xmSampleADPCM    = 0xAD // in the reserved byte

	xmEnvEnabled = 0x01
	xmEnvSustain = 0x02
	xmEnvLoop    = 0x04

	xmPackByte  = 0x80
	xmPackNote  = 0x01
	xmPackInstr = 0x02
	xmPackVol   = 0x04
	xmPackCmd   = 0x08
	xmPackParam = 0x10
)

type xmFileHeader struct {
	Signature   [17]byte
	Name        [20]byte
	EOF         uint8
	Tracker     [20]byte
	Version     uint16
	Size        uint32 // counted from this field
	Orders      uint16
	RestartPos  uint16
	Channels    uint16
	Patterns    uint16
	Instruments uint16
	Flags       uint16
	Speed       uint16
	Tempo       uint16
}

// validateXMHeader returns 0 if the header can be decoded.
func validateXMHeader(h *xmFileHeader) ErrorKind {
	switch {
	case string(h.Signature[:]) != xmMagic:
		return ErrBadMagic
	case h.Version < 0x0102 || h.Version > 0x0104:
		return ErrBadVersion
	case h.Channels == 0 || h.Channels > MaxChannels,
		h.Patterns > xmMaxPatterns,
		h.Instruments > xmMaxInstruments,
		h.Orders > xmMaxOrders:
		return ErrCountOutOfRange
	}
	return 0
}

// minimumAdditionalSize is the least number of bytes that must follow the
// fixed header: the order list and one 4-byte length per pattern and
// instrument.
func (h *xmFileHeader) minimumAdditionalSize() int64 {
	return int64(h.Orders) + 4*(int64(h.Patterns)+int64(h.Instruments))
}

// ProbeXM checks whether data starts an XM file.
func ProbeXM(data []byte, fileSize int64) ProbeResult {
	if r := probeMagic(data, 0, xmMagic); r != ProbeSuccess {
		return r
	}
	var h xmFileHeader
	if !fieldreader.New(data).ReadStruct(binary.LittleEndian, &h) {
		return ProbeWantMoreData
	}
	if validateXMHeader(&h) != 0 {
		return ProbeFailure
	}
	return probeAdditionalSize(len(data), xmFileHeaderSize+h.minimumAdditionalSize(), fileSize)
}

type xmInstrument struct {
	SampleHeaderSize uint32
	SampleMap        [96]uint8
	VolEnv           [24]uint16 // (tick, value) pairs
	PanEnv           [24]uint16
	VolPoints        uint8
	PanPoints        uint8
	VolSustain       uint8
	VolLoopStart     uint8
	VolLoopEnd       uint8
	PanSustain       uint8
	PanLoopStart     uint8
	PanLoopEnd       uint8
	VolFlags         uint8
	PanFlags         uint8
	VibType          uint8
	VibSweep         uint8
	VibDepth         uint8
	VibRate          uint8
	VolFade          uint16
	MidiEnabled      uint8
	MidiChannel      uint8
	MidiProgram      uint16
	PitchWheelRange  uint16
	MuteComputer     uint8
	_                [15]uint8
}

type xmInstrumentHeader struct {
	Size       uint32
	Name       [22]byte
	Type       uint8
	NumSamples uint16
	Instrument xmInstrument
}

const xmInstrumentHeaderSize = 263

type xmSample struct {
	Length     uint32 // in bytes
	LoopStart  uint32
	LoopLength uint32
	Volume     uint8
	FineTune   int8
	Flags      uint8
	Pan        uint8
	RelNote    int8
	Reserved   uint8
	Name       [22]byte
}

const xmSampleHeaderSize = 40

func (s *xmSample) encoding() sampleEncoding {
	if s.Reserved == xmSampleADPCM && s.Flags&(xmSample16Bit|xmSampleStereo) == 0 {
		return sampleEncoding{bits: 8, channels: 1, adpcm: true}
	}
	enc := sampleEncoding{bits: 8, channels: 1, delta: true, split: true}
	if s.Flags&xmSample16Bit != 0 {
		enc.bits = 16
	}
	if s.Flags&xmSampleStereo != 0 {
		enc.channels = 2
	}
	return enc
}

// frames converts a byte count of the header to sample frames.
func (s *xmSample) frames(n uint32) int {
	if s.Flags&xmSample16Bit != 0 {
		n /= 2
	}
	if s.Flags&xmSampleStereo != 0 {
		n /= 2
	}
	return int(n)
}

func (s *xmSample) toSample(vib AutoVibrato) Sample {
	smp := Sample{
		Name:         cleanName(s.Name[:]),
		Length:       s.frames(s.Length),
		LoopStart:    s.frames(s.LoopStart),
		LoopEnd:      s.frames(s.LoopStart + s.LoopLength),
		Volume:       int(min(s.Volume, 64)) * 4,
		GlobalVolume: 64,
		Pan:          int(s.Pan),
		FineTune:     int(s.FineTune),
		RelativeTone: int(s.RelNote),
		Flags:        SamplePanning,
		Vibrato:      vib,
	}
	if s.Flags&xmSample16Bit != 0 {
		smp.Flags |= Sample16Bit
	}
	if s.Flags&xmSampleStereo != 0 {
		smp.Flags |= SampleStereo
	}
	switch {
	case s.Flags&xmSamplePingPong != 0:
		smp.Flags |= SampleLoop | SamplePingPong
	case s.Flags&xmSampleLoop != 0:
		smp.Flags |= SampleLoop
	}
	smp.sanitizeLoops()
	return smp
}

// convertXMEnvelope builds an envelope from (tick, value) pairs. Some
// editors only saved the low byte of each tick; the high byte is restored
// from the previous node.
func convertXMEnvelope(data []uint16, points, sustain, loopStart, loopEnd, flags uint8) Envelope {
	env := Envelope{ReleaseNode: EnvReleaseNone}
	n := min(int(points), len(data)/2)
	env.Nodes = make([]EnvelopeNode, n)
	for i := range env.Nodes {
		tick := data[i*2]
		if i > 0 {
			prev := env.Nodes[i-1].Tick
			if tick < prev && tick&0xFF00 == 0 {
				tick |= prev & 0xFF00
				if tick < prev {
					tick += 0x100
				}
			}
		}
		env.Nodes[i] = EnvelopeNode{Tick: tick, Value: uint8(min(data[i*2+1], 64))}
	}
	env.fixTicks()
	env.SustainStart, env.SustainEnd = sustain, sustain
	env.LoopStart, env.LoopEnd = loopStart, loopEnd
	if flags&xmEnvEnabled != 0 && n > 0 {
		env.Flags |= EnvEnabled
	}
	if flags&xmEnvSustain != 0 && int(sustain) < n {
		env.Flags |= EnvSustain
	}
	if flags&xmEnvLoop != 0 && loopStart <= loopEnd && int(loopEnd) < n {
		env.Flags |= EnvLoop
	}
	return env
}

func (h *xmInstrumentHeader) toInstrument(slots []int) *Instrument {
	x := &h.Instrument
	ins := NewInstrument()
	ins.Name = cleanName(h.Name[:])
	ins.VolEnv = convertXMEnvelope(x.VolEnv[:], x.VolPoints, x.VolSustain, x.VolLoopStart, x.VolLoopEnd, x.VolFlags)
	ins.PanEnv = convertXMEnvelope(x.PanEnv[:], x.PanPoints, x.PanSustain, x.PanLoopStart, x.PanLoopEnd, x.PanFlags)
	ins.FadeOut = int(x.VolFade)
	ins.NNA = NNANoteOff
	if x.MidiEnabled != 0 {
		ins.MidiChannel = x.MidiChannel + 1
		ins.MidiProgram = uint8(x.MidiProgram) + 1
		ins.MidiPWD = int8(x.PitchWheelRange)
		ins.Muted = x.MuteComputer != 0
	}
	for i, smp := range x.SampleMap {
		if int(smp) < len(slots) && i+12 < len(ins.Keyboard) {
			ins.Keyboard[i+12] = uint16(slots[smp])
		}
	}
	return ins
}

// identifyXMTracker names the program that wrote the file.
func identifyXMTracker(h *xmFileHeader) string {
	name := cleanName(h.Tracker[:])
	switch {
	case strings.HasPrefix(name, "FastTracker v2.00") && h.Size == 276:
		if h.Version < 0x0104 {
			return "FastTracker 2 (beta)"
		}
		return "FastTracker 2"
	case strings.HasPrefix(name, "FastTracker v 2.00"):
		return "MadTracker or old ModPlug"
	case name == "":
		return "Unknown"
	}
	return name
}

// pendingSample is a sample whose data follows later in the file.
type pendingSample struct {
	slot   int // 0 if the sample could not be allocated
	header xmSample
}

func loadXM(data []byte, opts Options) (*Song, error) {
	d := newDecoder(FormatXM, data, opts)

	d.startStage("header")
	var h xmFileHeader
	if !d.file.ReadStruct(binary.LittleEndian, &h) {
		return nil, d.fail(ErrShortRead, "file header")
	}
	if kind := validateXMHeader(&h); kind != 0 {
		return nil, d.fail(kind, "version %#04x, %d channels, %d patterns, %d instruments",
			h.Version, h.Channels, h.Patterns, h.Instruments)
	}
	if probeAdditionalSize(len(data), xmFileHeaderSize+h.minimumAdditionalSize(), int64(len(data))) != ProbeSuccess {
		return nil, d.fail(ErrShortRead, "file too short for its header")
	}

	song := newSong(FormatXM, FormatXM, int(h.Channels))
	d.song = song
	song.Title = cleanName(h.Name[:])
	song.Tracker = identifyXMTracker(&h)
	song.Flags |= FlagInstrumentMode
	if h.Flags&xmFlagLinearSlides != 0 {
		song.Flags |= FlagLinearSlides
	}
	if h.Flags&xmFlagExtFilterRange != 0 {
		song.Flags |= FlagExtendedFilterRange
	}
	if h.Speed != 0 {
		song.Speed = int(min(h.Speed, 255))
	}
	if h.Tempo != 0 {
		song.Tempo = int(min(max(h.Tempo, 32), 512))
	}
	for i := range song.ChannelSettings {
		song.ChannelSettings[i].Pan = centerPan
	}

	dumpf("Title:\t\t%s\n", song.Title)
	dumpf("Tracker:\t%s (version %#04x)\n", song.Tracker, h.Version)
	dumpf("Channels:\t%d\n", song.Channels)
	dumpf("Speed:\t\t%d\n", song.Speed)
	dumpf("Tempo:\t\t%d\n", song.Tempo)
	dumpf("Patterns:\t%d\n", h.Patterns)
	dumpf("Instruments:\t%d\n", h.Instruments)

	if opts.Flags == OnlyVerifyHeader {
		return song, nil
	}

	d.startStage("orders")
	seq := Sequence{Speed: song.Speed, Tempo: song.Tempo}
	orderData, ok := d.file.ReadView(int(h.Orders))
	if !ok {
		return nil, d.fail(ErrShortRead, "%d orders", h.Orders)
	}
	numPatterns := int(h.Patterns)
	for _, o := range orderData {
		seq.Orders = append(seq.Orders, Order(o))
		numPatterns = max(numPatterns, int(o)+1)
	}
	if int(h.RestartPos) < len(seq.Orders) {
		seq.Restart = int(h.RestartPos)
	}
	song.Sequences = []Sequence{seq}
	dumpf("Orders:\t\t%d %v\n\n", len(seq.Orders), seq.Orders)

	if !d.file.Seek(60 + int(h.Size)) {
		return nil, d.fail(ErrBadOffset, "header size %d points past the end of the file", h.Size)
	}

	// Orders may reference patterns the file does not store. Those play
	// as empty 64 row patterns.
	song.Patterns = make([]Pattern, numPatterns)
	for i := range song.Patterns {
		song.Patterns[i] = Pattern{Rows: 64, Channels: song.Channels}
	}

	if h.Version >= 0x0104 {
		if err := d.readXMPatterns(&h); err != nil {
			return nil, err
		}
	}

	d.startStage("instruments")
	alloc := newSampleAllocator(song)
	alloc.deferred = h.Version < 0x0104
	var pending []pendingSample
	for i := 0; i < int(h.Instruments); i++ {
		samples, ok := d.readXMInstrument(alloc, i+1)
		if !ok {
			d.warn(ErrShortRead, "", "file ends after %d of %d instruments", i, h.Instruments)
			break
		}
		if h.Version >= 0x0104 {
			d.readXMSampleData(samples)
		} else {
			pending = append(pending, samples...)
		}
	}

	if h.Version < 0x0104 {
		if err := d.readXMPatterns(&h); err != nil {
			return nil, err
		}
		d.readXMSampleData(pending)
	}
	for i := range song.Patterns {
		if d.wantPatterns() && !song.Patterns[i].Loaded() {
			song.Patterns[i] = NewPattern(song.Patterns[i].Rows, song.Channels)
		}
	}

	d.startStage("extensions")
	d.readXMExtensions()
	return song, nil
}

func (d *decoder) readXMPatterns(h *xmFileHeader) error {
	d.startStage("patterns")
	song := d.song
	for pat := 0; pat < int(h.Patterns); pat++ {
		start := d.file.Pos()
		headerSize, ok := d.file.ReadU32LE()
		if !ok {
			d.warn(ErrShortRead, "", "file ends after %d of %d patterns", pat, h.Patterns)
			return nil
		}
		d.file.Skip(1) // packing type, always 0
		var rows int
		if h.Version == 0x0102 {
			r, _ := d.file.ReadU8()
			rows = int(r) + 1
		} else {
			r, _ := d.file.ReadU16LE()
			rows = int(r)
		}
		packedSize, _ := d.file.ReadU16LE()
		if rows == 0 {
			rows = 64
		}
		rows = min(rows, MaxPatternRows)
		if !d.file.Seek(start + int(headerSize)) {
			return d.fail(ErrBadOffset, "pattern %d header size %d", pat, headerSize)
		}
		chunk := d.file.ReadChunk(int(packedSize))

		song.Patterns[pat].Rows = rows
		if !d.wantPatterns() {
			continue
		}
		p := NewPattern(rows, song.Channels)
		if packedSize > 0 {
			if h.Version == 0x0102 && int(packedSize) == rows*song.Channels*3 {
				readXMLegacyCells(&p, chunk)
			} else {
				readXMCells(&p, chunk)
			}
		}
		song.Patterns[pat] = p
		dumpPattern(pat, &p)
	}
	return nil
}

// readXMCells decodes packed cells. A byte with the high bit set says which
// fields follow; any other byte is a note followed by all four other fields.
func readXMCells(p *Pattern, c *fieldreader.Cursor) {
	for i := range p.Cells {
		info, ok := c.ReadU8()
		if !ok {
			return
		}
		var note, instr, vol, cmd, param uint8
		if info&xmPackByte != 0 {
			if info&xmPackNote != 0 {
				note, _ = c.ReadU8()
			}
			if info&xmPackInstr != 0 {
				instr, _ = c.ReadU8()
			}
			if info&xmPackVol != 0 {
				vol, _ = c.ReadU8()
			}
			if info&xmPackCmd != 0 {
				cmd, _ = c.ReadU8()
			}
			if info&xmPackParam != 0 {
				param, _ = c.ReadU8()
			}
		} else {
			note = info
			instr, _ = c.ReadU8()
			vol, _ = c.ReadU8()
			cmd, _ = c.ReadU8()
			param, _ = c.ReadU8()
		}
		p.Cells[i] = xmCell(note, instr, vol, cmd, param)
	}
}

// readXMLegacyCells decodes the unpacked three byte cells of early files:
// note, instrument and volume column.
func readXMLegacyCells(p *Pattern, c *fieldreader.Cursor) {
	for i := range p.Cells {
		b, ok := c.ReadView(3)
		if !ok {
			return
		}
		p.Cells[i] = xmCell(b[0], b[1], b[2], 0, 0)
	}
}

func xmCell(note, instr, vol, cmd, param uint8) Cell {
	var cell Cell
	switch {
	case note == xmNoteKeyOff:
		cell.Note = NoteKeyOff
	case note > 0 && note < xmNoteKeyOff:
		cell.Note = Note(note) + 12
	}
	if instr != 0xFF {
		cell.Instrument = instr
	}
	if cmd|param != 0 {
		cell.Command, cell.Param = convertMODEffect(cmd, param, true)
	}
	cell.VolCmd, cell.Vol = convertXMVolume(vol)
	return cell
}

// readXMInstrument reads one instrument and its sample headers. It returns
// the samples whose data follows.
func (d *decoder) readXMInstrument(alloc *sampleAllocator, n int) ([]pendingSample, bool) {
	start := d.file.Pos()
	size, ok := d.file.ReadU32LE()
	if !ok {
		return nil, false
	}
	if size == 0 {
		size = xmInstrumentHeaderSize
	}
	d.file.SkipBack(4)
	var ih xmInstrumentHeader
	if !d.file.ReadStructPartial(binary.LittleEndian, &ih, int(size)) {
		return nil, false
	}
	if !d.file.Seek(start + int(size)) {
		return nil, false
	}

	numSamples := int(ih.NumSamples)
	if numSamples > xmMaxInstrSamples {
		d.warn(ErrCountOutOfRange, instrumentItem(n), "%d samples, only %d kept", numSamples, xmMaxInstrSamples)
	}
	slots := alloc.allocate(min(numSamples, xmMaxInstrSamples))
	if len(slots) < min(numSamples, xmMaxInstrSamples) {
		d.warn(ErrCountOutOfRange, instrumentItem(n), "out of sample slots, %d of %d samples dropped",
			numSamples-len(slots), numSamples)
	}

	ins := ih.toInstrument(slots)
	d.song.Instruments = append(d.song.Instruments, ins)
	dumpf("Instrument %d: %s, %d samples\n", n, ins.Name, numSamples)

	headerSize := int(ih.Instrument.SampleHeaderSize)
	if headerSize == 0 || headerSize > xmSampleHeaderSize*8 {
		headerSize = xmSampleHeaderSize
	}
	vib := AutoVibrato{
		Type:  ih.Instrument.VibType,
		Sweep: ih.Instrument.VibSweep,
		Depth: ih.Instrument.VibDepth,
		Rate:  ih.Instrument.VibRate,
	}
	samples := make([]pendingSample, numSamples)
	for i := range samples {
		chunk := d.file.ReadChunk(headerSize)
		chunk.ReadStructPartial(binary.LittleEndian, &samples[i].header, headerSize)
		if i >= len(slots) {
			continue
		}
		samples[i].slot = slots[i]
		d.song.Samples[slots[i]-1] = samples[i].header.toSample(vib)
	}
	return samples, true
}

func (d *decoder) readXMSampleData(samples []pendingSample) {
	for _, ps := range samples {
		enc := ps.header.encoding()
		if ps.slot == 0 || !d.wantSamples() {
			length := ps.header.frames(ps.header.Length)
			d.file.Skip(min(enc.size(length), d.file.Remaining()))
			continue
		}
		smp := &d.song.Samples[ps.slot-1]
		offset, declared := d.file.Pos(), smp.Length
		if !enc.read(smp, d.file) {
			d.warn(ErrShortRead, sampleItem(ps.slot), "%d frames declared, %d stored", declared, smp.Length)
		}
		if enc.adpcm {
			smp.Payload = &Payload{Codec: CodecADPCM, Offset: offset, Size: enc.size(smp.Length)}
		}
		dumpf("Sample %d x%02X\n%s", ps.slot, ps.slot, smp)
	}
}

// readXMExtensions reads the optional chunks following the sample data.
func (d *decoder) readXMExtensions() {
	song, f := d.song, d.file
	if f.ReadMagic("text") {
		n, _ := f.ReadU32LE()
		song.Message = messageText(f.ReadChunk(int(n)).Rest(), cp437)
	}
	if f.ReadMagic("MIDI") {
		n, _ := f.ReadU32LE()
		if m, ok := readMidiMacros(f.ReadChunk(int(n))); ok {
			song.MidiMacros = m
		} else {
			d.warn(ErrShortRead, "", "MIDI macro chunk truncated")
		}
	}
	if f.ReadMagic("PNAM") {
		n, _ := f.ReadU32LE()
		names := f.ReadChunk(int(n))
		for i := range song.Patterns {
			name, ok := names.ReadView(32)
			if !ok {
				break
			}
			song.Patterns[i].Name = cleanName(name)
		}
	}
	if f.ReadMagic("CNAM") {
		n, _ := f.ReadU32LE()
		names := f.ReadChunk(int(n))
		for i := range song.ChannelSettings {
			name, ok := names.ReadView(20)
			if !ok {
				break
			}
			song.ChannelSettings[i].Name = cleanName(name)
		}
	}
	d.skipMixPlugins()
	d.readExtendedProperties(f)
}

// skipMixPlugins steps over plugin chunks ("FXnn", "CHFX" and friends),
// which are not decoded.
func (d *decoder) skipMixPlugins() {
	for {
		id, ok := d.file.Peek(4)
		if !ok || !d.file.CanRead(8) {
			return
		}
		if string(id[:2]) != "FX" && string(id) != "CHFX" && string(id) != "XFHC" {
			return
		}
		d.file.Skip(4)
		n, _ := d.file.ReadU32LE()
		d.file.Skip(min(int(n), d.file.Remaining()))
		d.song.Flags |= FlagMixPlugin
	}
}
