package modload

import (
	"encoding/binary"
	"math"
	"slices"
	"sort"

	clone "github.com/huandu/go-clone/generic"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

// MED and OctaMED modules (MMD0..MMD3). All fields are big endian and all
// offsets are absolute file positions.

const (
	medFileHeaderSize = 52
	medSongSize       = 788
	medMaxSamples     = 63
	medMaxPlaySeqLen  = 256

	// song flags
	medFlagFilter      = 0x01
	medFlagVolHex      = 0x10
	medFlagSTSlide     = 0x20 // slides on the first tick too
	medFlag8Channel    = 0x40
	medFlags2BeatMask  = 0x1F
	medFlags2BPM       = 0x20
	medInstrLoop       = 0x01
	medInstrDisabled   = 0x04
	medInstrPingPong   = 0x08
	medSampleSynth     = -1
	medSampleHybrid    = -2
	medSample16Bit     = 0x10
	medSampleStereo    = 0x20
	medSampleTypeMask  = 0x0F
	medPlaySeqStop     = 1
	medPlaySeqPosJump  = 2
	medPlaySeqCmdLimit = 0x8000
)

type medFileHeader struct {
	MMD             [3]byte
	Version         uint8 // '0'..'3'
	ModLength       uint32
	SongOffset      uint32
	PlayerSettings1 [2]uint16
	BlockArrOffset  uint32
	Flags           uint8
	_               [3]uint8
	SampleArrOffset uint32
	_               uint32
	ExpDataOffset   uint32
	_               uint32
	PlayerSettings2 [11]uint8
	ExtraSongs      uint8
}

type medSampleHeader struct {
	LoopStart   uint16 // in words
	LoopLength  uint16
	MidiChannel uint8
	MidiPreset  uint8
	Volume      uint8
	Transpose   int8
}

type medSong struct {
	Samples       [medMaxSamples]medSampleHeader
	NumBlocks     uint16
	SongLength    uint16
	PlaySeq       [medMaxPlaySeqLen]uint8 // medSong2 in MMD2 and later
	DefaultTempo  uint16
	PlayTranspose int8
	Flags         uint8
	Flags2        uint8
	Tempo2        uint8 // ticks per line
	TrackVol      [16]uint8
	MasterVol     uint8
	NumSamples    uint8
}

// medSong2 replaces the play sequence of medSong in MMD2 and later.
type medSong2 struct {
	PlaySeqTableOffset uint32
	SectionTableOffset uint32
	TrackVolsOffset    uint32
	NumTracks          uint16
	NumPlaySeqs        uint16
	TrackPanOffset     uint32
	Flags3             uint32
	VolAdjust          uint16
	MixChannels        uint16
	MixEchoType        uint8
	MixEchoDepth       uint8
	MixEchoLength      uint16
	MixStereoSep       int8
	_                  [223]uint8
}

type medExp struct {
	NextModOffset       uint32
	InstrExtOffset      uint32
	InstrExtEntries     uint16
	InstrExtEntrySize   uint16
	AnnoText            uint32
	AnnoLength          uint32
	InstrInfoOffset     uint32
	InstrInfoEntries    uint16
	InstrInfoEntrySize  uint16
	JumpMask            uint32
	RGBTable            uint32
	ChannelSplit        [4]uint8
	NotationInfoOffset  uint32
	SongNameOffset      uint32
	SongNameLength      uint32
	MidiDumpOffset      uint32
	MMDInfoOffset       uint32
	ARexxOffset         uint32
	MidiCommand3xOffset uint32
	_                   [3]uint32
}

var medExpSize = binary.Size(medExp{})

type medInstrExt struct {
	Hold             uint8
	Decay            uint8
	SuppressMidiOff  uint8
	FineTune         int8
	DefaultPitch     uint8
	InstrFlags       uint8
	LongMidiPreset   uint16
	OutputDevice     uint8
	_                uint8
	LongRepeat       uint32 // in bytes
	LongRepeatLength uint32
}

type medBlockInfo struct {
	HighlightMask     uint32
	NameOffset        uint32
	NameLength        uint32
	PageTableOffset   uint32
	CmdExtTableOffset uint32
	_                 [4]uint32
}

type medPlaySeq struct {
	Name               [32]byte
	CommandTableOffset uint32
	_                  uint32
	Length             uint16
}

// validateMEDHeader checks the header of the first module in a file.
// Following modules may carry an "MCN" magic instead.
func validateMEDHeader(h *medFileHeader, continuation bool) ErrorKind {
	magic := string(h.MMD[:])
	switch {
	case magic != "MMD" && !(continuation && magic == "MCN"):
		return ErrBadMagic
	case h.Version < '0' || h.Version > '3':
		return ErrBadVersion
	case h.SongOffset < medFileHeaderSize || h.SongOffset > math.MaxUint32-medSongSize,
		h.BlockArrOffset < medFileHeaderSize,
		h.SampleArrOffset > 0 && h.SampleArrOffset < medFileHeaderSize,
		h.ExpDataOffset > math.MaxUint32-uint32(medExpSize):
		return ErrBadOffset
	}
	return 0
}

// minimumAdditionalSize is the number of bytes the header offsets require
// beyond the header itself.
func (h *medFileHeader) minimumAdditionalSize() int64 {
	need := max(int64(h.SongOffset)+medSongSize, int64(h.BlockArrOffset))
	if h.SampleArrOffset > 0 {
		need = max(need, int64(h.SampleArrOffset))
	} else {
		need = max(need, medFileHeaderSize)
	}
	if h.ExpDataOffset > 0 {
		need = max(need, int64(h.ExpDataOffset)+int64(medExpSize))
	}
	return need - medFileHeaderSize
}

// ProbeMED checks whether data starts a MED module.
func ProbeMED(data []byte, fileSize int64) ProbeResult {
	if r := probeMagic(data, 0, "MMD"); r != ProbeSuccess {
		return r
	}
	var h medFileHeader
	if !fieldreader.New(data).ReadStruct(binary.BigEndian, &h) {
		return ProbeWantMoreData
	}
	if validateMEDHeader(&h, false) != 0 {
		return ProbeFailure
	}
	return probeAdditionalSize(len(data), medFileHeaderSize+h.minimumAdditionalSize(), fileSize)
}

// medModule is one module of a MED file. Extra modules share the
// instruments of the first.
type medModule struct {
	offset int
	header medFileHeader
	song   medSong
	song2  *medSong2 // MMD2 and later
	exp    medExp
}

func (m *medModule) version() int { return int(m.header.Version - '0') }

// rowsPerBeat is only meaningful in BPM mode.
func (m *medModule) rowsPerBeat() int {
	return int(m.song.Flags2&medFlags2BeatMask) + 1
}

var med8ChannelTempos = [10]int{179, 164, 152, 141, 131, 123, 116, 110, 104, 99}

// tempo converts a MED tempo value to beats per minute.
func (m *medModule) tempo(t int) int {
	switch {
	case m.song.Flags&medFlag8Channel != 0 && t > 0 && t <= len(med8ChannelTempos):
		return med8ChannelTempos[t-1]
	case m.song.Flags2&medFlags2BPM != 0:
		return t * m.rowsPerBeat() / 4
	}
	return t * 125 / 33
}

// speed returns the ticks per row the module starts with.
func (m *medModule) speed() int {
	if m.song.Tempo2 != 0 {
		return int(m.song.Tempo2)
	}
	return defaultSpeed
}

// newSequence starts an order list with the module's own speed and tempo.
// Each module of a multi-song file keeps its own settings.
func (m *medModule) newSequence() Sequence {
	return Sequence{Speed: m.speed(), Tempo: max(m.tempo(int(m.song.DefaultTempo)), 1)}
}

func loadMED(data []byte, opts Options) (*Song, error) {
	d := newDecoder(FormatMED, data, opts)
	d.song = newSong(FormatMED, FormatMED, 4)

	d.startStage("header")
	first, err := d.readMEDModule(0, false)
	if err != nil {
		return nil, err
	}
	if probeAdditionalSize(len(data), medFileHeaderSize+first.header.minimumAdditionalSize(), int64(len(data))) != ProbeSuccess {
		return nil, d.fail(ErrShortRead, "file too short for the offsets in its header")
	}

	// Further songs follow the chain of NextModOffset. Each must start after
	// the previous one.
	modules := []*medModule{first}
	for prev := first; prev.exp.NextModOffset != 0; {
		off := int(prev.exp.NextModOffset)
		if off <= prev.offset {
			d.warn(ErrBadOffset, "", "song %d: offset 0x%X does not advance", len(modules)+1, off)
			break
		}
		m, err := d.readMEDModule(off, true)
		if err != nil {
			d.warn(ErrBadOffset, "", "song %d: %v", len(modules)+1, err)
			break
		}
		modules = append(modules, m)
		prev = m
	}

	channels := 1
	for _, m := range modules {
		channels = max(channels, d.medChannels(m))
	}
	warnings := d.song.Warnings
	song := newSong(FormatMED, FormatMED, min(channels, MaxChannels))
	song.Warnings = warnings
	d.song = song
	song.Tracker = "OctaMED"
	if first.version() == 0 {
		song.Tracker = "MED"
	}
	dumpf("Songs:\t\t%d\n", len(modules))
	d.applyMEDSongSettings(first)
	d.readMEDNames(first)

	if opts.Flags == OnlyVerifyHeader {
		return song, nil
	}

	d.startStage("instruments")
	d.readMEDInstruments(first)

	for i, m := range modules {
		d.startStage("blocks")
		base := len(song.Patterns)
		if err := d.readMEDBlocks(m); err != nil {
			if i == 0 {
				return nil, err
			}
			d.warn(ErrShortRead, "", "song %d: %v", i+1, err)
			continue
		}
		d.startStage("sequences")
		d.readMEDSequences(m, base)
	}
	return song, nil
}

func (d *decoder) readMEDModule(offset int, continuation bool) (*medModule, error) {
	m := &medModule{offset: offset}
	c, ok := d.file.ChunkAt(offset, medFileHeaderSize)
	if !ok || !c.ReadStruct(binary.BigEndian, &m.header) {
		return nil, d.fail(ErrShortRead, "module header at 0x%X", offset)
	}
	if kind := validateMEDHeader(&m.header, continuation); kind != 0 {
		return nil, d.fail(kind, "module header at 0x%X", offset)
	}
	c, ok = d.file.ChunkAt(int(m.header.SongOffset), medSongSize)
	if !ok || !c.ReadStruct(binary.BigEndian, &m.song) {
		return nil, d.fail(ErrShortRead, "song structure at 0x%X", m.header.SongOffset)
	}
	if m.version() >= 2 {
		m.song2 = &medSong2{}
		fieldreader.New(m.song.PlaySeq[:]).ReadStruct(binary.BigEndian, m.song2)
	}
	if m.header.ExpDataOffset != 0 {
		if c, ok := d.tail(int(m.header.ExpDataOffset)); ok {
			c.ReadStructPartial(binary.BigEndian, &m.exp, medExpSize)
		}
	}
	dumpf("MMD%c song at 0x%X: %d blocks, %d samples\n", m.header.Version, offset, m.song.NumBlocks, m.song.NumSamples)
	return m, nil
}

// medChannels returns the largest track count of a module's blocks.
func (d *decoder) medChannels(m *medModule) int {
	channels := 0
	if m.song2 != nil {
		channels = int(m.song2.NumTracks)
	}
	offsets, ok := d.file.ChunkAt(int(m.header.BlockArrOffset), int(m.song.NumBlocks)*4)
	if !ok {
		return max(channels, 4)
	}
	for range m.song.NumBlocks {
		off, _ := offsets.ReadU32BE()
		c, ok := d.file.ChunkAt(int(off), 2)
		if off == 0 || !ok {
			continue
		}
		if m.version() == 0 {
			t, _ := c.ReadU8()
			channels = max(channels, int(t))
		} else {
			t, _ := c.ReadU16BE()
			channels = max(channels, int(t))
		}
	}
	return channels
}

func (d *decoder) applyMEDSongSettings(m *medModule) {
	song, s := d.song, &m.song
	first := m.newSequence()
	song.Speed, song.Tempo = first.Speed, first.Tempo
	if s.Flags2&medFlags2BPM != 0 {
		song.Flags |= FlagBPMMode
		song.RowsPerBeat = m.rowsPerBeat()
		song.RowsPerMeasure = song.RowsPerBeat * 4
	}
	if s.Flags&medFlagFilter != 0 {
		song.Flags |= FlagFilterOn
	}
	if s.Flags&medFlagSTSlide != 0 {
		song.Flags |= FlagFastVolumeSlides
	}
	song.Flags |= FlagInstrumentMode | FlagAmigaLimits
	if s.MasterVol != 0 {
		song.GlobalVolume = int(min(s.MasterVol, 64)) * 4
	}

	for ch := range song.ChannelSettings {
		cs := &song.ChannelSettings[ch]
		if ch < len(s.TrackVol) && s.TrackVol[ch] != 0 {
			cs.Volume = int(min(s.TrackVol[ch], 64))
		}
		// Amiga hardware panning: LRRL
		if ch&3 == 1 || ch&3 == 2 {
			cs.Pan = 192
		} else {
			cs.Pan = 64
		}
	}
	if s2 := m.song2; s2 != nil {
		tracks := min(int(s2.NumTracks), len(song.ChannelSettings))
		if c, ok := d.file.ChunkAt(int(s2.TrackVolsOffset), tracks); ok && s2.TrackVolsOffset != 0 {
			for ch := range tracks {
				v, _ := c.ReadU8()
				song.ChannelSettings[ch].Volume = int(min(v, 64))
			}
		}
		if c, ok := d.file.ChunkAt(int(s2.TrackPanOffset), tracks); ok && s2.TrackPanOffset != 0 {
			for ch := range tracks {
				v, _ := c.ReadI8()
				song.ChannelSettings[ch].Pan = min(max((int(v)+16)*8, 0), MaxPan)
			}
		}
		if s2.VolAdjust != 0 {
			song.SampleVolume = int(s2.VolAdjust)
		}
	}

	dumpf("Speed:\t\t%d\n", song.Speed)
	dumpf("Tempo:\t\t%d\n", song.Tempo)
	dumpf("Channels:\t%d\n", song.Channels)
}

// readMEDNames reads the song name and annotation of the first module.
func (d *decoder) readMEDNames(m *medModule) {
	if m.exp.SongNameOffset != 0 && m.exp.SongNameLength != 0 {
		if c, ok := d.file.ChunkAt(int(m.exp.SongNameOffset), int(m.exp.SongNameLength)); ok {
			d.song.Title = cleanAmigaName(c.Rest())
		}
	}
	if m.exp.AnnoText != 0 && m.exp.AnnoLength != 0 {
		if c, ok := d.file.ChunkAt(int(m.exp.AnnoText), int(m.exp.AnnoLength)); ok {
			d.song.Message = messageText(c.Rest(), amiga)
		}
	}
	dumpf("Title:\t\t%s\n", d.song.Title)
}

// readMEDInstruments creates one instrument per sample with every note
// mapped to that sample.
func (d *decoder) readMEDInstruments(m *medModule) {
	song := d.song
	numSamples := min(int(m.song.NumSamples), medMaxSamples)
	song.Instruments = make([]*Instrument, numSamples)
	song.Samples = make([]Sample, numSamples)

	var offsets *fieldreader.Cursor
	if m.header.SampleArrOffset != 0 {
		offsets, _ = d.file.ChunkAt(int(m.header.SampleArrOffset), numSamples*4)
	}
	for i := range numSamples {
		ins := NewInstrument()
		for k := range ins.Keyboard {
			ins.Keyboard[k] = uint16(i + 1)
		}
		song.Instruments[i] = ins
		hdr := &m.song.Samples[i]
		smp := &song.Samples[i]
		smp.Volume = int(min(hdr.Volume, 64)) * 4
		smp.GlobalVolume = 64
		smp.RelativeTone = int(hdr.Transpose)
		smp.C5Speed = 8363
		ins.MidiChannel = hdr.MidiChannel
		ins.MidiProgram = hdr.MidiPreset

		if offsets != nil {
			if off, ok := offsets.ReadU32BE(); ok && off != 0 {
				d.readMEDSample(int(off), i+1, hdr)
			}
		}
		d.readMEDInstrumentExtras(m, i, ins)
		smp.sanitizeLoops()
	}
}

// readMEDInstrumentExtras applies the optional InstrExt and InstrInfo
// records. Their entry sizes grew across versions, so each field is only
// used if the stored entry covers it.
func (d *decoder) readMEDInstrumentExtras(m *medModule, i int, ins *Instrument) {
	exp := &m.exp
	smp := &d.song.Samples[i]
	if size := int(exp.InstrExtEntrySize); exp.InstrExtOffset != 0 && i < int(exp.InstrExtEntries) {
		if c, ok := d.file.ChunkAt(int(exp.InstrExtOffset)+i*size, size); ok {
			var ext medInstrExt
			c.ReadStructPartial(binary.BigEndian, &ext, size)
			ins.Hold, ins.Decay = ext.Hold, ext.Decay
			smp.FineTune = int(ext.FineTune) * 16
			if size > 5 {
				if ext.InstrFlags&medInstrLoop != 0 {
					smp.Flags |= SampleLoop
				} else {
					smp.Flags &^= SampleLoop
				}
				if ext.InstrFlags&medInstrPingPong != 0 {
					smp.Flags |= SamplePingPong
				}
				ins.Muted = ext.InstrFlags&medInstrDisabled != 0
			}
			if size > 7 && ext.LongMidiPreset != 0 {
				ins.MidiProgram = uint8(ext.LongMidiPreset)
				ins.MidiBank = ext.LongMidiPreset >> 8
			}
			if size >= 18 && ext.LongRepeatLength > 0 {
				bytesPerFrame := 1
				if smp.Is16Bit() {
					bytesPerFrame = 2
				}
				smp.LoopStart = int(ext.LongRepeat) / bytesPerFrame
				smp.LoopEnd = smp.LoopStart + int(ext.LongRepeatLength)/bytesPerFrame
			}
		}
	}
	if size := int(exp.InstrInfoEntrySize); exp.InstrInfoOffset != 0 && i < int(exp.InstrInfoEntries) {
		if c, ok := d.file.ChunkAt(int(exp.InstrInfoOffset)+i*size, min(size, 40)); ok {
			ins.Name = cleanAmigaName(c.Rest())
			smp.Name = ins.Name
		}
	}
}

// readMEDSample reads the header and data of one sample.
func (d *decoder) readMEDSample(offset, n int, hdr *medSampleHeader) {
	c, ok := d.file.ChunkAt(offset, 6)
	if !ok {
		d.warn(ErrBadOffset, sampleItem(n), "header at 0x%X outside the file", offset)
		return
	}
	length, _ := c.ReadU32BE()
	typ, _ := c.ReadI16BE()
	switch {
	case typ == medSampleSynth || typ == medSampleHybrid:
		d.warn(ErrNotSupported, sampleItem(n), "synth instruments are not supported")
		return
	case typ < 0 || typ&medSampleTypeMask != 0:
		d.warn(ErrNotSupported, sampleItem(n), "instrument type %d is not supported", typ)
		return
	}

	smp := &d.song.Samples[n-1]
	enc := sampleEncoding{bits: 8, channels: 1, bigEndian: true, split: true}
	if typ&medSample16Bit != 0 {
		enc.bits = 16
		smp.Flags |= Sample16Bit
	}
	if typ&medSampleStereo != 0 {
		enc.channels = 2
		smp.Flags |= SampleStereo
	}
	smp.Length = int(length) / enc.bytesPerFrame()

	if hdr.LoopLength > 1 {
		bytesPerSample := enc.bits / 8
		smp.LoopStart = int(hdr.LoopStart) * 2 / bytesPerSample
		smp.LoopEnd = smp.LoopStart + int(hdr.LoopLength)*2/bytesPerSample
		smp.Flags |= SampleLoop
	}

	if !d.wantSamples() {
		return
	}
	data, ok := d.tail(offset + 6)
	if !ok || !enc.read(smp, data) {
		d.warn(ErrShortRead, sampleItem(n), "sample data truncated")
	}
	dumpf("Sample %d x%02X\n%s", n, n, smp)
}

func (d *decoder) readMEDBlocks(m *medModule) error {
	song := d.song
	numBlocks := int(m.song.NumBlocks)
	if len(song.Patterns)+numBlocks > MaxPatterns {
		return d.fail(ErrCountOutOfRange, "%d blocks", numBlocks)
	}
	offsets, ok := d.file.ChunkAt(int(m.header.BlockArrOffset), numBlocks*4)
	if !ok {
		return d.fail(ErrShortRead, "block table of %d entries", numBlocks)
	}
	t := Translator{Format: FormatMED}
	for b := 0; b < numBlocks; b++ {
		off, _ := offsets.ReadU32BE()
		p, ok := d.readMEDBlock(m, int(off), t)
		if !ok {
			d.warn(ErrShortRead, patternItem(len(song.Patterns)), "block %d at 0x%X is missing", b, off)
			p = Pattern{Rows: 64, Channels: song.Channels}
			if d.wantPatterns() {
				p = NewPattern(64, song.Channels)
			}
		}
		song.Patterns = append(song.Patterns, p)
		if p.Loaded() {
			dumpPattern(len(song.Patterns)-1, &p)
		}
	}
	return nil
}

func (d *decoder) readMEDBlock(m *medModule, off int, t Translator) (Pattern, bool) {
	song := d.song
	c, ok := d.tail(off)
	if off == 0 || !ok {
		return Pattern{}, false
	}

	var tracks, rows, blockInfo int
	cellSize := 4
	if m.version() == 0 {
		tr, _ := c.ReadU8()
		lines, ok := c.ReadU8()
		if !ok {
			return Pattern{}, false
		}
		tracks, rows, cellSize = int(tr), int(lines)+1, 3
	} else {
		tr, _ := c.ReadU16BE()
		lines, _ := c.ReadU16BE()
		bi, ok := c.ReadU32BE()
		if !ok {
			return Pattern{}, false
		}
		tracks, rows, blockInfo = int(tr), int(lines)+1, int(bi)
	}
	rows = min(rows, MaxPatternRows)

	var info medBlockInfo
	if blockInfo != 0 {
		if ic, ok := d.file.ChunkAt(blockInfo, binary.Size(info)); ok {
			ic.ReadStruct(binary.BigEndian, &info)
		}
	}
	p := Pattern{Rows: rows, Channels: song.Channels}
	if d.wantPatterns() {
		p = NewPattern(rows, song.Channels)
	}
	if info.NameOffset != 0 && info.NameLength != 0 {
		if nc, ok := d.file.ChunkAt(int(info.NameOffset), int(info.NameLength)); ok {
			p.Name = cleanAmigaName(nc.Rest())
		}
	}
	if !p.Loaded() {
		return p, true
	}
	cells := c.ReadChunk(tracks * rows * cellSize)
	for row := 0; row < rows; row++ {
		for ch := 0; ch < tracks; ch++ {
			b, ok := cells.ReadView(cellSize)
			if !ok {
				return p, true
			}
			if ch >= song.Channels {
				continue
			}
			var note, instr, cmd, param uint8
			if cellSize == 3 {
				note = b[0] & 0x3F
				instr = b[1]>>4 | (b[0]&0x80)>>3 | (b[0]&0x40)>>1
				cmd = b[1] & 0x0F
				param = b[2]
			} else {
				note = b[0] & 0x7F
				instr = b[1] & 0x3F
				cmd = b[2]
				param = b[3]
			}
			cell := p.Cell(row, ch)
			if note > 0 {
				cell.Note = transposeNote(NoteMin+47+Note(note), int(m.song.PlayTranspose))
			}
			cell.Instrument = instr
			d.placeMEDEffect(m, t, &p, row, ch, cmd, param)
		}
	}

	// OctaMED stores further effect columns in command pages
	if info.PageTableOffset != 0 {
		pc, ok := d.file.ChunkAt(int(info.PageTableOffset), 4)
		if ok {
			numPages, _ := pc.ReadU16BE()
			pages, _ := d.file.ChunkAt(int(info.PageTableOffset)+4, int(numPages)*4)
			for pg := 0; pages != nil && pg < int(numPages); pg++ {
				poff, ok := pages.ReadU32BE()
				if !ok {
					break
				}
				page, ok := d.file.ChunkAt(int(poff), tracks*rows*2)
				if poff == 0 || !ok {
					continue
				}
				for row := 0; row < rows; row++ {
					for ch := 0; ch < tracks; ch++ {
						cmd, _ := page.ReadU8()
						param, _ := page.ReadU8()
						if ch < song.Channels {
							d.placeMEDEffect(m, t, &p, row, ch, cmd, param)
						}
					}
				}
			}
		}
	}
	return p, true
}

// placeMEDEffect translates one MED command into the cell at (row, ch).
func (d *decoder) placeMEDEffect(m *medModule, t Translator, p *Pattern, row, ch int, cmd, param uint8) {
	volHex := m.song.Flags&medFlagVolHex != 0
	place := func(e Effect, v uint8) { t.Place(p, row, ch, e, v) }
	switch cmd {
	case 0x00:
		if param != 0 {
			place(EffectArpeggio, param)
		}
	case 0x01:
		place(EffectPortaUp, param)
	case 0x02:
		place(EffectPortaDown, param)
	case 0x03:
		place(EffectTonePorta, param)
	case 0x04, 0x14:
		place(EffectVibrato, param)
	case 0x05:
		place(EffectTonePortaVol, upFirst(param))
	case 0x06:
		place(EffectVibratoVol, upFirst(param))
	case 0x07:
		place(EffectTremolo, param)
	case 0x09:
		if param > 0 && param <= 0x20 {
			place(EffectSpeed, param)
		}
	case 0x0A, 0x0D:
		place(EffectVolumeSlide, upFirst(param))
	case 0x0B:
		place(EffectPositionJump, param)
	case 0x0C:
		v := param
		if !volHex {
			v = bcdToBinary(param & 0x7F)
		}
		place(EffectVolume, min(v&0x7F, 64))
	case 0x0F:
		switch {
		case param == 0x00:
			place(EffectPatternBreak, 0)
		case param <= 0xF0:
			t.SetWideParam(p, row, ch, EffectTempo, max(m.tempo(int(param)), 32))
		case param == 0xF1:
			place(EffectModCmdEx, 0x93)
		case param == 0xF2:
			place(EffectModCmdEx, 0xD3)
		case param == 0xF3:
			place(EffectModCmdEx, 0x92)
		case param == 0xF8: // filter off
			place(EffectModCmdEx, 0x01)
		case param == 0xF9:
			place(EffectModCmdEx, 0x00)
		case param == 0xFE:
			place(EffectSpeed, 0)
		case param == 0xFF:
			p.Cell(row, ch).Note = NoteCut
		}
	case 0x11:
		place(EffectModCmdEx, 0x10|min(param, 0x0F))
	case 0x12:
		place(EffectModCmdEx, 0x20|min(param, 0x0F))
	case 0x15:
		place(EffectModCmdEx, 0x50|param&0x0F)
	case 0x16:
		place(EffectModCmdEx, 0x60|min(param, 0x0F))
	case 0x18:
		place(EffectModCmdEx, 0xC0|min(param, 0x0F))
	case 0x19:
		place(EffectOffset, param)
	case 0x1A:
		place(EffectModCmdEx, 0xA0|min(param, 0x0F))
	case 0x1B:
		place(EffectModCmdEx, 0xB0|min(param, 0x0F))
	case 0x1D:
		place(EffectPatternBreak, param)
	case 0x1E:
		place(EffectModCmdEx, 0xE0|min(param, 0x0F))
	case 0x1F:
		if param>>4 != 0 {
			place(EffectModCmdEx, 0xD0|param>>4)
		}
		if param&0x0F != 0 {
			place(EffectRetrig, param&0x0F)
		}
	case 0x2E:
		if param <= 0x10 || param >= 0xF0 {
			place(EffectPanning8, uint8(min(max((int(int8(param))+16)*8, 0), 255)))
		}
	}
}

// upFirst drops the down nibble of a slide when both are set.
func upFirst(param uint8) uint8 {
	if param&0xF0 != 0 {
		return param & 0xF0
	}
	return param
}

// medSeqInsert is an order entry added after position pos.
type medSeqInsert struct {
	pos   int
	order Order
}

// medJumpWrite is the cell on the last row of a pattern that receives a
// position jump.
type medJumpWrite struct {
	pattern, ch int
}

// medJump asks for a position jump at the end of the pattern played at pos.
type medJump struct {
	pos, target int
}

// readMEDSequences builds the order lists of a module. base is the index of
// the module's first block in Song.Patterns.
func (d *decoder) readMEDSequences(m *medModule, base int) {
	song := d.song
	if m.song2 == nil {
		seq := m.newSequence()
		for _, b := range m.song.PlaySeq[:min(int(m.song.SongLength), medMaxPlaySeqLen)] {
			if base+int(b) < len(song.Patterns) {
				seq.Orders = append(seq.Orders, Order(base+int(b)))
			}
		}
		song.Sequences = append(song.Sequences, seq)
		return
	}

	s2 := m.song2
	sections, ok := d.file.ChunkAt(int(s2.SectionTableOffset), int(m.song.SongLength)*2)
	if !ok {
		d.warn(ErrBadOffset, "", "section table outside the file")
		return
	}
	seqTable, ok := d.file.ChunkAt(int(s2.PlaySeqTableOffset), int(s2.NumPlaySeqs)*4)
	if !ok {
		d.warn(ErrBadOffset, "", "play sequence table outside the file")
		return
	}

	seq := m.newSequence()
	var inserts []medSeqInsert
	var jumps []medJump
	for range m.song.SongLength {
		idx, _ := sections.ReadU16BE()
		if idx >= s2.NumPlaySeqs {
			continue
		}
		seqTable.Seek(int(idx) * 4)
		off, _ := seqTable.ReadU32BE()
		c, ok := d.tail(int(off))
		if off == 0 || !ok {
			continue
		}
		var ps medPlaySeq
		if !c.ReadStruct(binary.BigEndian, &ps) {
			continue
		}
		if seq.Name == "" {
			seq.Name = cleanAmigaName(ps.Name[:])
		}

		// positions in this play sequence map to positions in seq
		start := len(seq.Orders)
		local := make([]int, int(ps.Length)+1)
		for i := 0; i < int(ps.Length); i++ {
			local[i] = len(seq.Orders)
			entry, ok := c.ReadU16BE()
			if !ok {
				break
			}
			if entry < medPlaySeqCmdLimit && base+int(entry) < len(song.Patterns) {
				seq.Orders = append(seq.Orders, Order(base+int(entry)))
			}
		}
		local[ps.Length] = len(seq.Orders)

		if ps.CommandTableOffset == 0 {
			continue
		}
		cmds, ok := d.tail(int(ps.CommandTableOffset))
		if !ok {
			continue
		}
		for {
			at, _ := cmds.ReadU16BE()
			cmd, _ := cmds.ReadU8()
			extra, ok := cmds.ReadU8()
			if !ok || cmd == 0 || (at == 0xFFFF && cmd == 0xFF) {
				break
			}
			arg := cmds.ReadChunk(int(extra))
			if int(at) >= int(ps.Length) {
				continue
			}
			pos := local[at]
			if pos >= len(seq.Orders) || pos < start {
				continue
			}
			switch cmd {
			case medPlaySeqStop:
				inserts = append(inserts, medSeqInsert{pos: pos, order: OrderStop})
			case medPlaySeqPosJump:
				target, ok := arg.ReadU16BE()
				if ok && int(target) < int(ps.Length) {
					jumps = append(jumps, medJump{pos: pos, target: local[target]})
				}
			}
		}
	}
	d.applyMEDJumps(&seq, inserts, jumps)
	song.Sequences = append(song.Sequences, seq)
}

// applyMEDJumps writes position jumps into the last row of the jumping
// pattern. A pattern played more than once is duplicated first so the jump
// only happens at this position. If the last row has no free effect column,
// a one row pattern holding the jump is inserted after the position.
func (d *decoder) applyMEDJumps(seq *Sequence, inserts []medSeqInsert, jumps []medJump) {
	song := d.song
	var writes []medJumpWrite
	var targets []int
	sort.SliceStable(jumps, func(i, j int) bool { return jumps[i].pos < jumps[j].pos })
	for _, j := range jumps {
		o := seq.Orders[j.pos]
		if !o.IsPattern() || int(o) >= len(song.Patterns) || !song.Patterns[o].Loaded() {
			continue
		}
		pat := int(o)
		if d.orderUses(seq, o) > 1 {
			song.Patterns = append(song.Patterns, clone.Clone(song.Patterns[pat]))
			pat = len(song.Patterns) - 1
			seq.Orders[j.pos] = Order(pat)
		}
		p := &song.Patterns[pat]
		ch := -1
		for c, cell := range p.Row(p.Rows - 1) {
			if cell.Command == EffectNone && !slices.Contains(writes, medJumpWrite{pat, c}) {
				ch = c
				break
			}
		}
		if ch < 0 {
			np := NewPattern(1, song.Channels)
			song.Patterns = append(song.Patterns, np)
			pat, ch = len(song.Patterns)-1, 0
			inserts = append(inserts, medSeqInsert{pos: j.pos, order: Order(pat)})
		}
		writes = append(writes, medJumpWrite{pat, ch})
		targets = append(targets, j.target)
	}

	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].pos < inserts[j].pos })
	// newPos maps a position before the inserts to the final order list
	newPos := func(pos int) int {
		n := pos
		for _, ins := range inserts {
			if ins.pos < pos {
				n++
			}
		}
		return n
	}
	for i, w := range writes {
		p := &song.Patterns[w.pattern]
		target := newPos(targets[i])
		if target > 0xFF {
			d.warn(ErrCountOutOfRange, patternItem(w.pattern), "jump target %d out of range", target)
			continue
		}
		cell := p.Cell(p.Rows-1, w.ch)
		cell.Command, cell.Param = EffectPositionJump, uint8(target)
	}

	if len(inserts) == 0 {
		return
	}
	orders := make([]Order, 0, len(seq.Orders)+len(inserts))
	k := 0
	for pos, o := range seq.Orders {
		orders = append(orders, o)
		for k < len(inserts) && inserts[k].pos == pos {
			orders = append(orders, inserts[k].order)
			k++
		}
	}
	seq.Orders = orders
}

// orderUses counts how often o appears in seq and the finished order lists.
func (d *decoder) orderUses(seq *Sequence, o Order) int {
	n := 0
	for _, x := range seq.Orders {
		if x == o {
			n++
		}
	}
	for _, seq := range d.song.Sequences {
		for _, x := range seq.Orders {
			if x == o {
				n++
			}
		}
	}
	return n
}
