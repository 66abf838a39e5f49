package modload

import (
	"encoding/binary"
	"fmt"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

const (
	s3mMagic          = "SCRM"
	s3mMagicAt        = 44
	s3mFileHeaderSize = 96
	s3mMaxOrders      = 256
	s3mMaxSamples     = 99
	s3mMaxPatterns    = 256
	s3mRows           = 64
	s3mUnsigned       = 2 // sample format in the header, 1 = signed
	s3mPanningTable   = 0xFC
	s3mChannelUnused  = 0xFF
	s3mChannelMuted   = 0x80
	s3mStereo         = 0x80 // in the master volume byte

	s3mFlagFastSlides = 0x40

	s3mSampleTypePCM = 1
	s3mSampleLoop    = 0x01
	s3mSampleStereo  = 0x02
	s3mSample16Bit   = 0x04
	s3mPackADPCM     = 4

	s3mPackNoteInstr = 0x20
	s3mPackVolume    = 0x40
	s3mPackEffect    = 0x80
	s3mNoteCut       = 0xFE
	s3mNoteEmpty     = 0xFF
)

type s3mFileHeader struct {
	Title           [28]byte
	Pad             byte
	Filetype        byte
	_               uint16
	Length          uint16
	NumInstruments  uint16
	NumPatterns     uint16
	Flags           uint16
	Tracker         uint16
	SampleFormat    uint16  // 1 = signed, 2 = unsigned
	Magic           [4]byte // 'SCRM'
	Volume          uint8
	Speed           uint8
	Tempo           uint8
	MastVolume      uint8
	_               uint8
	Panning         uint8
	_               [8]byte
	_               [2]byte
	ChannelSettings [32]byte
}

func validateS3MHeader(h *s3mFileHeader) ErrorKind {
	switch {
	case h.Length > s3mMaxOrders, h.NumInstruments > s3mMaxSamples, h.NumPatterns > s3mMaxPatterns:
		return ErrCountOutOfRange
	case h.SampleFormat != 1 && h.SampleFormat != s3mUnsigned:
		return ErrBadVersion
	}
	return 0
}

// minimumAdditionalSize covers the order list and the parapointers.
func (h *s3mFileHeader) minimumAdditionalSize() int64 {
	return int64(h.Length) + 2*(int64(h.NumInstruments)+int64(h.NumPatterns))
}

// ProbeS3M checks whether data starts an S3M file.
func ProbeS3M(data []byte, fileSize int64) ProbeResult {
	if r := probeMagic(data, s3mMagicAt, s3mMagic); r != ProbeSuccess {
		return r
	}
	var h s3mFileHeader
	if !fieldreader.New(data).ReadStruct(binary.LittleEndian, &h) {
		return ProbeWantMoreData
	}
	if validateS3MHeader(&h) != 0 {
		return ProbeFailure
	}
	return probeAdditionalSize(len(data), s3mFileHeaderSize+h.minimumAdditionalSize(), fileSize)
}

// s3mTracker names the program from the created-with-tracker field.
func s3mTracker(v uint16) string {
	version := fmt.Sprintf("%d.%02X", v>>8&0x0F, v&0xFF)
	switch v >> 12 {
	case 1:
		return "Scream Tracker " + version
	case 2:
		return "Imago Orpheus " + version
	case 3:
		return "Impulse Tracker " + version
	case 4:
		return "Schism Tracker"
	case 5:
		return "OpenMPT"
	}
	return "Unknown"
}

type s3mSampleHeader struct {
	Type      byte
	Filename  [12]byte
	MemSegHi  byte
	MemSegLo  uint16
	Length    uint32
	LoopBegin uint32
	LoopEnd   uint32
	Volume    byte
	_         byte
	Packing   byte // 0, or 4 for ModPlug ADPCM
	Flags     byte
	C5Speed   uint32
	_         [12]byte
	Name      [28]byte
	Scrs      [4]byte // 'SCRS'
}

const s3mSampleHeaderSize = 80

func (s *s3mSampleHeader) dataOffset() int {
	return (int(s.MemSegHi)<<16 | int(s.MemSegLo)) * 16
}

func (s *s3mSampleHeader) encoding(format uint16) sampleEncoding {
	if s.Packing == s3mPackADPCM && s.Flags&(s3mSample16Bit|s3mSampleStereo) == 0 {
		return sampleEncoding{bits: 8, channels: 1, adpcm: true}
	}
	enc := sampleEncoding{bits: 8, channels: 1, split: true, unsigned: format == s3mUnsigned}
	if s.Flags&s3mSample16Bit != 0 {
		enc.bits = 16
	}
	if s.Flags&s3mSampleStereo != 0 {
		enc.channels = 2
	}
	return enc
}

func (s *s3mSampleHeader) toSample() Sample {
	smp := Sample{
		Name:         cleanName(s.Name[:]),
		Filename:     cleanName(s.Filename[:]),
		C5Speed:      int(s.C5Speed),
		Volume:       int(min(s.Volume, 64)) * 4,
		GlobalVolume: 64,
	}
	if smp.C5Speed == 0 {
		smp.C5Speed = 8363
	}
	if s.Type != s3mSampleTypePCM {
		return smp
	}
	smp.Length = int(s.Length)
	if s.Flags&s3mSample16Bit != 0 {
		smp.Flags |= Sample16Bit
	}
	if s.Flags&s3mSampleStereo != 0 {
		smp.Flags |= SampleStereo
	}
	if s.Flags&s3mSampleLoop != 0 {
		smp.LoopStart, smp.LoopEnd = int(s.LoopBegin), int(s.LoopEnd)
		smp.Flags |= SampleLoop
	}
	smp.sanitizeLoops()
	return smp
}

// NewS3MSongFromBytes parses an S3M file into a Song.
func NewS3MSongFromBytes(songBytes []byte) (*Song, error) {
	return loadS3M(songBytes, DefaultOptions)
}

func loadS3M(data []byte, opts Options) (*Song, error) {
	d := newDecoder(FormatS3M, data, opts)

	d.startStage("header")
	var h s3mFileHeader
	if !d.file.ReadStruct(binary.LittleEndian, &h) {
		return nil, d.fail(ErrShortRead, "file header")
	}
	if string(h.Magic[:]) != s3mMagic {
		return nil, d.fail(ErrBadMagic, "no %s signature", s3mMagic)
	}
	if kind := validateS3MHeader(&h); kind != 0 {
		return nil, d.fail(kind, "%d orders, %d samples, %d patterns", h.Length, h.NumInstruments, h.NumPatterns)
	}

	// Count up the number of channels
	nc := 0
	for i, cs := range h.ChannelSettings {
		if cs != s3mChannelUnused && cs&0x7F < 16 {
			nc = i + 1
		}
	}
	nc = max(nc, 1)

	song := newSong(FormatS3M, FormatS3M, nc)
	d.song = song
	song.Title = cleanName(h.Title[:])
	song.Tracker = s3mTracker(h.Tracker)
	song.GlobalVolume = int(min(h.Volume, 64)) * 4
	if h.Speed != 0 && h.Speed != 255 {
		song.Speed = int(h.Speed)
	}
	if h.Tempo >= 33 {
		song.Tempo = int(h.Tempo)
	}
	if h.Flags&s3mFlagFastSlides != 0 || h.Tracker == 0x1300 {
		song.Flags |= FlagFastVolumeSlides
	}
	for i := range song.ChannelSettings {
		cs := &song.ChannelSettings[i]
		b := h.ChannelSettings[i]
		cs.Muted = b == s3mChannelUnused || b&s3mChannelMuted != 0
		switch {
		case h.MastVolume&s3mStereo == 0:
			cs.Pan = centerPan
		case b&0x7F < 8:
			cs.Pan = 64
		case b&0x7F < 16:
			cs.Pan = 192
		}
	}

	dumpf("Title:\t\t%s\n", song.Title)
	dumpf("Tracker:\t%s\n", song.Tracker)
	dumpf("Channels:\t%d\n", song.Channels)
	dumpf("Speed:\t\t%d\n", song.Speed)
	dumpf("Tempo:\t\t%d\n", song.Tempo)
	dumpf("Patterns:\t%d\n", h.NumPatterns)
	dumpf("Samples:\t%d\n", h.NumInstruments)

	d.startStage("orders")
	orders, ok := d.file.ReadView(int(h.Length))
	if !ok {
		return nil, d.fail(ErrShortRead, "%d orders", h.Length)
	}
	seq := Sequence{Speed: song.Speed, Tempo: song.Tempo}
	for _, pat := range orders {
		switch pat {
		case 255: // end of song
			seq.Orders = append(seq.Orders, OrderStop)
		case 254: // marker
			seq.Orders = append(seq.Orders, OrderSkip)
		default:
			seq.Orders = append(seq.Orders, Order(pat))
		}
	}
	song.Sequences = []Sequence{seq}
	dumpf("Orders:\t\t%d %v\n\n", len(seq.Orders), seq.Orders)

	// Load instrument and pattern parapointers
	paras := make([]uint16, int(h.NumInstruments)+int(h.NumPatterns))
	if !d.file.ReadStruct(binary.LittleEndian, paras) {
		return nil, d.fail(ErrShortRead, "%d parapointers", len(paras))
	}
	if h.Panning == s3mPanningTable {
		if pans, ok := d.file.ReadView(32); ok {
			for i := range song.ChannelSettings {
				if pans[i]&0x20 != 0 {
					song.ChannelSettings[i].Pan = int(pans[i]&0x0F)*16 + 8
				}
			}
		}
	}

	d.startStage("samples")
	song.Samples = make([]Sample, h.NumInstruments)
	headers := make([]s3mSampleHeader, h.NumInstruments)
	for i := range headers {
		c, ok := d.file.ChunkAt(int(paras[i])*16, s3mSampleHeaderSize)
		if !ok || !c.ReadStruct(binary.LittleEndian, &headers[i]) {
			d.warn(ErrBadOffset, sampleItem(i+1), "header at 0x%X outside the file", int(paras[i])*16)
			continue
		}
		song.Samples[i] = headers[i].toSample()
		if headers[i].Type > s3mSampleTypePCM {
			song.Samples[i].OPL = append([]byte(nil), headers[i].Filename[:]...)
			d.warn(ErrNotSupported, sampleItem(i+1), "AdLib instrument")
		}
	}
	if opts.Flags == OnlyVerifyHeader {
		return song, nil
	}

	d.startStage("patterns")
	song.Patterns = make([]Pattern, h.NumPatterns)
	t := Translator{Format: FormatS3M}
	for i := range song.Patterns {
		song.Patterns[i] = Pattern{Rows: s3mRows, Channels: song.Channels}
		if !d.wantPatterns() {
			continue
		}
		p := NewPattern(s3mRows, song.Channels)
		song.Patterns[i] = p
		off := int(paras[int(h.NumInstruments)+i]) * 16
		if off == 0 {
			continue
		}
		c, ok := d.tail(off)
		if !ok || !c.CanRead(2) {
			d.warn(ErrBadOffset, patternItem(i), "offset 0x%X outside the file", off)
			continue
		}
		packedLen, _ := c.ReadU16LE()
		if packedLen >= 2 {
			c = c.ReadChunk(int(packedLen) - 2)
		}
		readS3MCells(t, &p, c)
		dumpPattern(i, &p)
	}

	d.startStage("sample data")
	for i := range headers {
		smp := &song.Samples[i]
		if headers[i].Type != s3mSampleTypePCM || smp.Length == 0 || !d.wantSamples() {
			continue
		}
		enc := headers[i].encoding(h.SampleFormat)
		c, ok := d.tail(headers[i].dataOffset())
		if !ok {
			d.warn(ErrBadOffset, sampleItem(i+1), "data at 0x%X outside the file", headers[i].dataOffset())
			continue
		}
		declared := smp.Length
		if !enc.read(smp, c) {
			d.warn(ErrShortRead, sampleItem(i+1), "%d frames declared, %d stored", declared, smp.Length)
		}
		if enc.adpcm {
			smp.Payload = &Payload{Codec: CodecADPCM, Offset: headers[i].dataOffset(), Size: enc.size(smp.Length)}
		}
		dumpf("Sample %d x%02X\n%s", i+1, i+1, smp)
	}
	return song, nil
}

// readS3MCells decodes a packed pattern. Each row is a list of channel
// entries ended by a zero byte. The top three bits of an entry say which
// of note/instrument, volume and effect follow.
func readS3MCells(t Translator, p *Pattern, c *fieldreader.Cursor) {
	row := 0
	for row < p.Rows {
		b, ok := c.ReadU8()
		if !ok {
			return
		}
		if b == 0 {
			// End of row
			row++
			continue
		}

		var cell Cell
		if b&s3mPackNoteInstr != 0 {
			note, _ := c.ReadU8() // if note < 254, hi nibble: octave, lo: note in octave
			instr, _ := c.ReadU8()
			switch {
			case note == s3mNoteCut:
				cell.Note = NoteCut
			case note < s3mNoteCut && note&0x0F < 12:
				cell.Note = transposeNote(NoteMin, 12+12*int(note>>4)+int(note&0x0F))
			}
			cell.Instrument = instr
		}
		if b&s3mPackVolume != 0 {
			vol, _ := c.ReadU8()
			switch {
			case vol >= 128 && vol <= 192:
				cell.VolCmd, cell.Vol = VolPanning, vol-128
			case vol <= 64:
				cell.VolCmd, cell.Vol = VolVolume, vol
			}
		}
		if b&s3mPackEffect != 0 {
			cmd, _ := c.ReadU8()
			param, _ := c.ReadU8()
			e, param := convertS3MEffect(cmd, param, false)
			t.PlaceCell(&cell, e, param)
		}

		// Entries for channels beyond the song's are bogus data; their
		// bytes have been consumed above.
		if ch := int(b & 31); ch < p.Channels {
			*p.Cell(row, ch) = cell
		}
	}
}
