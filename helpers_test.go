package modload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/chriskillpack/modload/internal/deltapcm"
	"github.com/chriskillpack/modload/internal/lz"
)

// put appends the binary encoding of each value to b.
func put(t *testing.T, b *bytes.Buffer, order binary.ByteOrder, values ...any) {
	t.Helper()
	for _, v := range values {
		if err := binary.Write(b, order, v); err != nil {
			t.Fatalf("Could not encode %T: %v", v, err)
		}
	}
}

func fixed(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// newTestXM builds a 1.04 XM with one order, one empty 64 row pattern and no
// instruments.
func newTestXM(t *testing.T, channels, patterns, instruments uint16) []byte {
	t.Helper()
	h := xmFileHeader{
		Version:     0x0104,
		Size:        276,
		Orders:      1,
		Channels:    channels,
		Patterns:    patterns,
		Instruments: instruments,
		Speed:       6,
		Tempo:       125,
	}
	copy(h.Signature[:], xmMagic)
	copy(h.Name[:], "empty song")
	h.EOF = 0x1A
	copy(h.Tracker[:], "FastTracker v2.00")

	var b bytes.Buffer
	put(t, &b, binary.LittleEndian, &h, make([]byte, 256))
	for range patterns {
		put(t, &b, binary.LittleEndian, uint32(9), uint8(0), uint16(64), uint16(0))
	}
	return b.Bytes()
}

// newTestXMSample builds a 1.04 XM with one instrument holding a single
// sample described by sh, followed by data.
func newTestXMSample(t *testing.T, sh xmSample, data []byte) []byte {
	t.Helper()
	b := bytes.NewBuffer(newTestXM(t, 4, 1, 1))
	ih := xmInstrumentHeader{Size: xmInstrumentHeaderSize, NumSamples: 1}
	copy(ih.Name[:], "lead")
	ih.Instrument.SampleHeaderSize = xmSampleHeaderSize
	put(t, b, binary.LittleEndian, &ih, &sh, data)
	return b.Bytes()
}

// newTestMOD builds an M.K. module with a single pattern. cells holds the
// four byte cells of row 0.
func newTestMOD(t *testing.T, cells [4][4]byte, sample []int8) []byte {
	t.Helper()
	var h modFileHeader
	copy(h.Title[:], "test mod")
	copy(h.Signature[:], "M.K.")
	h.Orders = 1
	h.Restart = 0x7F
	h.Samples[0] = modSampleHeader{
		Length:    uint16(len(sample) / 2),
		FineTune:  1,
		Volume:    48,
		LoopStart: 2,
		LoopLen:   4,
	}
	copy(h.Samples[0].Name[:], "lead")

	var b bytes.Buffer
	put(t, &b, binary.BigEndian, &h)
	pattern := make([]byte, modRows*4*modBytesPerCell)
	for ch, c := range cells {
		copy(pattern[ch*modBytesPerCell:], c[:])
	}
	put(t, &b, binary.BigEndian, pattern, sample)
	return b.Bytes()
}

// newTestS3M builds an unsigned-sample S3M with two channels, one sample and
// one pattern. The parapointers put the sample header at 0x60+16, the
// pattern after it and the sample data last.
func newTestS3M(t *testing.T, packed []byte, sample []byte) []byte {
	t.Helper()
	h := s3mFileHeader{
		Filetype:       16,
		Length:         2,
		NumInstruments: 1,
		NumPatterns:    1,
		Tracker:        0x1320,
		SampleFormat:   s3mUnsigned,
		Volume:         48,
		Speed:          4,
		Tempo:          150,
		MastVolume:     0x80 | 48,
	}
	copy(h.Title[:], "test s3m")
	h.Pad = 0x1A
	copy(h.Magic[:], s3mMagic)
	for i := range h.ChannelSettings {
		h.ChannelSettings[i] = s3mChannelUnused
	}
	h.ChannelSettings[0] = 0 // L1
	h.ChannelSettings[1] = 8 // R1

	const (
		sampleAt  = 0x70
		patternAt = sampleAt + s3mSampleHeaderSize
	)
	dataAt := (patternAt + 2 + len(packed) + 15) &^ 15

	var b bytes.Buffer
	put(t, &b, binary.LittleEndian, &h, []byte{0, 255}, []uint16{sampleAt / 16, patternAt / 16})
	b.Write(make([]byte, sampleAt-b.Len()))

	sh := s3mSampleHeader{
		Type:      s3mSampleTypePCM,
		MemSegLo:  uint16(dataAt / 16),
		Length:    uint32(len(sample)),
		LoopBegin: 2,
		LoopEnd:   6,
		Volume:    32,
		Flags:     s3mSampleLoop,
		C5Speed:   22050,
	}
	copy(sh.Name[:], "bass")
	copy(sh.Scrs[:], "SCRS")
	put(t, &b, binary.LittleEndian, &sh, uint16(len(packed)+2), packed)
	b.Write(make([]byte, dataAt-b.Len()))
	b.Write(sample)
	return b.Bytes()
}

// MMD0 layout of newTestMED
const (
	testMEDSongAt   = medFileHeaderSize
	testMEDBlocksAt = testMEDSongAt + medSongSize
	testMEDBlockAt  = testMEDBlocksAt + 4
	testMEDSmpArrAt = testMEDBlockAt + 2 + 64*4*3
	testMEDSampleAt = testMEDSmpArrAt + 4
)

// newTestMED builds an MMD0 file with one 4 track block of 64 lines and one
// 8-bit sample. cells maps (row, track) to the three byte MMD0 cell.
func newTestMED(t *testing.T, cells map[[2]int][3]byte, sample []int8) []byte {
	t.Helper()
	h := medFileHeader{
		Version:         '0',
		SongOffset:      testMEDSongAt,
		BlockArrOffset:  testMEDBlocksAt,
		SampleArrOffset: testMEDSmpArrAt,
	}
	copy(h.MMD[:], "MMD")
	h.ModLength = uint32(testMEDSampleAt + 6 + len(sample))

	var s medSong
	s.Samples[0] = medSampleHeader{LoopStart: 1, LoopLength: 2, Volume: 64}
	s.NumBlocks = 1
	s.SongLength = 2
	s.PlaySeq[0], s.PlaySeq[1] = 0, 0
	s.DefaultTempo = 33
	s.Tempo2 = 3
	s.MasterVol = 32
	s.NumSamples = 1

	var b bytes.Buffer
	put(t, &b, binary.BigEndian, &h, &s, uint32(testMEDBlockAt), uint8(4), uint8(63))
	block := make([]byte, 64*4*3)
	for at, c := range cells {
		copy(block[(at[0]*4+at[1])*3:], c[:])
	}
	put(t, &b, binary.BigEndian, block, uint32(testMEDSampleAt), uint32(len(sample)), int16(0), sample)
	return b.Bytes()
}

// image lays out a big endian file whose structures point at each other
// by absolute offset.
type image struct {
	t    *testing.T
	data []byte
}

// reserve appends n zero bytes and returns their offset.
func (m *image) reserve(n int) uint32 {
	off := len(m.data)
	m.data = append(m.data, make([]byte, n)...)
	return uint32(off)
}

// write encodes v at off.
func (m *image) write(off uint32, v any) {
	m.t.Helper()
	if _, err := binary.Encode(m.data[off:], binary.BigEndian, v); err != nil {
		m.t.Fatalf("Could not encode %T: %v", v, err)
	}
}

// add appends v and returns its offset.
func (m *image) add(v any) uint32 {
	m.t.Helper()
	off := m.reserve(binary.Size(v))
	m.write(off, v)
	return off
}

// newTestMMD2 builds an OctaMED file holding two songs.
//
// The first is an MMD2 song with two 2 track blocks. Block 0 has 4 lines,
// a name and one command page. Block 1 has 2 lines. Its only section plays
// the sequence "main" = [0 1] with a stop command at position 0 and a jump
// to position 0 at position 1.
//
// The second is an MMD1 "MCN" song with one 3 track block of 1 line,
// speed 3 and 99 BPM. Its NextModOffset points back at itself.
func newTestMMD2(t *testing.T) []byte {
	t.Helper()
	m := &image{t: t}

	// first song
	hdrAt := m.reserve(medFileHeaderSize)
	songAt := m.reserve(medSongSize)
	expAt := m.reserve(medExpSize)
	blocksAt := m.add([]uint32{0, 0})

	infoAt := m.reserve(binary.Size(medBlockInfo{}))
	block0 := m.add([]uint16{2, 3})
	m.add(infoAt)
	m.add([]byte{
		0x0D, 0x01, 0x0C, 0x20, 0, 0, 0, 0, // C-2 instrument 1, volume 20 | empty
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	})
	pageTableAt := m.add([]uint16{1, 0})
	pageRefAt := m.reserve(4)
	pageAt := m.add([]byte{
		0x09, 0x05, 0, 0, // speed 5 | empty
		0, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	})
	m.write(pageRefAt, pageAt)
	nameAt := m.add([]byte("intro"))
	m.write(infoAt, &medBlockInfo{NameOffset: nameAt, NameLength: 5, PageTableOffset: pageTableAt})

	block1 := m.add([]uint16{2, 1})
	m.add(uint32(0))
	m.add([]byte{
		0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0x0C, 0x10, 0, 0, 0, 0, // volume 10 | free for the jump
	})
	m.write(blocksAt, []uint32{block0, block1})

	sectionsAt := m.add(uint16(0))
	seqTableAt := m.reserve(4)
	ps := medPlaySeq{Length: 2}
	copy(ps.Name[:], "main")
	seqAt := m.reserve(binary.Size(ps))
	m.add([]uint16{0, 1})
	ps.CommandTableOffset = m.add([]byte{
		0, 0, medPlaySeqStop, 0,
		0, 1, medPlaySeqPosJump, 2, 0, 0,
		0, 0, 0, 0,
	})
	m.write(seqAt, &ps)
	m.write(seqTableAt, seqAt)
	trackVolsAt := m.add([]uint8{64, 32})
	trackPansAt := m.add([]int8{-16, 16})
	titleAt := m.add([]byte("mmd2 song"))

	s2 := medSong2{
		PlaySeqTableOffset: seqTableAt,
		SectionTableOffset: sectionsAt,
		TrackVolsOffset:    trackVolsAt,
		TrackPanOffset:     trackPansAt,
		NumTracks:          2,
		NumPlaySeqs:        1,
	}
	var s medSong
	s.NumBlocks = 2
	s.SongLength = 1
	s.DefaultTempo = 33
	s.Tempo2 = 6
	s.MasterVol = 64
	if _, err := binary.Encode(s.PlaySeq[:], binary.BigEndian, &s2); err != nil {
		t.Fatal(err)
	}
	m.write(songAt, &s)

	// second song
	mcnAt := m.reserve(medFileHeaderSize)
	song2At := m.reserve(medSongSize)
	exp2At := m.reserve(medExpSize)
	blocks2At := m.reserve(4)
	block2 := m.add([]uint16{3, 0})
	m.add(uint32(0))
	m.add([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x01, 0, 0}) // C-1 on track 2
	m.write(blocks2At, block2)
	var sc medSong
	sc.NumBlocks = 1
	sc.SongLength = 1
	sc.DefaultTempo = 99
	sc.Tempo2 = 3
	sc.Flags2 = medFlags2BPM | 3
	m.write(song2At, &sc)
	m.write(exp2At, &medExp{NextModOffset: mcnAt})
	mcn := medFileHeader{Version: '1', SongOffset: song2At, BlockArrOffset: blocks2At, ExpDataOffset: exp2At}
	copy(mcn.MMD[:], "MCN")
	mcn.ModLength = uint32(len(m.data)) - mcnAt
	m.write(mcnAt, &mcn)

	m.write(expAt, &medExp{NextModOffset: mcnAt, SongNameOffset: titleAt, SongNameLength: 9})
	h := medFileHeader{Version: '2', SongOffset: songAt, BlockArrOffset: blocksAt, ExpDataOffset: expAt}
	copy(h.MMD[:], "MMD")
	h.ModLength = mcnAt
	m.write(hdrAt, &h)
	return m.data
}

type testMO3Sample struct {
	header mo3Sample
	name   string
	shared int16  // sample holding the Ogg headers of a shared Ogg sample
	data   []byte // payload stored after the music block
}

// newTestMO3 builds a version 5 MO3 converted from S3M with two channels and
// one pattern. Channel 0 holds a note on row 0, channel 1 a volume on rows 0
// and 1.
func newTestMO3(t *testing.T, samples []testMO3Sample) []byte {
	t.Helper()
	return newTestMO3Header(t, samples, nil)
}

// newTestMO3Header is newTestMO3 with a hook to change the music header
// before it is packed.
func newTestMO3Header(t *testing.T, samples []testMO3Sample, edit func(*mo3FileHeader)) []byte {
	t.Helper()
	h := mo3FileHeader{
		NumChannels:  2,
		NumOrders:    2,
		NumPatterns:  1,
		NumTracks:    2,
		NumSamples:   uint16(len(samples)),
		DefaultSpeed: 5,
		DefaultTempo: 140,
		Flags:        mo3IsS3M,
		GlobalVol:    32,
	}
	h.ChnVolume[0], h.ChnVolume[1] = 64, 40
	h.ChnPan[0], h.ChnPan[1] = 127, 255
	if edit != nil {
		edit(&h)
	}

	var m bytes.Buffer
	m.WriteString("mo3 song\x00")
	m.WriteString("hello\rworld\x00")
	put(t, &m, binary.LittleEndian, &h)
	m.Write([]byte{0, 0xFF})                        // orders
	put(t, &m, binary.LittleEndian, []uint16{0, 1}) // track table
	put(t, &m, binary.LittleEndian, uint16(64))     // pattern rows
	tracks := [][]byte{
		{0x12, 0x01, 48, 0x02, 0x00, 0x00},
		{0x21, 0x0F, 40, 0x00},
	}
	for _, tr := range tracks {
		put(t, &m, binary.LittleEndian, uint32(len(tr)), tr)
	}
	for _, s := range samples {
		m.WriteString(s.name + "\x00")
		m.WriteString("\x00")
		put(t, &m, binary.LittleEndian, &s.header)
		if s.header.Flags&mo3CompressionMask == mo3CompressionShared {
			put(t, &m, binary.LittleEndian, s.shared)
		}
	}
	m.WriteString("PRHI")
	put(t, &m, binary.LittleEndian, uint32(2), []byte{4, 16})

	music := m.Bytes()
	packed := lz.Pack(music)

	var b bytes.Buffer
	b.WriteString(mo3Magic)
	put(t, &b, binary.LittleEndian, uint8(5), uint32(len(music)), uint32(len(packed)), packed)
	for _, s := range samples {
		b.Write(s.data)
	}
	return b.Bytes()
}

// deltaSample returns an MO3 sample coded with the plain delta codec.
func deltaSample(values []int8) testMO3Sample {
	data := deltapcm.Encode(values, 1)
	return testMO3Sample{
		name: "delta",
		header: mo3Sample{
			FreqFineTune:   8363,
			DefaultVolume:  64,
			Panning:        0xFFFF,
			Length:         uint32(len(values)),
			Flags:          mo3CompressionDelta,
			GlobalVol:      64,
			CompressedSize: int32(len(data)),
		},
		data: data,
	}
}

// rawSample16 returns an uncompressed 16-bit MO3 sample.
func rawSample16(t *testing.T, values []int16) testMO3Sample {
	var b bytes.Buffer
	put(t, &b, binary.LittleEndian, values)
	return testMO3Sample{
		name: "raw",
		header: mo3Sample{
			FreqFineTune:  22050,
			DefaultVolume: 32,
			Panning:       128,
			Length:        uint32(len(values)),
			Flags:         mo3Sample16Bit,
			GlobalVol:     64,
		},
		data: b.Bytes(),
	}
}
