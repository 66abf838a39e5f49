package modload

import (
	"encoding/binary"
	"math"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

const (
	modNumSamples     = 31
	modMaxOrders      = 128
	modRows           = 64
	modSignatureAt    = 1080
	modHeaderSize     = modSignatureAt + 4
	modBytesPerCell   = 4
	modDefaultChannel = 4
)

// This is the equivalent S3M C4Speed for the MOD finetune value
// This should be indexed by the byte value in the MOD file
// Taken from fs3mdoc.txt
var fineTuning = []int{
	8363, 8413, 8463, 8529, 8581, 8651, 8723, 8757,
	7895, 7941, 7985, 8046, 8107, 8169, 8232, 8280,
}

type modSampleHeader struct {
	Name      [22]byte
	Length    uint16 // in words
	FineTune  uint8
	Volume    uint8
	LoopStart uint16
	LoopLen   uint16
}

type modFileHeader struct {
	Title     [20]byte
	Samples   [modNumSamples]modSampleHeader
	Orders    uint8
	Restart   uint8
	OrderData [modMaxOrders]byte
	Signature [4]byte
}

// modChannels decodes the channel count from the signature. It returns 0
// for an unknown signature.
func modChannels(sig [4]byte) int {
	digit := func(b byte) (int, bool) { return int(b - '0'), b >= '0' && b <= '9' }
	switch s := string(sig[:]); {
	case s == "M.K." || s == "M!K." || s == "FLT4" || s == "4CHN":
		return modDefaultChannel
	case s == "FLT8" || s == "OCTA" || s == "CD81":
		return 8
	case s[1:] == "CHN":
		if n, ok := digit(s[0]); ok && n > 0 {
			return n
		}
	case s[2:] == "CH" || s[2:] == "CN":
		hi, ok1 := digit(s[0])
		lo, ok2 := digit(s[1])
		if ok1 && ok2 {
			return hi*10 + lo
		}
	}
	return 0
}

// validate returns 0 if the header can be decoded.
func (h *modFileHeader) validate() ErrorKind {
	ch := modChannels(h.Signature)
	switch {
	case ch == 0:
		return ErrBadMagic
	case ch > MaxChannels, h.Orders == 0, h.Orders > modMaxOrders:
		return ErrCountOutOfRange
	}
	for _, s := range h.Samples {
		if s.Volume > 64 || s.FineTune > 15 {
			return ErrCountOutOfRange
		}
	}
	return 0
}

// numPatterns is the highest pattern referenced by any of the 128 order
// slots plus one. Unused slots are counted too, as ProTracker does.
func (h *modFileHeader) numPatterns() int {
	n := 0
	for _, o := range h.OrderData {
		n = max(n, int(o)+1)
	}
	return n
}

// ProbeMOD checks whether data starts a 31 sample MOD file.
func ProbeMOD(data []byte, fileSize int64) ProbeResult {
	if fileSize >= 0 && fileSize < modHeaderSize {
		return ProbeFailure
	}
	var h modFileHeader
	if !fieldreader.New(data).ReadStruct(binary.BigEndian, &h) {
		return ProbeWantMoreData
	}
	if h.validate() != 0 {
		return ProbeFailure
	}
	return ProbeSuccess
}

// NewMODSongFromBytes parses a MOD file into a Song.
//
// This means reading out instrument data, sample data, order
// and pattern data into the structures of the Song.
func NewMODSongFromBytes(songBytes []byte) (*Song, error) {
	return loadMOD(songBytes, DefaultOptions)
}

func loadMOD(data []byte, opts Options) (*Song, error) {
	d := newDecoder(FormatMOD, data, opts)

	d.startStage("header")
	var h modFileHeader
	if !d.file.ReadStruct(binary.BigEndian, &h) {
		return nil, d.fail(ErrShortRead, "file header")
	}
	if kind := h.validate(); kind != 0 {
		return nil, d.fail(kind, "signature %q, %d orders", h.Signature[:], h.Orders)
	}

	song := newSong(FormatMOD, FormatMOD, modChannels(h.Signature))
	d.song = song
	song.Title = cleanName(h.Title[:])
	song.Tracker = "ProTracker"
	song.Flags |= FlagAmigaLimits
	// Setup panning
	for i := range song.ChannelSettings {
		switch i & 3 {
		case 0, 3:
			song.ChannelSettings[i].Pan = 0 // left
		case 1, 2:
			song.ChannelSettings[i].Pan = MaxPan // right
		}
	}

	seq := Sequence{Speed: song.Speed, Tempo: song.Tempo}
	for _, o := range h.OrderData[:h.Orders] {
		seq.Orders = append(seq.Orders, Order(o))
	}
	if int(h.Restart) < len(seq.Orders) && h.Restart != 0x7F {
		seq.Restart = int(h.Restart)
	}
	song.Sequences = []Sequence{seq}
	patterns := h.numPatterns()

	dumpf("Title:\t\t%s\n", song.Title)
	dumpf("Signature:\t%s\n", h.Signature[:])
	dumpf("Channels:\t%d\n", song.Channels)
	dumpf("Speed:\t\t%d\n", song.Speed)
	dumpf("Tempo:\t\t%d\n", song.Tempo)
	dumpf("Patterns:\t%d\n", patterns)
	dumpf("Orders:\t\t%d %v\n", len(seq.Orders), seq.Orders)
	dumpf("\n")

	song.Samples = make([]Sample, modNumSamples)
	for i := range h.Samples {
		song.Samples[i] = h.Samples[i].toSample()
	}
	if opts.Flags == OnlyVerifyHeader {
		return song, nil
	}

	d.startStage("patterns")
	patternSize := modRows * song.Channels * modBytesPerCell
	song.Patterns = make([]Pattern, patterns)
	t := Translator{Format: FormatMOD}
	for i := range song.Patterns {
		chunk, ok := d.file.ReadView(patternSize)
		if !ok {
			return nil, d.fail(ErrShortRead, "pattern %d of %d", i, patterns)
		}
		if !d.wantPatterns() {
			song.Patterns[i] = Pattern{Rows: modRows, Channels: song.Channels}
			continue
		}
		p := NewPattern(modRows, song.Channels)
		for j := range p.Cells {
			readMODCell(t, &p.Cells[j], chunk[j*modBytesPerCell:(j+1)*modBytesPerCell])
		}
		song.Patterns[i] = p
		dumpPattern(i, &p)
	}

	d.startStage("samples")
	for i := range song.Samples {
		smp := &song.Samples[i]
		// Some MOD files store a sample length longer than what remains in
		// the file, e.g. believe.mod sample 9 records 2358 bytes but only
		// 2353 remain. Keep what is there.
		if smp.Length > d.file.Remaining() {
			d.warn(ErrShortRead, sampleItem(i+1), "length %d, only %d bytes left", smp.Length, d.file.Remaining())
			smp.Length = d.file.Remaining()
			smp.sanitizeLoops()
		}
		if !d.wantSamples() {
			d.file.Skip(smp.Length)
			continue
		}
		enc := sampleEncoding{bits: 8, channels: 1}
		enc.read(smp, d.file)
		dumpf("Sample %d x%02X\n%s", i+1, i+1, smp)
	}
	return song, nil
}

func (s *modSampleHeader) toSample() Sample {
	smp := Sample{
		Name:         cleanName(s.Name[:]),
		Length:       int(s.Length) * 2,
		C5Speed:      fineTuning[s.FineTune&0x0F],
		Volume:       int(min(s.Volume, 64)) * 4,
		GlobalVolume: 64,
	}
	loopStart := int(s.LoopStart) * 2
	loopLen := int(s.LoopLen) * 2

	// If the loop data overshoots the end of the sample then correct the loop
	// This logic lifted from MilkyTracker
	if loopStart+loopLen > smp.Length {
		// First attempt, move the loop start back
		loopStart -= loopStart + loopLen - smp.Length
		// If it still overshoots the end then clamp the loop
		if loopStart < 0 {
			loopLen += loopStart
			loopStart = 0
		}
	}
	if loopLen > 2 {
		smp.LoopStart, smp.LoopEnd = loopStart, loopStart+loopLen
		smp.Flags |= SampleLoop
	}
	smp.sanitizeLoops()
	return smp
}

// readMODCell decodes one four byte cell: a 12 bit Amiga period, the sample
// number split over two nibbles, the effect and its parameter.
func readMODCell(t Translator, c *Cell, b []byte) {
	period := int(b[0]&0x0F)<<8 | int(b[1])
	c.Instrument = b[0]&0xF0 | b[2]>>4
	c.Note = periodToNote(period)
	e, param := convertMODEffect(b[2]&0x0F, b[3], false)
	t.PlaceCell(c, e, param)
}

const (
	periodBase = 13696                                  // the amiga MOD period value for C-(-1), it's -1 in the octave numbering system we use
	ln2        = 0.693147180559945309417232121458176568 // ln(2)
)

// periodToNote converts an Amiga MOD period value to a Note. Period 428,
// ProTracker's C-2, becomes C-5. This code is a lift from libxmp.
func periodToNote(period int) Note {
	if period <= 0 {
		return NoteNone
	}

	// Each octave halves the period and each of its 12 semitones divides it
	// by 2^(1/12). The period for A4 is 254, A#4 240, A3 508 and A5 127, so
	// the number of semitones above periodBase is 12*log2(periodBase/period).
	calc := 12.0 * math.Log(float64(periodBase)/float64(period)) / ln2
	n := int(math.Floor(calc + 0.5))
	return Note(min(max(n+int(NoteMin), int(NoteMin)), int(NoteMax)))
}
