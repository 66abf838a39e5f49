package modload

import (
	"io"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/codec"
	"github.com/chriskillpack/modload/internal/fieldreader"
)

// LoadFlags select how much of a file is decoded.
type LoadFlags uint8

const (
	OnlyVerifyHeader LoadFlags = 0
	LoadPatternData  LoadFlags = 1 << iota
	LoadSampleData
	LoadComplete = LoadPatternData | LoadSampleData
)

// ProbeResult is the outcome of sniffing the start of a file.
type ProbeResult int

const (
	ProbeFailure ProbeResult = iota
	ProbeWantMoreData
	ProbeSuccess
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeSuccess:
		return "success"
	case ProbeWantMoreData:
		return "want more data"
	}
	return "failure"
}

// SampleCodecs decode externally coded sample payloads. A nil decoder leaves
// the payload undecoded with a warning.
type SampleCodecs struct {
	MP3    codec.Decoder
	Vorbis codec.Decoder
}

// DefaultCodecs decode MP3 and Ogg Vorbis samples.
var DefaultCodecs = SampleCodecs{MP3: codec.MP3{}, Vorbis: codec.Vorbis{}}

// Options configure a decode.
type Options struct {
	Flags  LoadFlags
	Codecs SampleCodecs
}

// DefaultOptions decode everything.
var DefaultOptions = Options{Flags: LoadComplete, Codecs: DefaultCodecs}

type formatLoader struct {
	format Format
	// probe inspects the start of a file. fileSize is the full size of the
	// file, or -1 if it is not known yet.
	probe func(data []byte, fileSize int64) ProbeResult
	load  func(data []byte, opts Options) (*Song, error)
}

// Formats are probed in this order. Stricter signatures come first; MOD has
// the weakest signature and goes last.
var formats []formatLoader

func registerFormat(f formatLoader) {
	formats = append(formats, f)
}

func init() {
	registerFormat(formatLoader{FormatMO3, ProbeMO3, loadMO3})
	registerFormat(formatLoader{FormatXM, ProbeXM, loadXM})
	registerFormat(formatLoader{FormatMED, ProbeMED, loadMED})
	registerFormat(formatLoader{FormatS3M, ProbeS3M, loadS3M})
	registerFormat(formatLoader{FormatMOD, ProbeMOD, loadMOD})
}

// Probe identifies the format of a file from its leading bytes. fileSize is
// the size of the whole file, or -1 if unknown. A truncated buffer that
// could still be a valid file yields ProbeWantMoreData.
func Probe(data []byte, fileSize int64) (Format, ProbeResult) {
	result := ProbeFailure
	for _, f := range formats {
		switch f.probe(data, fileSize) {
		case ProbeSuccess:
			return f.format, ProbeSuccess
		case ProbeWantMoreData:
			result = ProbeWantMoreData
		}
	}
	return FormatUnknown, result
}

// Load decodes a module of any supported format.
func Load(data []byte) (*Song, error) {
	return LoadWithOptions(data, DefaultOptions)
}

// LoadWithOptions decodes a module of any supported format. With
// OnlyVerifyHeader the returned song only carries header information.
func LoadWithOptions(data []byte, opts Options) (*Song, error) {
	for _, f := range formats {
		if f.probe(data, int64(len(data))) != ProbeSuccess {
			continue
		}
		song, err := f.load(data, opts)
		if err != nil {
			return nil, err
		}
		dumpf("Loaded %s module with %d warnings\n", song.Format, len(song.Warnings))
		return song, nil
	}
	return nil, errors.WithStack(ErrUnknownFormat)
}

// LoadReader reads r to the end and decodes it.
func LoadReader(r io.Reader, opts Options) (*Song, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading module")
	}
	return LoadWithOptions(data, opts)
}

// NewSongFromBytes decodes a complete module, whatever its format.
func NewSongFromBytes(songBytes []byte) (*Song, error) {
	return Load(songBytes)
}

// probeAdditionalSize checks that need bytes, counted from the start of the
// file, can be present. With a known file size the check is final; otherwise
// a short buffer only means more data is needed.
func probeAdditionalSize(have int, need int64, fileSize int64) ProbeResult {
	if fileSize >= 0 {
		if max(fileSize, int64(have)) < need {
			return ProbeFailure
		}
		return ProbeSuccess
	}
	if int64(have) < need {
		return ProbeWantMoreData
	}
	return ProbeSuccess
}

// probeMagic compares the available prefix of data against magic at off.
// It returns ProbeWantMoreData when data ends before the magic does.
func probeMagic(data []byte, off int, magic string) ProbeResult {
	for i := 0; i < len(magic); i++ {
		if off+i >= len(data) {
			return ProbeWantMoreData
		}
		if data[off+i] != magic[i] {
			return ProbeFailure
		}
	}
	return ProbeSuccess
}

// decoder carries the state shared by the format loaders.
type decoder struct {
	format Format
	stage  string
	file   *fieldreader.Cursor
	song   *Song
	opts   Options
}

func newDecoder(format Format, data []byte, opts Options) *decoder {
	return &decoder{format: format, file: fieldreader.New(data), opts: opts}
}

// startStage names the part of the file read next, for error messages.
func (d *decoder) startStage(name string) {
	d.stage = name
}

// fail builds the error aborting the decode.
func (d *decoder) fail(kind ErrorKind, format string, a ...interface{}) error {
	return &DecodeError{
		Kind:   kind,
		Format: d.format,
		Stage:  d.stage,
		Offset: d.file.Pos(),
		Err:    errors.Errorf(format, a...),
	}
}

// warn records a recoverable problem with one item.
func (d *decoder) warn(kind ErrorKind, item string, format string, a ...interface{}) {
	d.song.Warnings.Add(kind, item, format, a...)
}

// tail returns a cursor from the absolute position pos to the end of the file.
func (d *decoder) tail(pos int) (*fieldreader.Cursor, bool) {
	if pos < 0 || pos > d.file.Len() {
		return nil, false
	}
	return d.file.ChunkAt(pos, d.file.Len()-pos)
}

func (d *decoder) wantPatterns() bool { return d.opts.Flags&LoadPatternData != 0 }
func (d *decoder) wantSamples() bool  { return d.opts.Flags&LoadSampleData != 0 }
