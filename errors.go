package modload

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidMOD    = errors.New("invalid MOD file")
	ErrInvalidS3M    = errors.New("invalid S3M file")
	ErrInvalidXM     = errors.New("invalid XM file")
	ErrInvalidMED    = errors.New("invalid MED file")
	ErrInvalidMO3    = errors.New("invalid MO3 file")
	ErrUnknownFormat = errors.New("unknown module format")
)

// ErrorKind classifies decode failures and warnings. It implements error so
// errors.Is(err, ErrShortRead) works on a *DecodeError.
type ErrorKind int

const (
	ErrShortRead ErrorKind = iota + 1
	ErrBadMagic
	ErrBadVersion
	ErrCountOutOfRange
	ErrBadOffset
	ErrUnsupportedCodec
	ErrCorruptStream
	ErrNotSupported
)

var errorKindNames = map[ErrorKind]string{
	ErrShortRead:        "short read",
	ErrBadMagic:         "bad magic",
	ErrBadVersion:       "unsupported version",
	ErrCountOutOfRange:  "count out of range",
	ErrBadOffset:        "bad offset",
	ErrUnsupportedCodec: "unsupported codec",
	ErrCorruptStream:    "corrupt stream",
	ErrNotSupported:     "not supported",
}

func (k ErrorKind) Error() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// DecodeError is returned when a file cannot be decoded at all.
type DecodeError struct {
	Kind   ErrorKind
	Format Format
	Stage  string // part of the file being read, e.g. "patterns"
	Offset int    // byte offset in the file, -1 if unknown
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Format, e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Format, e.Stage, e.Kind)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at 0x%X", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches the error kind and the invalid-file sentinel of the format.
func (e *DecodeError) Is(target error) bool {
	if k, ok := target.(ErrorKind); ok {
		return k == e.Kind
	}
	return target == formatError(e.Format)
}

func formatError(f Format) error {
	switch f {
	case FormatMOD:
		return ErrInvalidMOD
	case FormatS3M:
		return ErrInvalidS3M
	case FormatXM:
		return ErrInvalidXM
	case FormatMED:
		return ErrInvalidMED
	case FormatMO3:
		return ErrInvalidMO3
	}
	return ErrUnknownFormat
}

// Warning is a recoverable problem with one item of a file. The song is
// still usable; the item may be silent or missing.
type Warning struct {
	Kind    ErrorKind
	Item    string // e.g. "sample 3", empty for the whole file
	Message string
}

func (w Warning) String() string {
	if w.Item == "" {
		return w.Message
	}
	return w.Item + ": " + w.Message
}

// Warnings collects the warnings of one decode.
type Warnings []Warning

// Add records a warning.
func (w *Warnings) Add(kind ErrorKind, item, format string, a ...interface{}) {
	*w = append(*w, Warning{Kind: kind, Item: item, Message: fmt.Sprintf(format, a...)})
	dumpf("warning: %s\n", (*w)[len(*w)-1])
}

// Has reports whether any warning of the given kind was recorded.
func (w Warnings) Has(kind ErrorKind) bool {
	for _, x := range w {
		if x.Kind == kind {
			return true
		}
	}
	return false
}

func sampleItem(n int) string     { return fmt.Sprintf("sample %d", n) }
func instrumentItem(n int) string { return fmt.Sprintf("instrument %d", n) }
func patternItem(n int) string    { return fmt.Sprintf("pattern %d", n) }
