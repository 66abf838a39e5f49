package extprop

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

func TestCodeName(t *testing.T) {
	c := Code("VR..")
	if Name(c) != "VR.." {
		t.Errorf("Expected VR.., got %q", Name(c))
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Entry(c, nil)
	if got := buf.String()[:4]; got != "..RV" {
		t.Errorf("Expected code stored as ..RV, got %q", got)
	}
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Entry(Code("FO.."), []byte{0x34, 0x12})
	w.Header(Code("XXXX"), 3)
	w.Uint(0xABCDEF, 3)
	w.Entry(Code("GV.."), []byte{0x40})
	if err := w.Err(); err != nil {
		t.Fatal(err)
	}

	c := fieldreader.New(buf.Bytes())
	var codes []string
	for {
		e, ok := Next(c)
		if !ok {
			break
		}
		codes = append(codes, Name(e.Code))
		switch Name(e.Code) {
		case "FO..":
			if v, _ := e.Payload.ReadU16LE(); v != 0x1234 {
				t.Errorf("Expected 0x1234, got %#x", v)
			}
		case "GV..":
			if v, _ := e.Payload.ReadU8(); v != 0x40 {
				t.Errorf("Expected 0x40, got %#x", v)
			}
		}
	}
	if len(codes) != 3 || codes[1] != "XXXX" {
		t.Errorf("Unexpected entries %v", codes)
	}
}

func TestTruncatedEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Entry(Code("MPWD"), []byte{1, 2, 3, 4})

	c := fieldreader.New(buf.Bytes()[:8])
	e, ok := Next(c)
	if !ok {
		t.Fatal("Expected an entry")
	}
	if e.Size != 4 || e.Payload.Len() != 2 {
		t.Errorf("Expected declared size 4 and 2 available bytes, got %d/%d", e.Size, e.Payload.Len())
	}
	if _, ok := Next(c); ok {
		t.Error("Expected no further entries")
	}
}

func TestTooLarge(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	w.Entry(Code("BIG."), make([]byte, MaxSize+1))
	if !errors.Is(w.Err(), ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", w.Err())
	}
}
