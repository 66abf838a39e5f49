package modload

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

var (
	cp437 = charmap.CodePage437
	amiga = charmap.ISO8859_1
)

// cleanName decodes a fixed-width CP437 name. It stops at the first 0x00,
// replaces control characters with spaces and trims trailing spaces.
func cleanName(in []byte) string {
	return decodeName(in, cp437)
}

// cleanAmigaName is cleanName for ISO-8859-1 text written on the Amiga.
func cleanAmigaName(in []byte) string {
	return decodeName(in, amiga)
}

func decodeName(in []byte, cm *charmap.Charmap) string {
	if i := bytes.IndexByte(in, 0); i >= 0 {
		in = in[:i]
	}
	s := decodeText(in, cm)
	return strings.TrimRight(strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s), " ")
}

// utf8Name decodes a name stored as UTF-8.
func utf8Name(in []byte) string {
	if i := bytes.IndexByte(in, 0); i >= 0 {
		in = in[:i]
	}
	return strings.TrimRight(strings.ToValidUTF8(string(in), "?"), " ")
}

// decodeText decodes a free text block, normalising CR and CRLF line ends.
func decodeText(in []byte, cm *charmap.Charmap) string {
	out, err := cm.NewDecoder().Bytes(in)
	if err != nil {
		out = in
	}
	s := strings.ReplaceAll(string(out), "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// messageText decodes a song message, dropping trailing padding.
func messageText(in []byte, cm *charmap.Charmap) string {
	if i := bytes.IndexByte(in, 0); i >= 0 {
		in = in[:i]
	}
	return strings.TrimRight(decodeText(in, cm), " \n")
}
