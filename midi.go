package modload

import (
	"fmt"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

// readMidiMacros decodes a macro block: 9 global, 16 parametered and 128
// fixed macros, each a NUL padded string of 32 bytes.
func readMidiMacros(c *fieldreader.Cursor) (*MidiMacros, bool) {
	if !c.CanRead(midiMacroDataSize) {
		return nil, false
	}
	m := &MidiMacros{}
	read := func(dst []string) {
		for i := range dst {
			s, _ := c.ReadString(midiMacroLen)
			dst[i] = string(s)
		}
	}
	read(m.Global[:])
	read(m.SFx[:])
	read(m.Zxx[:])
	return m, true
}

// defaultMidiMacros returns the macro setup Impulse Tracker starts with:
// SF0 controls the filter cutoff and Z80..Z8F set it directly.
func defaultMidiMacros() *MidiMacros {
	m := &MidiMacros{}
	m.Global[0] = "FF"
	m.Global[1] = "FC"
	m.Global[3] = "9c n v"
	m.Global[4] = "9c n 0"
	m.Global[8] = "Cc p"
	m.SFx[0] = "F0F000z"
	for i := 0; i < 16; i++ {
		m.Zxx[i] = fmt.Sprintf("F0F000%02X", i*8)
	}
	return m
}
