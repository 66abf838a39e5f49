package modload

import "fmt"

// Note is a pitch in octave*12+semitone form offset by NoteMin, or one of
// the special note events. There are 12 semitones in an octave; this is very
// similar to how MIDI defines pitch values.
type Note uint8

const (
	NoteNone   Note = 0
	NoteMin    Note = 1   // C-0
	NoteMax    Note = 120 // B-9
	NoteFade   Note = 253
	NoteCut    Note = 254
	NoteKeyOff Note = 255

	// NoteMiddleC is C-5, the note samples are tuned to.
	NoteMiddleC = NoteMin + 5*12
)

// Literal note names
var noteNames = [12]string{
	"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-",
}

// IsNote reports whether n is a playable pitch.
func (n Note) IsNote() bool { return n >= NoteMin && n <= NoteMax }

// IsSpecial reports whether n is a fade, cut or key off event.
func (n Note) IsSpecial() bool { return n >= NoteFade }

// String returns the note in name-octave form, e.g. C-4, A#2.
func (n Note) String() string {
	switch {
	case n == NoteNone:
		return "..."
	case n == NoteKeyOff:
		return "^^."
	case n == NoteCut:
		return "^^^"
	case n == NoteFade:
		return "~~~"
	case n.IsNote():
		i := int(n - NoteMin)
		return fmt.Sprintf("%s%d", noteNames[i%12], i/12)
	default:
		return "???"
	}
}

// transposeNote shifts a pitch, clamping to the playable range. Special
// notes are returned unchanged.
func transposeNote(n Note, semitones int) Note {
	if !n.IsNote() {
		return n
	}
	return Note(min(max(int(n)+semitones, int(NoteMin)), int(NoteMax)))
}
