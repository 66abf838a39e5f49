package modload

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/chriskillpack/modload/internal/extprop"
	"github.com/chriskillpack/modload/internal/fieldreader"
)

// Extended properties store instrument and song fields the base formats have
// no room for. The block starts with "XTPM" followed by one entry per
// instrument field: a code, the payload size per instrument, then that many
// bytes for every instrument in order. "STPM" starts the song fields, which
// are plain (code, size, payload) entries.
const (
	instrumentPropsMagic = "XTPM"
	songPropsMagic       = "STPM"
)

type propKind uint8

const (
	propInt propKind = iota
	propEnum
	propFlags
	propEnvSize
	propEnvTicks
	propEnvValues
	propReleaseNode
	propPitchLock
)

// instrumentProp describes one instrument field. Integer kinds go through
// get and set; envelope kinds through env.
type instrumentProp struct {
	code   string
	kind   propKind
	size   int
	signed bool
	limit  int64 // exclusive upper bound of enum values
	get    func(*Instrument) int64
	set    func(*Instrument, int64)
	env    func(*Instrument) *Envelope
}

func volEnv(ins *Instrument) *Envelope   { return &ins.VolEnv }
func panEnv(ins *Instrument) *Envelope   { return &ins.PanEnv }
func pitchEnv(ins *Instrument) *Envelope { return &ins.PitchEnv }

const (
	insFlagSetPan = 0x01
	insFlagMute   = 0x02
)

var instrumentProps = []instrumentProp{
	{code: "VR..", kind: propInt, size: 2,
		get: func(i *Instrument) int64 { return int64(i.VolRampUp) },
		set: func(i *Instrument, v int64) { i.VolRampUp = uint16(v) }},
	{code: "MiP.", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.Plugin) },
		set: func(i *Instrument, v int64) { i.Plugin = uint8(v) }},
	{code: "MC..", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.MidiChannel) },
		set: func(i *Instrument, v int64) { i.MidiChannel = uint8(v) }},
	{code: "MP..", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.MidiProgram) },
		set: func(i *Instrument, v int64) { i.MidiProgram = uint8(v) }},
	{code: "MB..", kind: propInt, size: 2,
		get: func(i *Instrument) int64 { return int64(i.MidiBank) },
		set: func(i *Instrument, v int64) { i.MidiBank = uint16(v) }},
	{code: "MDK.", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.MidiDrumKey) },
		set: func(i *Instrument, v int64) { i.MidiDrumKey = uint8(v) }},
	{code: "MPWD", kind: propInt, size: 1, signed: true,
		get: func(i *Instrument) int64 { return int64(i.MidiPWD) },
		set: func(i *Instrument, v int64) { i.MidiPWD = int8(v) }},
	{code: "P...", kind: propInt, size: 4,
		get: func(i *Instrument) int64 { return int64(i.Pan) },
		set: func(i *Instrument, v int64) { i.Pan = min(int(v), MaxPan) }},
	{code: "GV..", kind: propInt, size: 4,
		get: func(i *Instrument) int64 { return int64(i.GlobalVolume) },
		set: func(i *Instrument, v int64) { i.GlobalVolume = min(int(v), 64) }},
	{code: "FO..", kind: propInt, size: 4,
		get: func(i *Instrument) int64 { return int64(i.FadeOut) },
		set: func(i *Instrument, v int64) { i.FadeOut = int(v) }},
	{code: "R...", kind: propEnum, size: 1, limit: 6,
		get: func(i *Instrument) int64 { return int64(i.ResamplingMode) },
		set: func(i *Instrument, v int64) { i.ResamplingMode = uint8(v) }},
	{code: "FM..", kind: propEnum, size: 1, limit: 3,
		get: func(i *Instrument) int64 { return int64(i.FilterMode) },
		set: func(i *Instrument, v int64) { i.FilterMode = uint8(v) }},
	{code: "NNA.", kind: propEnum, size: 1, limit: 4,
		get: func(i *Instrument) int64 { return int64(i.NNA) },
		set: func(i *Instrument, v int64) { i.NNA = NewNoteAction(v) }},
	{code: "DCT.", kind: propEnum, size: 1, limit: 5,
		get: func(i *Instrument) int64 { return int64(i.DCT) },
		set: func(i *Instrument, v int64) { i.DCT = uint8(v) }},
	{code: "DNA.", kind: propEnum, size: 1, limit: 3,
		get: func(i *Instrument) int64 { return int64(i.DNA) },
		set: func(i *Instrument, v int64) { i.DNA = uint8(v) }},
	{code: "VS..", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.RandomVolume) },
		set: func(i *Instrument, v int64) { i.RandomVolume = min(int(v), 100) }},
	{code: "PS..", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.RandomPan) },
		set: func(i *Instrument, v int64) { i.RandomPan = min(int(v), 64) }},
	{code: "IFC.", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.CutOff) },
		set: func(i *Instrument, v int64) { i.CutOff = uint8(v) }},
	{code: "IFR.", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.Resonance) },
		set: func(i *Instrument, v int64) { i.Resonance = uint8(v) }},
	{code: "PPS.", kind: propInt, size: 1, signed: true,
		get: func(i *Instrument) int64 { return int64(i.PitchPanSeparation) },
		set: func(i *Instrument, v int64) { i.PitchPanSeparation = int8(min(max(v, -32), 32)) }},
	{code: "PPC.", kind: propInt, size: 1,
		get: func(i *Instrument) int64 { return int64(i.PitchPanCenter) },
		set: func(i *Instrument, v int64) { i.PitchPanCenter = Note(v) }},
	{code: "PVEH", kind: propEnum, size: 1, limit: 2,
		get: func(i *Instrument) int64 { return int64(i.PluginVelocityHandling) },
		set: func(i *Instrument, v int64) { i.PluginVelocityHandling = uint8(v) }},
	{code: "PVOH", kind: propEnum, size: 1, limit: 3,
		get: func(i *Instrument) int64 { return int64(i.PluginVolumeHandling) },
		set: func(i *Instrument, v int64) { i.PluginVolumeHandling = uint8(v) }},
	{code: "dF..", kind: propFlags, size: 4,
		get: func(i *Instrument) int64 {
			var f int64
			if i.SetPan {
				f |= insFlagSetPan
			}
			if i.Muted {
				f |= insFlagMute
			}
			return f
		},
		set: func(i *Instrument, v int64) {
			i.SetPan = v&insFlagSetPan != 0
			i.Muted = v&insFlagMute != 0
		}},
	{code: "PTTL", kind: propPitchLock, size: 2},
	{code: "PTTF", kind: propPitchLock, size: 2},
	{code: "VE..", kind: propEnvSize, size: 4, env: volEnv},
	{code: "VP[.", kind: propEnvTicks, env: volEnv},
	{code: "VE[.", kind: propEnvValues, env: volEnv},
	{code: "VERN", kind: propReleaseNode, size: 1, env: volEnv},
	{code: "PE..", kind: propEnvSize, size: 4, env: panEnv},
	{code: "PP[.", kind: propEnvTicks, env: panEnv},
	{code: "PE[.", kind: propEnvValues, env: panEnv},
	{code: "PERN", kind: propReleaseNode, size: 1, env: panEnv},
	{code: "PiE.", kind: propEnvSize, size: 4, env: pitchEnv},
	{code: "PiP[", kind: propEnvTicks, env: pitchEnv},
	{code: "PiE[", kind: propEnvValues, env: pitchEnv},
	{code: "AERN", kind: propReleaseNode, size: 1, env: pitchEnv},
}

var instrumentPropsByCode = func() map[uint32]*instrumentProp {
	m := make(map[uint32]*instrumentProp, len(instrumentProps))
	for i := range instrumentProps {
		m[extprop.Code(instrumentProps[i].code)] = &instrumentProps[i]
	}
	return m
}()

const pitchLockScale = 10000

// value returns an integer field of ins. Envelope kinds have no value.
func (p *instrumentProp) value(ins *Instrument) int64 {
	switch p.kind {
	case propPitchLock:
		if p.code == "PTTL" {
			return int64(ins.PitchToTempoLock / pitchLockScale)
		}
		return int64(ins.PitchToTempoLock % pitchLockScale)
	case propReleaseNode:
		return int64(p.env(ins).ReleaseNode)
	case propEnvSize:
		return int64(len(p.env(ins).Nodes))
	}
	return p.get(ins)
}

// need reports whether ins differs from def in this field.
func (p *instrumentProp) need(ins, def *Instrument) bool {
	switch p.kind {
	case propEnvTicks, propEnvValues:
		return len(p.env(ins).Nodes) > 0
	}
	return p.value(ins) != p.value(def)
}

// fieldSize returns the payload size per instrument when writing all.
func (p *instrumentProp) fieldSize(all []*Instrument) int {
	if p.kind != propEnvTicks && p.kind != propEnvValues {
		return p.size
	}
	nodes := 0
	for _, ins := range all {
		if ins != nil {
			nodes = max(nodes, len(p.env(ins).Nodes))
		}
	}
	if p.kind == propEnvTicks {
		return 2 * nodes
	}
	return nodes
}

func (p *instrumentProp) write(w *extprop.Writer, ins *Instrument, size int) {
	switch p.kind {
	case propEnvTicks, propEnvValues:
		b := make([]byte, size)
		for i, n := range p.env(ins).Nodes {
			if p.kind == propEnvTicks {
				b[2*i], b[2*i+1] = byte(n.Tick), byte(n.Tick>>8)
			} else {
				b[i] = n.Value
			}
		}
		w.Raw(b)
	default:
		w.Uint(uint64(p.value(ins)), size)
	}
}

// read decodes one payload of size bytes into ins.
func (p *instrumentProp) read(ins *Instrument, c *fieldreader.Cursor, size int) {
	switch p.kind {
	case propEnvTicks, propEnvValues:
		// the node count comes from the size field written before
		env := p.env(ins)
		n := size
		if p.kind == propEnvTicks {
			n /= 2
		}
		for i := 0; i < min(n, len(env.Nodes)); i++ {
			if p.kind == propEnvTicks {
				v, _ := c.ReadU16LE()
				env.Nodes[i].Tick = v
			} else {
				v, _ := c.ReadU8()
				env.Nodes[i].Value = min(v, 64)
			}
		}
		return
	}

	if size > 8 {
		return
	}
	v, ok := c.ReadSizedIntLE(size)
	if !ok {
		return
	}
	val := int64(v)
	if p.signed && size > 0 && size < 8 {
		shift := uint(64 - 8*size)
		val = int64(v<<shift) >> shift
	}
	switch p.kind {
	case propEnum:
		if val >= 0 && val < p.limit {
			p.set(ins, val)
		}
	case propEnvSize:
		env := p.env(ins)
		n := int(min(max(val, 0), MaxEnvelopeNodes))
		if n <= len(env.Nodes) {
			env.Nodes = env.Nodes[:n]
		} else {
			env.Nodes = append(env.Nodes, make([]EnvelopeNode, n-len(env.Nodes))...)
		}
	case propReleaseNode:
		p.env(ins).ReleaseNode = uint8(val)
	case propPitchLock:
		if p.code == "PTTL" {
			ins.PitchToTempoLock = uint32(val)*pitchLockScale + ins.PitchToTempoLock%pitchLockScale
		} else {
			ins.PitchToTempoLock = ins.PitchToTempoLock/pitchLockScale*pitchLockScale + uint32(min(val, pitchLockScale-1))
		}
	default:
		p.set(ins, val)
	}
}

// songProp describes one song field.
type songProp struct {
	code string
	size int
	get  func(*Song) int64
	set  func(*Song, int64)
}

var songProps = []songProp{
	{"DT..", 4, func(s *Song) int64 { return int64(s.Tempo) }, func(s *Song, v int64) { s.Tempo = int(v) }},
	{"RPB.", 4, func(s *Song) int64 { return int64(s.RowsPerBeat) }, func(s *Song, v int64) { s.RowsPerBeat = int(v) }},
	{"RPM.", 4, func(s *Song) int64 { return int64(s.RowsPerMeasure) }, func(s *Song, v int64) { s.RowsPerMeasure = int(v) }},
	{"SPA.", 4, func(s *Song) int64 { return int64(s.SampleVolume) }, func(s *Song, v int64) { s.SampleVolume = int(v) }},
	{"DGV.", 4, func(s *Song) int64 { return int64(s.GlobalVolume) },
		func(s *Song, v int64) { s.GlobalVolume = min(int(v), MaxGlobalVolume) }},
	{"RP..", 4,
		func(s *Song) int64 {
			if len(s.Sequences) == 0 {
				return 0
			}
			return int64(s.Sequences[0].Restart)
		},
		func(s *Song, v int64) {
			if len(s.Sequences) > 0 {
				s.Sequences[0].Restart = int(v)
			}
		}},
}

const songAuthorCode = "AUTH"

var defaultSong = Song{Tempo: defaultTempo, GlobalVolume: MaxGlobalVolume}

// WriteExtendedProperties writes the instrument and song fields of s that
// differ from their defaults.
func WriteExtendedProperties(w io.Writer, s *Song) error {
	var buf bytes.Buffer
	pw := extprop.NewWriter(&buf)
	def := NewInstrument()

	pw.Raw([]byte(instrumentPropsMagic))
	for i := range instrumentProps {
		p := &instrumentProps[i]
		needed := false
		for _, ins := range s.Instruments {
			if ins != nil && p.need(ins, def) {
				needed = true
				break
			}
		}
		if !needed {
			continue
		}
		size := p.fieldSize(s.Instruments)
		pw.Header(extprop.Code(p.code), size)
		for _, ins := range s.Instruments {
			if ins == nil {
				ins = def
			}
			p.write(pw, ins, size)
		}
	}

	pw.Raw([]byte(songPropsMagic))
	for _, p := range songProps {
		if v := p.get(s); v != p.get(&defaultSong) {
			pw.Header(extprop.Code(p.code), p.size)
			pw.Uint(uint64(v), p.size)
		}
	}
	if s.Artist != "" {
		pw.Entry(extprop.Code(songAuthorCode), []byte(s.Artist))
	}
	if err := pw.Err(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return errors.WithStack(err)
}

// readExtendedProperties decodes an extended property block if c starts
// with one. Unknown fields are skipped.
func (d *decoder) readExtendedProperties(c *fieldreader.Cursor) {
	if c.ReadMagic(instrumentPropsMagic) {
		d.readInstrumentProps(c)
	}
	if c.ReadMagic(songPropsMagic) {
		d.readSongProps(c)
	}
}

func (d *decoder) readInstrumentProps(c *fieldreader.Cursor) {
	ins := d.song.Instruments
	for {
		if b, ok := c.Peek(4); !ok || string(b) == songPropsMagic {
			return
		}
		code, size, ok := extprop.NextHeader(c)
		if !ok {
			return
		}
		p := instrumentPropsByCode[code]
		if p == nil {
			dumpf("skipping instrument property %q\n", extprop.Name(code))
		}
		for i := range ins {
			chunk := c.ReadChunk(size)
			if p != nil && ins[i] != nil {
				p.read(ins[i], chunk, size)
			}
		}
	}
}

func (d *decoder) readSongProps(c *fieldreader.Cursor) {
	for {
		e, ok := extprop.Next(c)
		if !ok {
			return
		}
		name := extprop.Name(e.Code)
		if name == songAuthorCode {
			d.song.Artist = utf8Name(e.Payload.Rest())
			continue
		}
		found := false
		for _, p := range songProps {
			if p.code != name || e.Size > 8 {
				continue
			}
			if v, ok := e.Payload.ReadSizedIntLE(e.Size); ok {
				p.set(d.song, int64(v))
			}
			found = true
		}
		if !found {
			dumpf("skipping song property %q\n", name)
		}
	}
}
