package modload

// Raw effect numbers of the MOD/XM command set that need special handling.
const (
	modfxArpeggio     = 0x0
	modfxTonePortaVol = 0x5
	modfxVibratoVol   = 0x6
	modfxVolumeSlide  = 0xA
	modfxPatternBreak = 0xD
	modfxSetSpeed     = 0xF
	xmfxExtraFine     = 0x21 // X
)

var modEffects = [...]Effect{
	0x00: EffectArpeggio,
	0x01: EffectPortaUp,
	0x02: EffectPortaDown,
	0x03: EffectTonePorta,
	0x04: EffectVibrato,
	0x05: EffectTonePortaVol,
	0x06: EffectVibratoVol,
	0x07: EffectTremolo,
	0x08: EffectPanning8,
	0x09: EffectOffset,
	0x0A: EffectVolumeSlide,
	0x0B: EffectPositionJump,
	0x0C: EffectVolume,
	0x0D: EffectPatternBreak,
	0x0E: EffectModCmdEx,
	0x0F: EffectSpeed,
	0x10: EffectGlobalVolume,   // G
	0x11: EffectGlobalVolSlide, // H
	0x14: EffectKeyOff,         // K
	0x15: EffectSetEnvPosition, // L
	0x19: EffectPanningSlide,   // P
	0x1B: EffectRetrig,         // R
	0x1D: EffectTremor,         // T
	0x21: EffectXFinePortaUpDown,
	0x22: EffectPanbrello, // Y
	0x23: EffectMidi,      // Z
	0x24: EffectSmoothMidi,
}

// convertMODEffect maps a MOD or XM effect to the unified command set. Only
// the MOD effects 0..F are accepted unless xm is set.
func convertMODEffect(cmd, param uint8, xm bool) (Effect, uint8) {
	if int(cmd) >= len(modEffects) || (!xm && cmd > 0x0F) {
		return EffectNone, 0
	}
	e := modEffects[cmd]
	switch cmd {
	case modfxArpeggio:
		if param == 0 {
			return EffectNone, 0
		}
	case modfxTonePortaVol, modfxVibratoVol, modfxVolumeSlide:
		// up takes precedence over down
		if param&0xF0 != 0 {
			param &= 0xF0
		}
	case modfxPatternBreak:
		param = bcdToBinary(param)
	case modfxSetSpeed:
		if param >= 0x20 {
			e = EffectTempo
		}
	case xmfxExtraFine:
		switch param >> 4 {
		case 1:
			param = 0x10 | param&0x0F
		case 2:
			param = 0x20 | param&0x0F
		default:
			return EffectNone, 0
		}
	}
	return e, param
}

var s3mEffects = [...]Effect{
	EffectNone,
	EffectSpeed,           // A
	EffectPositionJump,    // B
	EffectPatternBreak,    // C
	EffectVolumeSlide,     // D
	EffectPortaDown,       // E
	EffectPortaUp,         // F
	EffectTonePorta,       // G
	EffectVibrato,         // H
	EffectTremor,          // I
	EffectArpeggio,        // J
	EffectVibratoVol,      // K
	EffectTonePortaVol,    // L
	EffectChannelVolume,   // M
	EffectChannelVolSlide, // N
	EffectOffset,          // O
	EffectPanningSlide,    // P
	EffectRetrig,          // Q
	EffectTremolo,         // R
	EffectS3MCmdEx,        // S
	EffectTempo,           // T
	EffectFineVibrato,     // U
	EffectGlobalVolume,    // V
	EffectGlobalVolSlide,  // W
	EffectPanning8,        // X
	EffectPanbrello,       // Y
	EffectMidi,            // Z
	EffectSmoothMidi,      // '\'
}

// convertS3MEffect maps an S3M or IT effect letter (A = 1) to the unified
// command set. S3M stores pattern breaks in BCD, IT in binary.
func convertS3MEffect(cmd, param uint8, it bool) (Effect, uint8) {
	if int(cmd) >= len(s3mEffects) {
		return EffectNone, 0
	}
	e := s3mEffects[cmd]
	if e == EffectPatternBreak && !it {
		param = bcdToBinary(param)
	}
	return e, param
}

// bcdToBinary decodes a two digit BCD value.
func bcdToBinary(v uint8) uint8 {
	return (v>>4)*10 + v&0x0F
}

// xmVolumeEffects are the XM volume column commands 0x6x..0xFx.
var xmVolumeEffects = [...]VolumeCommand{
	VolSlideDown, VolSlideUp, VolFineDown, VolFineUp,
	VolVibratoSpeed, VolVibratoDepth, VolPanning,
	VolPanSlideLeft, VolPanSlideRight, VolTonePorta,
}

// convertXMVolume decodes an XM volume column byte.
func convertXMVolume(v uint8) (VolumeCommand, uint8) {
	switch {
	case v >= 0x10 && v <= 0x50:
		return VolVolume, v - 0x10
	case v >= 0x60:
		cmd := xmVolumeEffects[(v-0x60)>>4]
		param := v & 0x0F
		if cmd == VolPanning {
			param *= 4
		}
		return cmd, param
	}
	return VolNone, 0
}

// mo3Effects maps MO3 track commands from 0x03 on. 0x01 (note), 0x02
// (instrument), 0x0F (volume) and 0x22 (raw XM volume column) are handled by
// the track reader.
var mo3Effects = [...]Effect{
	0x03: EffectArpeggio,
	0x04: EffectPortaUp,
	0x05: EffectPortaDown,
	0x06: EffectTonePorta,
	0x07: EffectVibrato,
	0x08: EffectTonePortaVol,
	0x09: EffectVibratoVol,
	0x0A: EffectTremolo,
	0x0B: EffectPanning8,
	0x0C: EffectOffset,
	0x0D: EffectVolumeSlide,
	0x0E: EffectPositionJump,
	0x0F: EffectVolume,
	0x10: EffectPatternBreak,
	0x11: EffectModCmdEx,
	0x12: EffectSpeed,
	0x13: EffectTremor,
	0x14: EffectRetrig,
	0x15: EffectFineVibrato,
	0x16: EffectChannelVolume,
	0x17: EffectChannelVolSlide,
	0x18: EffectPanningSlide,
	0x19: EffectS3MCmdEx,
	0x1A: EffectTempo,
	0x1B: EffectGlobalVolume,
	0x1C: EffectGlobalVolSlide,
	0x1D: EffectKeyOff,
	0x1E: EffectSetEnvPosition,
	0x1F: EffectPanbrello,
	0x20: EffectMidi,
	0x21: EffectSmoothMidi,
	0x23: EffectXFinePortaUpDown,
	0x24: EffectXParam,
}

// convertMO3Effect maps an MO3 track command. Parameters keep the
// conventions of the format the module was converted from.
func convertMO3Effect(cmd, param uint8, origin Format) (Effect, uint8) {
	if int(cmd) >= len(mo3Effects) {
		return EffectNone, 0
	}
	e := mo3Effects[cmd]
	modLike := origin == FormatMOD || origin == FormatXM || origin == FormatMTM
	switch e {
	case EffectArpeggio:
		if modLike && param == 0 {
			return EffectNone, 0
		}
	case EffectPatternBreak:
		if modLike {
			param = bcdToBinary(param)
		}
	case EffectSpeed:
		if modLike && param >= 0x20 {
			e = EffectTempo
		}
	}
	return e, param
}
