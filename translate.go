package modload

// volTonePortaSpeeds are the tone portamento speeds the volume column can
// express, indexed by the volume column parameter.
var volTonePortaSpeeds = [10]uint8{0x00, 0x01, 0x04, 0x08, 0x10, 0x20, 0x40, 0x60, 0x80, 0xFF}

// effectToVolume expresses an effect as a volume column command. Without
// force the conversion fails unless it is exact; with force the parameter is
// approximated.
func effectToVolume(e Effect, param uint8, force bool) (VolumeCommand, uint8, bool) {
	switch e {
	case EffectVolume:
		return VolVolume, min(param, 64), true
	case EffectPortaUp, EffectPortaDown:
		if param%4 != 0 || param > 9*4 {
			if !force {
				return VolNone, 0, false
			}
			param = min(param, 9*4)
		}
		if e == EffectPortaUp {
			return VolPortaUp, param / 4, true
		}
		return VolPortaDown, param / 4, true
	case EffectTonePorta:
		for i, speed := range volTonePortaSpeeds {
			if speed == param || (force && speed >= param) {
				return VolTonePorta, uint8(i), true
			}
		}
		return VolNone, 0, false
	case EffectVibrato:
		if param&0xF0 != 0 || param&0x0F > 9 {
			if !force {
				return VolNone, 0, false
			}
		}
		return VolVibratoDepth, min(param&0x0F, 9), true
	case EffectFineVibrato:
		if param != 0 && !force {
			return VolNone, 0, false
		}
		return VolVibratoDepth, 0, true
	case EffectVolumeSlide:
		switch {
		case param == 0:
			return VolNone, 0, false
		case param&0x0F == 0:
			return VolSlideUp, param >> 4, true
		case param&0xF0 == 0:
			return VolSlideDown, param, true
		case param&0x0F == 0x0F:
			return VolFineUp, param >> 4, true
		case param&0xF0 == 0xF0:
			return VolFineDown, param & 0x0F, true
		}
		return VolNone, 0, false
	case EffectPanning8:
		if param == 0xFF {
			return VolPanning, 64, true
		}
		return VolPanning, param / 4, true
	case EffectModCmdEx, EffectS3MCmdEx:
		switch param >> 4 {
		case 0x8:
			return VolPanning, uint8((int(param&0x0F)*64 + 8) / 15), true
		case 0xA:
			if e == EffectModCmdEx {
				return VolFineUp, param & 0x0F, true
			}
		case 0xB:
			if e == EffectModCmdEx {
				return VolFineDown, param & 0x0F, true
			}
		}
	}
	return VolNone, 0, false
}

// combineEffects merges two effects that together form one command.
func combineEffects(old Effect, oldParam uint8, e Effect, param uint8) (Effect, uint8, bool) {
	switch {
	case old == EffectTonePorta && oldParam == 0 && e == EffectVolumeSlide:
		return EffectTonePortaVol, param, true
	case old == EffectVibrato && oldParam == 0 && e == EffectVolumeSlide:
		return EffectVibratoVol, param, true
	case old == EffectVolumeSlide && e == EffectTonePorta && param == 0:
		return EffectTonePortaVol, oldParam, true
	case old == EffectVolumeSlide && e == EffectVibrato && param == 0:
		return EffectVibratoVol, oldParam, true
	}
	return EffectNone, 0, false
}

// Translator places effects into pattern cells following the conventions of
// the tracker they came from.
type Translator struct {
	Format Format
}

// hasVolumeColumn reports whether the origin format can hold cmd in its
// volume column.
func (t Translator) hasVolumeColumn(cmd VolumeCommand) bool {
	switch t.Format {
	case FormatXM, FormatIT, FormatMO3:
		return true
	case FormatS3M:
		return cmd == VolVolume || cmd == VolPanning
	}
	return cmd == VolVolume
}

func (t Translator) toVolume(e Effect, param uint8) (VolumeCommand, uint8, bool) {
	vc, vp, ok := effectToVolume(e, param, false)
	if !ok || !t.hasVolumeColumn(vc) {
		return VolNone, 0, false
	}
	return vc, vp, true
}

// Place writes e into the cell at (row, ch). When the cell already holds an
// effect the two are merged into a combined command if one exists.
// Otherwise the older effect moves to a free volume column, or failing that
// the new one does. Place returns false if e had to be dropped.
func (t Translator) Place(p *Pattern, row, ch int, e Effect, param uint8) bool {
	return t.PlaceCell(p.Cell(row, ch), e, param)
}

// PlaceCell is Place for a cell outside a pattern.
func (t Translator) PlaceCell(c *Cell, e Effect, param uint8) bool {
	if e == EffectNone {
		return true
	}
	if c.Command == EffectNone {
		c.Command, c.Param = e, param
		return true
	}
	if ce, cp, ok := combineEffects(c.Command, c.Param, e, param); ok {
		c.Command, c.Param = ce, cp
		return true
	}
	if c.VolCmd == VolNone {
		if vc, vp, ok := t.toVolume(c.Command, c.Param); ok {
			c.VolCmd, c.Vol = vc, vp
			c.Command, c.Param = e, param
			return true
		}
		if vc, vp, ok := t.toVolume(e, param); ok {
			c.VolCmd, c.Vol = vc, vp
			return true
		}
	}
	dumpf("dropped %c%02X, cell holds %s\n", e.Letter(), param, c)
	return false
}

// SetWideParam writes an effect whose parameter may exceed 8 bits. The high
// byte goes into (row, ch) and the low byte into the same channel of the
// next row as EffectXParam. When there is no next row, or its effect column
// is taken, the parameter saturates at 255.
func (t Translator) SetWideParam(p *Pattern, row, ch int, e Effect, value int) bool {
	value = min(max(value, 0), 0xFFFF)
	if value <= 0xFF {
		return t.Place(p, row, ch, e, uint8(value))
	}
	if row+1 >= p.Rows || p.Cell(row+1, ch).Command != EffectNone {
		return t.Place(p, row, ch, e, 0xFF)
	}
	if !t.Place(p, row, ch, e, uint8(value>>8)) {
		return false
	}
	next := p.Cell(row+1, ch)
	next.Command, next.Param = EffectXParam, uint8(value)
	return true
}
