package modload

// Effect is a pattern effect in the unified command space all loaders
// translate into. Parameters keep the meaning of the tracker the effect
// came from unless noted.
type Effect uint8

const (
	EffectNone Effect = iota
	EffectArpeggio
	EffectPortaUp
	EffectPortaDown
	EffectTonePorta
	EffectVibrato
	EffectTonePortaVol
	EffectVibratoVol
	EffectTremolo
	EffectPanning8 // 0..255
	EffectOffset
	EffectVolumeSlide
	EffectPositionJump
	EffectVolume
	EffectPatternBreak // binary row number
	EffectRetrig
	EffectSpeed
	EffectTempo
	EffectTremor
	EffectModCmdEx // MOD/XM Exy
	EffectS3MCmdEx // S3M/IT Sxy
	EffectChannelVolume
	EffectChannelVolSlide
	EffectGlobalVolume
	EffectGlobalVolSlide
	EffectKeyOff
	EffectFineVibrato
	EffectPanbrello
	EffectXFinePortaUpDown
	EffectPanningSlide
	EffectSetEnvPosition
	EffectMidi
	EffectSmoothMidi
	EffectDelayCut
	EffectXParam // low byte of the wide parameter started on the previous row
	EffectFineTune
	EffectFineTuneSmooth
	EffectNoteSlideUp
	EffectNoteSlideDown
	EffectFilterCutoff // MED filter on/off

	numEffects
)

// effectLetters are the column letters used when printing cells.
const effectLetters = ".JFEGHLKRXODBvCQATIsSMNVW=UY!PjZ\\:#+*{}l"

// Letter returns the character shown for the effect in pattern dumps.
func (e Effect) Letter() byte {
	if e >= numEffects {
		return '?'
	}
	return effectLetters[e]
}

// VolumeCommand is a volume column command.
type VolumeCommand uint8

const (
	VolNone VolumeCommand = iota
	VolVolume
	VolPanning
	VolSlideUp
	VolSlideDown
	VolFineUp
	VolFineDown
	VolVibratoSpeed
	VolVibratoDepth
	VolPanSlideLeft
	VolPanSlideRight
	VolTonePorta
	VolPortaUp
	VolPortaDown
	VolOffset

	numVolumeCommands
)

const volumeLetters = ".vpcdabuhlrgfeo"

// Letter returns the character shown for the command in pattern dumps.
func (v VolumeCommand) Letter() byte {
	if v >= numVolumeCommands {
		return '?'
	}
	return volumeLetters[v]
}
