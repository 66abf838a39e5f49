package modload

import "testing"

func TestPlaceCombinesEffects(t *testing.T) {
	tr := Translator{Format: FormatMOD}
	var c Cell
	tr.PlaceCell(&c, EffectTonePorta, 0)
	if !tr.PlaceCell(&c, EffectVolumeSlide, 0x05) {
		t.Fatalf("Expected the slide to be placed")
	}
	if c.Command != EffectTonePortaVol || c.Param != 0x05 {
		t.Errorf("Expected tone portamento with volume slide, got %s", c)
	}
}

func TestPlaceMovesToVolumeColumn(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		first  Effect
		fparam uint8
		second Effect
		sparam uint8
		want   Cell
		placed bool
	}{
		{"old effect moves", FormatXM, EffectVolume, 0x30, EffectVibrato, 0x44,
			Cell{VolCmd: VolVolume, Vol: 0x30, Command: EffectVibrato, Param: 0x44}, true},
		{"new effect moves", FormatXM, EffectArpeggio, 0x37, EffectPortaUp, 0x08,
			Cell{VolCmd: VolPortaUp, Vol: 2, Command: EffectArpeggio, Param: 0x37}, true},
		{"S3M has no slide column", FormatS3M, EffectArpeggio, 0x37, EffectVolumeSlide, 0x04,
			Cell{Command: EffectArpeggio, Param: 0x37}, false},
		{"S3M panning", FormatS3M, EffectSpeed, 3, EffectPanning8, 0x80,
			Cell{VolCmd: VolPanning, Vol: 32, Command: EffectSpeed, Param: 3}, true},
		{"inexact conversion is dropped", FormatXM, EffectArpeggio, 0x37, EffectPortaUp, 0x07,
			Cell{Command: EffectArpeggio, Param: 0x37}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := Translator{Format: tc.format}
			var c Cell
			tr.PlaceCell(&c, tc.first, tc.fparam)
			if placed := tr.PlaceCell(&c, tc.second, tc.sparam); placed != tc.placed {
				t.Errorf("Expected placed=%v", tc.placed)
			}
			if c != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, c)
			}
		})
	}
}

func TestSetWideParam(t *testing.T) {
	tr := Translator{Format: FormatMED}
	p := NewPattern(4, 2)

	tr.SetWideParam(&p, 0, 0, EffectTempo, 0x1F4)
	if c := p.Cell(0, 0); c.Command != EffectTempo || c.Param != 0x01 {
		t.Errorf("Expected high byte on row 0, got %s", c)
	}
	if c := p.Cell(1, 0); c.Command != EffectXParam || c.Param != 0xF4 {
		t.Errorf("Expected low byte on row 1, got %s", c)
	}

	// last row: no room for the low byte
	tr.SetWideParam(&p, 3, 1, EffectTempo, 300)
	if c := p.Cell(3, 1); c.Param != 0xFF {
		t.Errorf("Expected a saturated tempo, got %s", c)
	}

	tr.SetWideParam(&p, 2, 1, EffectTempo, 200)
	if c := p.Cell(2, 1); c.Command != EffectTempo || c.Param != 200 {
		t.Errorf("Expected a plain tempo, got %s", c)
	}
}
