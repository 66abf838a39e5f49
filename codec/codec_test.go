package codec

import (
	"slices"
	"testing"
)

func TestMono(t *testing.T) {
	p := &PCM{Data: []int16{100, 300, -4, 0, 32767, 32767}, Channels: 2, SampleRate: 44100}
	m := Mono(p)
	if m.Channels != 1 || m.SampleRate != 44100 {
		t.Fatalf("Unexpected format %d ch %d Hz", m.Channels, m.SampleRate)
	}
	if want := []int16{200, -2, 32767}; !slices.Equal(m.Data, want) {
		t.Errorf("Expected %v, got %v", want, m.Data)
	}
	if Mono(m) != m {
		t.Error("Mono of a mono buffer should be a no-op")
	}
}

func TestTrim(t *testing.T) {
	p := &PCM{Data: []int16{1, 2, 3, 4, 5, 6}, Channels: 2}
	if got := Trim(p, 1).Data; !slices.Equal(got, []int16{3, 4, 5, 6}) {
		t.Errorf("Expected [3 4 5 6], got %v", got)
	}
	if got := Trim(p, 10).Frames(); got != 0 {
		t.Errorf("Expected empty buffer, got %d frames", got)
	}
}

func TestFloatToInt16(t *testing.T) {
	for _, tc := range []struct {
		in   float32
		want int16
	}{{0, 0}, {1, 32767}, {-1, -32767}, {2, 32767}, {-2, -32768}, {0.5, 16384}} {
		if got := floatToInt16(tc.in); got != tc.want {
			t.Errorf("floatToInt16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestGarbage(t *testing.T) {
	if _, err := (Vorbis{}).Decode([]byte("not an ogg stream")); err == nil {
		t.Error("Expected an error decoding garbage as Vorbis")
	}
}
