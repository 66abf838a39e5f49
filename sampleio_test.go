package modload

import (
	"slices"
	"testing"

	"github.com/chriskillpack/modload/internal/fieldreader"
)

func TestSampleEncodings(t *testing.T) {
	tests := []struct {
		name   string
		enc    sampleEncoding
		frames int
		src    []byte
		want8  []int8
		want16 []int16
	}{
		{"signed 8", sampleEncoding{bits: 8, channels: 1}, 3, []byte{0x01, 0xFF, 0x80}, []int8{1, -1, -128}, nil},
		{"unsigned 8", sampleEncoding{bits: 8, channels: 1, unsigned: true}, 3, []byte{0x80, 0x00, 0xFF}, []int8{0, -128, 127}, nil},
		{"delta 8", sampleEncoding{bits: 8, channels: 1, delta: true}, 4, []byte{5, 5, 0xFE, 0xF4}, []int8{5, 10, 8, -4}, nil},
		{"split stereo 8", sampleEncoding{bits: 8, channels: 2, split: true}, 2, []byte{1, 2, 3, 4}, []int8{1, 3, 2, 4}, nil},
		{"interleaved stereo 8", sampleEncoding{bits: 8, channels: 2}, 2, []byte{1, 2, 3, 4}, []int8{1, 2, 3, 4}, nil},
		{"little endian 16", sampleEncoding{bits: 16, channels: 1}, 2, []byte{0x34, 0x12, 0xFF, 0xFF}, nil, []int16{0x1234, -1}},
		{"big endian 16", sampleEncoding{bits: 16, channels: 1, bigEndian: true}, 2, []byte{0x12, 0x34, 0x80, 0x00}, nil, []int16{0x1234, -32768}},
		{"unsigned 16", sampleEncoding{bits: 16, channels: 1, unsigned: true}, 2, []byte{0x00, 0x80, 0x00, 0x00}, nil, []int16{0, -32768}},
		{"delta split stereo 16", sampleEncoding{bits: 16, channels: 2, split: true, delta: true}, 2,
			[]byte{10, 0, 1, 0, 20, 0, 2, 0}, nil, []int16{10, 20, 11, 22}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &Sample{Length: tc.frames}
			c := fieldreader.New(tc.src)
			if !tc.enc.read(s, c) {
				t.Fatalf("Expected a complete read")
			}
			if c.Remaining() != 0 {
				t.Errorf("Expected all %d bytes consumed, %d left", len(tc.src), c.Remaining())
			}
			if tc.want8 != nil && !slices.Equal(s.Data, tc.want8) {
				t.Errorf("Expected %v, got %v", tc.want8, s.Data)
			}
			if tc.want16 != nil && !slices.Equal(s.Data16, tc.want16) {
				t.Errorf("Expected %v, got %v", tc.want16, s.Data16)
			}
		})
	}
}

func TestSampleReadTruncated(t *testing.T) {
	s := &Sample{Length: 4, LoopStart: 1, LoopEnd: 4, Flags: SampleLoop}
	enc := sampleEncoding{bits: 8, channels: 1}
	if enc.read(s, fieldreader.New([]byte{7, 8})) {
		t.Errorf("Expected a short read to report false")
	}
	if s.Length != 2 || !slices.Equal(s.Data, []int8{7, 8}) {
		t.Errorf("Expected the sample cut to the 2 stored frames, got %d %v", s.Length, s.Data)
	}
	if s.LoopStart != 1 || s.LoopEnd != 2 {
		t.Errorf("Expected the loop clamped to 1-2, got %d-%d", s.LoopStart, s.LoopEnd)
	}
}

func TestSampleReadHugeLength(t *testing.T) {
	tests := []struct {
		name   string
		enc    sampleEncoding
		length int
	}{
		{"8 bit", sampleEncoding{bits: 8, channels: 1, delta: true}, 0x7FFFFFF0},
		{"16 bit stereo", sampleEncoding{bits: 16, channels: 2, split: true}, 0xFFFFFFFC / 4},
		{"adpcm", sampleEncoding{bits: 8, channels: 1, adpcm: true}, 0x7FFFFFF0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &Sample{Length: tc.length}
			c := fieldreader.New(make([]byte, 20))
			if tc.enc.read(s, c) {
				t.Errorf("Expected a short read to report false")
			}
			want := tc.enc.available(20)
			if s.Length != want || len(s.Data)+len(s.Data16) != want*tc.enc.channels {
				t.Errorf("Expected %d frames, got length %d with %d values", want, s.Length, len(s.Data)+len(s.Data16))
			}
			if c.Remaining() != 0 {
				t.Errorf("Expected the cursor at the end, %d bytes left", c.Remaining())
			}
		})
	}
}

func TestSampleReadTruncatedSplitStereo(t *testing.T) {
	// 4 declared frames: left 1 2 3 4 then only two right values
	s := &Sample{Length: 4}
	enc := sampleEncoding{bits: 8, channels: 2, split: true}
	if enc.read(s, fieldreader.New([]byte{1, 2, 3, 4, 5, 6})) {
		t.Errorf("Expected a short read to report false")
	}
	want := []int8{1, 5, 2, 6, 3, 0}
	if s.Length != 3 || !slices.Equal(s.Data, want) {
		t.Errorf("Expected %v, got %d frames %v", want, s.Length, s.Data)
	}
}

func TestADPCM(t *testing.T) {
	table := []byte{0, 1, 2, 3, 4, 5, 6, 7, 0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF}
	src := append(table, 0x21, 0x8F)
	enc := sampleEncoding{bits: 8, channels: 1, adpcm: true}
	if enc.size(4) != 18 {
		t.Errorf("Expected 18 bytes for 4 frames, got %d", enc.size(4))
	}
	s := &Sample{Length: 4}
	if !enc.read(s, fieldreader.New(src)) {
		t.Fatalf("Expected a complete read")
	}
	// nibbles 1, 2, F, 8 give deltas 1, 2, -1, -8
	want := []int8{1, 3, 2, -6}
	if !slices.Equal(s.Data, want) {
		t.Errorf("Expected %v, got %v", want, s.Data)
	}
}
