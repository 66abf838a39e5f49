// Package codec decodes the externally coded sample payloads found in MO3
// files into 16-bit PCM.
package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/pkg/errors"
)

// PCM is decoded interleaved audio.
type PCM struct {
	Data       []int16
	Channels   int
	SampleRate int
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Data) / p.Channels
}

// Decoder turns one compressed payload into PCM.
type Decoder interface {
	Decode(data []byte) (*PCM, error)
}

// MP3 decodes MPEG-1/2 layer III streams. The output is always stereo.
type MP3 struct{}

func (MP3) Decode(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "mp3")
	}
	raw, err := io.ReadAll(dec)
	if err != nil && len(raw) == 0 {
		return nil, errors.Wrap(err, "mp3")
	}
	pcm := &PCM{
		Data:       make([]int16, len(raw)/2),
		Channels:   2,
		SampleRate: dec.SampleRate(),
	}
	for i := range pcm.Data {
		pcm.Data[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return pcm, nil
}

// Vorbis decodes Ogg Vorbis streams.
type Vorbis struct{}

func (Vorbis) Decode(data []byte) (*PCM, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil && len(samples) == 0 {
		return nil, errors.Wrap(err, "vorbis")
	}
	if format == nil || format.Channels <= 0 {
		return nil, errors.New("vorbis: missing stream format")
	}
	pcm := &PCM{
		Data:       make([]int16, len(samples)),
		Channels:   format.Channels,
		SampleRate: format.SampleRate,
	}
	for i, s := range samples {
		pcm.Data[i] = floatToInt16(s)
	}
	return pcm, nil
}

func floatToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	return int16(min(max(v, -32768), 32767))
}

// Mono mixes a stereo buffer down to one channel.
func Mono(p *PCM) *PCM {
	if p.Channels != 2 {
		return p
	}
	out := &PCM{Data: make([]int16, p.Frames()), Channels: 1, SampleRate: p.SampleRate}
	for i := range out.Data {
		out.Data[i] = int16((int(p.Data[2*i]) + int(p.Data[2*i+1])) / 2)
	}
	return out
}

// Trim drops the first frames of p, e.g. the encoder delay of an MP3 stream.
func Trim(p *PCM, frames int) *PCM {
	frames = min(max(frames, 0), p.Frames())
	return &PCM{Data: p.Data[frames*p.Channels:], Channels: p.Channels, SampleRate: p.SampleRate}
}
