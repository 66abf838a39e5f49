// Writes the samples of a tracker module to WAVE files (16-bit PCM), one file
// per sample.

package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chriskillpack/modload"
	"github.com/chriskillpack/modload/cmd/internal/config"
)

const defaultHz = 8363

var (
	flagOut    = flag.String("out", ".", "directory the WAVE files are written to")
	flagSample = flag.Int("sample", 0, "only write this sample (1-based), 0 for all")
	flagCodecs = flag.String("codecs", "all", "sample codecs to use, comma separated: mp3, vorbis, all or none")
)

// sampleRate returns the playback rate of C-5 for s.
func sampleRate(s *modload.Sample) int {
	if s.C5Speed > 0 {
		return s.C5Speed
	}
	// Relative tone and finetune in 1/128 semitones, as XM stores them
	semis := float64(s.RelativeTone) + float64(s.FineTune)/128
	hz := defaultHz * math.Pow(2, semis/12)
	return int(math.Round(hz))
}

// pcm returns the sample data widened to 16 bits.
func pcm(s *modload.Sample) []int {
	if s.Is16Bit() {
		out := make([]int, len(s.Data16))
		for i, v := range s.Data16 {
			out[i] = int(v)
		}
		return out
	}
	out := make([]int, len(s.Data))
	for i, v := range s.Data {
		out[i] = int(v) << 8
	}
	return out
}

func fileName(base string, n int, s *modload.Sample) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 32 {
			return '_'
		}
		return r
	}, strings.TrimSpace(s.Name))
	if name == "" {
		return fmt.Sprintf("%s-%02d.wav", base, n)
	}
	return fmt.Sprintf("%s-%02d-%s.wav", base, n, name)
}

func writeSample(path string, s *modload.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rate := sampleRate(s)
	enc := wav.NewEncoder(f, rate, 16, s.Channels(), 1)
	buf := &audio.IntBuffer{
		Data:           pcm(s),
		Format:         &audio.Format{SampleRate: rate, NumChannels: s.Channels()},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("modwav: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("Missing song filename")
	}

	codecs, err := config.CodecsFromFlag(*flagCodecs)
	if err != nil {
		log.Fatal(err)
	}

	songFName := flag.Arg(0)
	songF, err := os.ReadFile(songFName)
	if err != nil {
		log.Fatal(err)
	}

	song, err := modload.LoadWithOptions(songF, modload.Options{Flags: modload.LoadSampleData, Codecs: codecs})
	if err != nil {
		log.Fatal(err)
	}
	for _, w := range song.Warnings {
		log.Printf("warning: %s", w)
	}

	base := strings.TrimSuffix(filepath.Base(songFName), filepath.Ext(songFName))
	written := 0
	for i := range song.Samples {
		n := i + 1
		if *flagSample != 0 && n != *flagSample {
			continue
		}
		s := &song.Samples[i]
		if !s.HasData() {
			continue
		}
		path := filepath.Join(*flagOut, fileName(base, n, s))
		if err := writeSample(path, s); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s\t%d frames\t%d Hz\n", path, s.Length, sampleRate(s))
		written++
	}
	if written == 0 {
		log.Fatal("No sample data to write")
	}
}
