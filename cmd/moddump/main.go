package main

import (
	"flag"
	"log"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/chriskillpack/modload"
	"github.com/chriskillpack/modload/cmd/internal/config"
)

var (
	flagYAML   = flag.Bool("yaml", false, "print a YAML summary instead of the decode trace")
	flagLoad   = flag.String("load", "all", "how much to decode: header, patterns, samples or all")
	flagCodecs = flag.String("codecs", "all", "sample codecs to use, comma separated: mp3, vorbis, all or none")
)

type sampleSummary struct {
	Name      string `yaml:"name,omitempty"`
	Length    int    `yaml:"length"`
	Loop      []int  `yaml:"loop,flow,omitempty"`
	C5Speed   int    `yaml:"c5speed,omitempty"`
	Volume    int    `yaml:"volume"`
	Bits      int    `yaml:"bits"`
	Channels  int    `yaml:"channels"`
	Codec     string `yaml:"codec,omitempty"`
	Decoded   bool   `yaml:"decoded"`
	OPLPatch  bool   `yaml:"opl,omitempty"`
	Reference int    `yaml:"sharedHeader,omitempty"`
}

type sequenceSummary struct {
	Name    string `yaml:"name,omitempty"`
	Orders  []int  `yaml:"orders,flow"`
	Restart int    `yaml:"restart,omitempty"`
}

type songSummary struct {
	Title        string            `yaml:"title"`
	Artist       string            `yaml:"artist,omitempty"`
	Tracker      string            `yaml:"tracker,omitempty"`
	Format       string            `yaml:"format"`
	Container    string            `yaml:"container"`
	Channels     int               `yaml:"channels"`
	Speed        int               `yaml:"speed"`
	Tempo        int               `yaml:"tempo"`
	GlobalVolume int               `yaml:"globalVolume"`
	Sequences    []sequenceSummary `yaml:"sequences"`
	Patterns     []int             `yaml:"patternRows,flow"`
	Instruments  []string          `yaml:"instruments,omitempty"`
	Samples      []sampleSummary   `yaml:"samples,omitempty"`
	Message      string            `yaml:"message,omitempty"`
	Warnings     []string          `yaml:"warnings,omitempty"`
}

func summarize(song *modload.Song) songSummary {
	s := songSummary{
		Title:        song.Title,
		Artist:       song.Artist,
		Tracker:      song.Tracker,
		Format:       song.Format.String(),
		Container:    song.Container.String(),
		Channels:     song.Channels,
		Speed:        song.Speed,
		Tempo:        song.Tempo,
		GlobalVolume: song.GlobalVolume,
		Message:      song.Message,
	}
	for _, seq := range song.Sequences {
		ss := sequenceSummary{Name: seq.Name, Restart: seq.Restart}
		for _, o := range seq.Orders {
			ss.Orders = append(ss.Orders, int(o))
		}
		s.Sequences = append(s.Sequences, ss)
	}
	for _, p := range song.Patterns {
		s.Patterns = append(s.Patterns, p.Rows)
	}
	for _, ins := range song.Instruments {
		name := ""
		if ins != nil {
			name = ins.Name
		}
		s.Instruments = append(s.Instruments, name)
	}
	for i := range song.Samples {
		smp := &song.Samples[i]
		ss := sampleSummary{
			Name:     smp.Name,
			Length:   smp.Length,
			C5Speed:  smp.C5Speed,
			Volume:   smp.Volume,
			Bits:     8,
			Channels: smp.Channels(),
			Decoded:  smp.HasData(),
			OPLPatch: smp.OPL != nil,
		}
		if smp.Is16Bit() {
			ss.Bits = 16
		}
		if smp.Flags&modload.SampleLoop != 0 {
			ss.Loop = []int{smp.LoopStart, smp.LoopEnd}
		}
		if smp.Payload != nil {
			ss.Codec = smp.Payload.Codec.String()
			ss.Reference = smp.Payload.SharedHeader
		}
		s.Samples = append(s.Samples, ss)
	}
	for _, w := range song.Warnings {
		s.Warnings = append(s.Warnings, w.String())
	}
	return s
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("moddump: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("Missing song filename")
	}

	opts, err := config.OptionsFromFlags(*flagLoad, *flagCodecs)
	if err != nil {
		log.Fatal(err)
	}

	songF, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	if !*flagYAML {
		modload.SetDumpWriter(os.Stdout)
	}
	song, err := modload.LoadWithOptions(songF, opts)
	if err != nil {
		log.Fatal(err)
	}

	if *flagYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(summarize(song)); err != nil {
			log.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			log.Fatal(err)
		}
		return
	}

	warn := color.New(color.FgYellow)
	for _, w := range song.Warnings {
		warn.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}
