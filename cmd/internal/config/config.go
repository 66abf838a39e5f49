package config

import (
	"fmt"
	"strings"

	"github.com/chriskillpack/modload"
	"github.com/chriskillpack/modload/codec"
)

// CodecsFromFlag selects the sample decoders named by a comma separated
// flag value: mp3, vorbis, all or none.
func CodecsFromFlag(codecs string) (c modload.SampleCodecs, err error) {
	for _, name := range strings.Split(codecs, ",") {
		switch strings.TrimSpace(name) {
		case "all":
			c = modload.DefaultCodecs
		case "mp3":
			c.MP3 = codec.MP3{}
		case "vorbis", "ogg":
			c.Vorbis = codec.Vorbis{}
		case "none", "":
			// Payloads stay undecoded
		default:
			return modload.SampleCodecs{}, fmt.Errorf("unrecognized codec %q", name)
		}
	}
	return c, nil
}

// LoadFlagsFromFlag maps the -load flag value to how much of a file is
// decoded.
func LoadFlagsFromFlag(load string) (f modload.LoadFlags, err error) {
	switch load {
	case "header":
		f = modload.OnlyVerifyHeader
	case "patterns":
		f = modload.LoadPatternData
	case "samples":
		f = modload.LoadSampleData
	case "all":
		f = modload.LoadComplete
	default:
		err = fmt.Errorf("unrecognized load setting %q", load)
	}

	return f, err
}

// OptionsFromFlags combines the -load and -codecs flags.
func OptionsFromFlags(load, codecs string) (modload.Options, error) {
	flags, err := LoadFlagsFromFlag(load)
	if err != nil {
		return modload.Options{}, err
	}
	c, err := CodecsFromFlag(codecs)
	if err != nil {
		return modload.Options{}, err
	}
	return modload.Options{Flags: flags, Codecs: c}, nil
}
