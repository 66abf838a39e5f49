package modload

import (
	"fmt"
	"io"
)

// dumpW receives a human readable trace of everything the loaders decode.
// Tracing is off while it is nil.
var dumpW io.Writer = nil

// SetDumpWriter enables tracing of decoded headers, patterns and samples to
// w. Pass nil to disable it.
func SetDumpWriter(w io.Writer) { dumpW = w }

func dumpf(format string, a ...interface{}) {
	if dumpW == nil {
		return
	}

	fmt.Fprintf(dumpW, format, a...)
}

func dumpPattern(i int, p *Pattern) {
	if dumpW == nil {
		return
	}
	dumpf("Pattern %d (x%02X) %d rows\n", i, i, p.Rows)
	for row := 0; row < p.Rows; row++ {
		dumpf("%02X:", row)
		for _, c := range p.Row(row) {
			dumpf(" %s", c)
		}
		dumpf("\n")
	}
	dumpf("\n")
}
