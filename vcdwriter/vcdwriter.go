// Package vcdwriter is the VCD writer adapter (component H): a narrow
// contract for registering symbolic output variables and appending
// timestamped value changes, plus a concrete implementation that streams a
// textual VCD file. The streaming style — build short symbolic ids,
// lazily finalize the header, emit one "#timestamp" line per distinct
// timestamp — follows zappem.net/pub/io/iotracer's own VCD emission code
// (keyOf, vcdSection) rather than any third-party VCD library, since none
// appears anywhere in this tool's retrieval pack.
package vcdwriter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Kind is the VCD value type of a registered variable.
type Kind int

const (
	// KindString is a GTKWave-style "s<text> <id>" string variable.
	KindString Kind = iota
	// KindWire is a conventional 1-bit "<0|1><id>" wire.
	KindWire
)

// Var is an opaque handle to a variable registered with a Writer.
type Var struct {
	id   string
	kind Kind
}

// Writer is the contract this system's output depends on: register a
// variable up front, then append value changes at non-decreasing
// timestamps.
type Writer interface {
	RegisterVar(scope, name string, kind Kind, size int, init string) (Var, error)
	Change(v Var, timestamp uint64, value string) error
}

// ErrTimestampRegression is returned by Change when timestamp is earlier
// than the last timestamp written for any variable.
var ErrTimestampRegression = errors.New("vcdwriter: timestamp went backwards")

type varDef struct {
	scope, name string
	kind        Kind
	size        int
	id          string
	init        string
}

// FileWriter streams a VCD text file to an underlying io.Writer.
type FileWriter struct {
	w         *bufio.Writer
	timescale string
	vars      []varDef
	byID      map[string]*varDef

	headerWritten bool
	lastStamp     uint64
	haveStamp     bool
	nextSym       int
}

// New returns a FileWriter that will emit a VCD stream with the given
// timescale (e.g. "1 ns") to w.
func New(w io.Writer, timescale string) *FileWriter {
	return &FileWriter{
		w:         bufio.NewWriter(w),
		timescale: timescale,
		byID:      make(map[string]*varDef),
	}
}

// symbolOf allocates the next VCD-legal single-or-multi-character
// identifier, using the same printable-ASCII base-94 counting scheme as
// iotracer.keyOf.
func symbolOf(n int) string {
	const base = 33
	const digit = 127 - 33
	var cs []byte
	for loop := true; loop; loop = n != 0 {
		c := n % digit
		cs = append(cs, byte(base+c))
		n /= digit
	}
	// Reverse is unnecessary for uniqueness, but keep low-order digit
	// first to match iotracer's convention exactly.
	return string(cs)
}

// RegisterVar declares a new output variable. Must be called before the
// first Change call touches this Writer (VCD definitions necessarily
// precede the dump section).
func (f *FileWriter) RegisterVar(scope, name string, kind Kind, size int, init string) (Var, error) {
	if f.headerWritten {
		return Var{}, fmt.Errorf("vcdwriter: RegisterVar(%s.%s) after header already written", scope, name)
	}
	if size <= 0 {
		size = 1
	}
	vd := varDef{scope: scope, name: name, kind: kind, size: size, id: symbolOf(f.nextSym), init: init}
	f.nextSym++
	f.vars = append(f.vars, vd)
	f.byID[vd.id] = &f.vars[len(f.vars)-1]
	return Var{id: vd.id, kind: kind}, nil
}

// Change appends a value change for v at timestamp, finalizing the header
// (and its $dumpvars initial values) on the first call.
func (f *FileWriter) Change(v Var, timestamp uint64, value string) error {
	if !f.headerWritten {
		if err := f.writeHeader(); err != nil {
			return err
		}
	}
	if f.haveStamp && timestamp < f.lastStamp {
		return fmt.Errorf("%w: %d < %d", ErrTimestampRegression, timestamp, f.lastStamp)
	}
	if !f.haveStamp || timestamp != f.lastStamp {
		fmt.Fprintf(f.w, "#%d\n", timestamp)
		f.lastStamp = timestamp
		f.haveStamp = true
	}
	f.writeValue(v, value)
	return nil
}

func (f *FileWriter) writeValue(v Var, value string) {
	if v.kind == KindString {
		fmt.Fprintf(f.w, "s%s %s\n", value, v.id)
		return
	}
	fmt.Fprintf(f.w, "%s%s\n", value, v.id)
}

func (f *FileWriter) writeHeader() error {
	fmt.Fprintf(f.w, "$timescale %s $end\n", f.timescale)

	var curScope string
	opened := false
	for _, vd := range f.vars {
		if vd.scope != curScope {
			if opened {
				fmt.Fprint(f.w, "$upscope $end\n")
			}
			fmt.Fprintf(f.w, "$scope module %s $end\n", vd.scope)
			curScope = vd.scope
			opened = true
		}
		typ := "wire"
		if vd.kind == KindString {
			typ = "string"
		}
		fmt.Fprintf(f.w, "$var %s %d %s %s $end\n", typ, vd.size, vd.id, vd.name)
	}
	if opened {
		fmt.Fprint(f.w, "$upscope $end\n")
	}
	fmt.Fprint(f.w, "$enddefinitions $end\n")

	fmt.Fprint(f.w, "#0\n$dumpvars\n")
	for _, vd := range f.vars {
		if vd.init == "" {
			continue
		}
		f.writeValue(Var{id: vd.id, kind: vd.kind}, vd.init)
	}
	fmt.Fprint(f.w, "$end\n")

	f.headerWritten = true
	f.haveStamp = true
	f.lastStamp = 0
	return nil
}

// Flush flushes any buffered output to the underlying writer.
func (f *FileWriter) Flush() error {
	if !f.headerWritten {
		if err := f.writeHeader(); err != nil {
			return err
		}
	}
	return f.w.Flush()
}

var _ Writer = (*FileWriter)(nil)
