// Package vcdparser tokenizes a Value-Change-Dump capture (component A)
// and drives the sensitivity-triggered watcher dispatch on top of it
// (component B). It owns the per-signal current-value map and the
// per-timestamp activity set, and guarantees that every value change at a
// given timestamp is committed before any watcher fires for that
// timestamp.
package vcdparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Timescale is a VCD `$timescale N UNIT $end` declaration.
type Timescale struct {
	N    int
	Unit string
}

func (t Timescale) String() string { return fmt.Sprintf("%d %s", t.N, t.Unit) }

// ErrTimescale is returned by ParseTimescale when the text does not match
// one of the VCD-legal magnitudes.
var ErrTimescale = errors.New("invalid timescale")

var legalMagnitudes = map[int]bool{1: true, 10: true, 100: true}
var legalUnits = map[string]bool{"s": true, "ms": true, "us": true, "ns": true, "ps": true, "fs": true}

// ParseTimescale parses a "N UNIT" or "NUNIT" string (e.g. "1 ns", "100ps")
// into a Timescale, validating that N is one of {1,10,100} and UNIT is one
// of {s,ms,us,ns,ps,fs}, per the VCD standard and this tool's CLI contract.
func ParseTimescale(s string) (Timescale, error) {
	s = strings.TrimSpace(s)
	var numPart, unitPart string
	if fields := strings.Fields(s); len(fields) == 2 {
		numPart, unitPart = fields[0], fields[1]
	} else {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		numPart, unitPart = s[:i], s[i:]
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || !legalMagnitudes[n] || !legalUnits[unitPart] {
		return Timescale{}, fmt.Errorf("%w: %q", ErrTimescale, s)
	}
	return Timescale{N: n, Unit: unitPart}, nil
}

// Watcher is the interface the event engine drives. UpdateIDs is called
// once, after the source's definitions section is fully parsed; Update is
// called at every timestamp where this watcher's sensitive set intersects
// the activity set.
type Watcher interface {
	SensitiveNames() []string
	WatchingNames() []string
	// SensitiveIDs returns the resolved ids of the sensitive names, valid
	// after UpdateIDs has run; used by the engine to gate dispatch.
	SensitiveIDs() []string
	UpdateIDs(e *Engine) error
	Update(e *Engine) error
}

// Engine is the streaming VCD event engine: it owns the current-value map,
// the per-step activity set, and the registered watchers.
type Engine struct {
	timescale Timescale

	ids    map[string]string // fully qualified name -> id
	values map[string]string // id -> current value
	active map[string]string // id -> new value within the current step

	now      uint64
	watchers []Watcher
}

// NewEngine returns an empty event engine.
func NewEngine() *Engine {
	return &Engine{
		ids:    make(map[string]string),
		values: make(map[string]string),
		active: make(map[string]string),
	}
}

// RegisterWatcher adds w to the set of watchers notified on each step commit.
func (e *Engine) RegisterWatcher(w Watcher) {
	e.watchers = append(e.watchers, w)
}

// Timescale reports the timescale declared by the source VCD. Valid only
// after Parse has processed the $timescale directive (i.e. from within or
// after UpdateIDs).
func (e *Engine) Timescale() Timescale { return e.timescale }

// Now reports the timestamp of the step currently being delivered to
// watchers.
func (e *Engine) Now() uint64 { return e.now }

// Lookup resolves a fully qualified "scope.signal" name to its VCD id.
func (e *Engine) Lookup(fullName string) (string, bool) {
	id, ok := e.ids[fullName]
	return id, ok
}

// Value returns the current value of the named signal id, "" if unknown.
func (e *Engine) Value(id string) string { return e.values[id] }

// Changed reports whether id is in the current step's activity set.
func (e *Engine) Changed(id string) bool {
	_, ok := e.active[id]
	return ok
}

// Parse tokenizes r as a VCD stream, resolving every registered watcher's
// signal names once the definitions section ends, and firing watchers at
// every committed timestamp whose activity set intersects that watcher's
// sensitivity set.
func (e *Engine) Parse(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	sc.Split(bufio.ScanWords)

	lex := &lexer{sc: sc}

	var scopeStack []string
	definitionsDone := false

	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if !definitionsDone {
			switch tok {
			case "$timescale":
				words, err := lex.until("$end")
				if err != nil {
					return err
				}
				ts, err := ParseTimescale(strings.Join(words, " "))
				if err != nil {
					return err
				}
				e.timescale = ts
			case "$scope":
				words, err := lex.until("$end")
				if err != nil {
					return err
				}
				if len(words) < 2 {
					return fmt.Errorf("malformed $scope directive: %v", words)
				}
				scopeStack = append(scopeStack, words[1])
			case "$upscope":
				if _, err := lex.until("$end"); err != nil {
					return err
				}
				if len(scopeStack) > 0 {
					scopeStack = scopeStack[:len(scopeStack)-1]
				}
			case "$var":
				words, err := lex.until("$end")
				if err != nil {
					return err
				}
				// $var TYPE WIDTH ID NAME [RANGE] $end
				if len(words) < 4 {
					return fmt.Errorf("malformed $var directive: %v", words)
				}
				id := words[2]
				name := words[3]
				full := name
				if len(scopeStack) > 0 {
					full = strings.Join(scopeStack, ".") + "." + name
				}
				e.ids[full] = id
			case "$enddefinitions":
				if _, err := lex.until("$end"); err != nil {
					return err
				}
				definitionsDone = true
				for _, w := range e.watchers {
					if err := w.UpdateIDs(e); err != nil {
						return err
					}
				}
			default:
				if strings.HasPrefix(tok, "$") {
					if _, err := lex.until("$end"); err != nil {
						return err
					}
				}
			}
			continue
		}

		// Value-change (dump) section.
		switch {
		case tok == "$dumpvars", tok == "$dumpon", tok == "$dumpoff", tok == "$dumpall", tok == "$end":
			// no-op markers
		case strings.HasPrefix(tok, "$comment"):
			_, _ = lex.until("$end")
		case strings.HasPrefix(tok, "#"):
			tsVal, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				return fmt.Errorf("malformed timestamp %q: %w", tok, err)
			}
			if len(e.active) > 0 {
				if err := e.commit(); err != nil {
					return err
				}
			}
			e.now = tsVal
		case tok[0] == 'b' || tok[0] == 'B':
			idTok, ok := lex.next()
			if !ok {
				return fmt.Errorf("truncated vector value change: %q", tok)
			}
			e.active[idTok] = tok[1:]
		case tok[0] == 'r' || tok[0] == 'R':
			if _, ok := lex.next(); !ok {
				return fmt.Errorf("truncated real value change: %q", tok)
			}
			// Real values are not part of this system's data model; skip.
		default:
			e.active[tok[1:]] = string(tok[0])
		}
	}
	if len(e.active) > 0 {
		if err := e.commit(); err != nil {
			return err
		}
	}
	return nil
}

// commit applies the staged activity set to values, then fires every
// watcher whose sensitivity intersects it, in registration order.
func (e *Engine) commit() error {
	for id, v := range e.active {
		e.values[id] = v
	}
	for _, w := range e.watchers {
		hit := false
		for _, id := range w.SensitiveIDs() {
			if e.Changed(id) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if err := w.Update(e); err != nil {
			return err
		}
	}
	e.active = make(map[string]string)
	return nil
}

// lexer is a whitespace-token reader over a VCD stream; VCD's grammar is
// entirely whitespace (including newline) delimited, so a single word
// scanner suffices for both the definitions and dump sections.
type lexer struct {
	sc *bufio.Scanner
}

func (l *lexer) next() (string, bool) {
	if !l.sc.Scan() {
		return "", false
	}
	return l.sc.Text(), true
}

// until reads tokens up to and excluding the terminator, returning them.
func (l *lexer) until(terminator string) ([]string, error) {
	var words []string
	for {
		tok, ok := l.next()
		if !ok {
			return nil, fmt.Errorf("unexpected EOF, want %q", terminator)
		}
		if tok == terminator {
			return words, nil
		}
		words = append(words, tok)
	}
}
