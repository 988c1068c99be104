package vcdparser

import (
	"strings"
	"testing"
)

func TestParseTimescale(t *testing.T) {
	tests := []struct {
		in      string
		wantN   int
		wantU   string
		wantErr bool
	}{
		{"1 ns", 1, "ns", false},
		{"100ps", 100, "ps", false},
		{"10 us", 10, "us", false},
		{"7 ns", 0, "", true},
		{"1 furlongs", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimescale(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimescale(%q) err = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimescale(%q) err = %v", tt.in, err)
			}
			if ts.N != tt.wantN || ts.Unit != tt.wantU {
				t.Errorf("ParseTimescale(%q) = %+v, want {%d %s}", tt.in, ts, tt.wantN, tt.wantU)
			}
		})
	}
}

type recordingWatcher struct {
	hierarchy string
	sensitive []string
	watching  []string
	ids       map[string]string
	fired     []uint64
}

func (w *recordingWatcher) SensitiveNames() []string { return w.sensitive }
func (w *recordingWatcher) WatchingNames() []string  { return w.watching }
func (w *recordingWatcher) SensitiveIDs() []string {
	var ids []string
	for _, n := range w.sensitive {
		ids = append(ids, w.ids[n])
	}
	return ids
}
func (w *recordingWatcher) UpdateIDs(e *Engine) error {
	w.ids = make(map[string]string)
	for _, n := range append(append([]string{}, w.sensitive...), w.watching...) {
		id, ok := e.Lookup(w.hierarchy + "." + n)
		if !ok {
			t := n
			return errUnresolved(t)
		}
		w.ids[n] = id
	}
	return nil
}
func (w *recordingWatcher) Update(e *Engine) error {
	w.fired = append(w.fired, e.Now())
	return nil
}

type errUnresolved string

func (e errUnresolved) Error() string { return "unresolved: " + string(e) }

const sampleVCD = `$timescale 1 ns $end
$scope module capture $end
$var wire 1 ! tck $end
$var wire 1 " tms $end
$upscope $end
$enddefinitions $end
#0
$dumpvars
0!
0"
$end
#5
1!
#10
0!
#15
1!
1"
`

func TestParseFiresOnActivity(t *testing.T) {
	e := NewEngine()
	w := &recordingWatcher{hierarchy: "capture", sensitive: []string{"tck"}, watching: []string{"tms"}}
	e.RegisterWatcher(w)

	if err := e.Parse(strings.NewReader(sampleVCD)); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := []uint64{0, 5, 10, 15}
	if len(w.fired) != len(want) {
		t.Fatalf("fired = %v, want %v", w.fired, want)
	}
	for i := range want {
		if w.fired[i] != want[i] {
			t.Errorf("fired[%d] = %d, want %d", i, w.fired[i], want[i])
		}
	}
	if e.Value(w.ids["tms"]) != "1" {
		t.Errorf("final tms value = %q, want 1", e.Value(w.ids["tms"]))
	}
}

func TestParseUnknownSignal(t *testing.T) {
	e := NewEngine()
	w := &recordingWatcher{hierarchy: "capture", sensitive: []string{"nope"}}
	e.RegisterWatcher(w)
	if err := e.Parse(strings.NewReader(sampleVCD)); err == nil {
		t.Fatal("Parse: want error for unresolved signal, got nil")
	}
}
