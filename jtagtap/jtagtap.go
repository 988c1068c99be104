// Package jtagtap implements the IEEE-1149.1 TAP controller state machine
// (component D) and the watcher that binds it to TCK/TMS/TDI/TDO signal
// names, filters to rising TCK edges, and owns the active decoder and
// output variables (component E).
package jtagtap

import (
	"errors"
	"fmt"

	"zappem.net/pub/jtag/jtagtrace/bitstring"
	"zappem.net/pub/jtag/jtagtrace/decoder"
	"zappem.net/pub/jtag/jtagtrace/tracker"
	"zappem.net/pub/jtag/jtagtrace/vcdparser"
	"zappem.net/pub/jtag/jtagtrace/vcdwriter"
	"zappem.net/pub/jtag/jtagtrace/watcher"
)

// State is one of the 16 IEEE-1149.1 TAP controller states.
type State int

// The 16 TAP states, in the order spec.md enumerates them.
const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR
)

var stateNames = [...]string{
	"test_logic_reset", "run_test_idle", "select_dr_scan", "capture_dr", "shift_dr", "exit1_dr", "pause_dr", "exit2_dr", "update_dr",
	"select_ir_scan", "capture_ir", "shift_ir", "exit1_ir", "pause_ir", "exit2_ir", "update_ir",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState resolves a tap_state name (as used on the CLI's --initstate
// flag) into a State.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// ErrTimescaleMismatch is a fatal protocol violation: the CLI-configured
// timescale does not match the one declared by the source VCD.
var ErrTimescaleMismatch = errors.New("jtagtap: timescale mismatch")

// ProtocolError describes a fatal protocol violation together with the
// timestamp and TAP state it occurred in. The Watcher does not construct
// one: an error returned by the decoder during delivery is passed back to
// the caller unchanged.
type ProtocolError struct {
	When  uint64
	State State
	Msg   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation at t=%d in state %s: %s", e.When, e.State, e.Msg)
}

// Watcher binds TCK/TMS/TDI/TDO signal names to a VCD source, advances the
// TAP on every rising TCK edge, and routes completed scans to a decoder.
type Watcher struct {
	watcher.Base

	tckName, tmsName, tdiName, tdoName string
	idTMS, idTDI, idTDO                string

	wantTimescale vcdparser.Timescale

	writer           vcdwriter.Writer
	tapVar, opVar    vcdwriter.Var
	haveOutputVars   bool

	decoder decoder.Decoder

	curstate State
	opStart  uint64

	irI, irO bitstring.OldestFirst
	drI, drO bitstring.OldestFirst

	engine *vcdparser.Engine
}

// NewWatcher returns a JTAG TAP watcher bound to the named signals under
// hierarchy, starting in init, decoding scans with dec. ts is the
// timescale the caller expects the source VCD to declare; a mismatch is a
// fatal protocol violation raised from UpdateIDs.
func NewWatcher(hierarchy, tck, tms, tdi, tdo string, init State, ts vcdparser.Timescale, dec decoder.Decoder) *Watcher {
	w := &Watcher{
		tckName:       tck,
		tmsName:       tms,
		tdiName:       tdi,
		tdoName:       tdo,
		wantTimescale: ts,
		decoder:       dec,
		curstate:      init,
	}
	w.SetHierarchy(hierarchy)
	w.AddSensitive(tck)
	w.AddWatching(tms)
	w.AddWatching(tdi)
	w.AddWatching(tdo)
	return w
}

// SetWriter binds the output VCD and the two output variables (tap_state,
// jtag) this watcher writes to.
func (w *Watcher) SetWriter(wr vcdwriter.Writer, tapVar, opVar vcdwriter.Var) {
	w.writer = wr
	w.tapVar = tapVar
	w.opVar = opVar
	w.haveOutputVars = true
}

// State reports the current TAP state.
func (w *Watcher) State() State { return w.curstate }

// UpdateIDs resolves the watched signal names and checks the timescale.
// Called once, after the source VCD's definitions section is parsed.
func (w *Watcher) UpdateIDs(e *vcdparser.Engine) error {
	if err := w.Base.ResolveIDs(e.Lookup); err != nil {
		return err
	}
	if e.Timescale() != w.wantTimescale {
		return fmt.Errorf("%w: file declares %q, configured for %q", ErrTimescaleMismatch, e.Timescale(), w.wantTimescale)
	}
	return nil
}

// Update is invoked whenever TCK is in the current step's activity set. It
// proceeds only on a rising edge (new value '1'); falling edges and
// glitches are ignored.
func (w *Watcher) Update(e *vcdparser.Engine) error {
	idTCK := w.ID(w.tckName)
	if e.Value(idTCK) != "1" {
		return nil
	}
	w.engine = e
	return w.Trackers.Manage(func() tracker.Tracker {
		// Refresh the cached watching ids on every firing, mirroring the
		// original start_tracker's unconditional id lookups.
		w.idTMS = w.ID(w.tmsName)
		w.idTDI = w.ID(w.tdiName)
		w.idTDO = w.ID(w.tdoName)
		if w.Trackers.Len() != 0 {
			return nil
		}
		t := &tapTracker{w: w}
		t.Start()
		return t
	})
}

func (w *Watcher) tmsIsOne() bool { return w.engine.Value(w.idTMS) == "1" }

// sampleBit reads id and coerces any non-'1' value (including the VCD
// 'x'/'z' states) to '0' — the resolution this implementation takes for
// the open question in spec.md §9(a).
func (w *Watcher) sampleBit(id string) string {
	if w.engine.Value(id) == "1" {
		return "1"
	}
	return "0"
}

// setState transitions the TAP to s, emitting exactly one tap_state
// change at `now` iff s differs from the current state.
func (w *Watcher) setState(s State) {
	if s == w.curstate {
		return
	}
	w.curstate = s
	if w.haveOutputVars {
		w.writer.Change(w.tapVar, w.engine.Now(), s.String())
	}
}

func (w *Watcher) annotateOp(timestamp uint64, value string) {
	if w.haveOutputVars {
		w.writer.Change(w.opVar, timestamp, value)
	}
}

// deliverDR hands a completed (possibly empty) DR scan to the decoder and
// annotates the jtag operation variable, per spec.md §4.D delivery rules.
func (w *Watcher) deliverDR() error {
	if w.drI.Len() > 0 {
		w.annotateOp(w.opStart, fmt.Sprintf("in=%s-out=%s", bitstring.HexOldestFirst(w.drI), bitstring.HexOldestFirst(w.drO)))
		return w.decoder.Data(w.engine.Now(), w.drI, w.drO)
	}
	w.annotateOp(w.opStart, "in=NULL-out=NULL")
	return w.decoder.DataNull(w.engine.Now())
}

// deliverIR hands a completed (possibly empty) IR scan to the decoder and
// annotates the jtag operation variable.
func (w *Watcher) deliverIR() error {
	if w.irI.Len() > 0 {
		w.annotateOp(w.opStart, "ir="+bitstring.HexOldestFirst(w.irI))
		return w.decoder.Instruction(w.engine.Now(), w.irI, w.irO)
	}
	w.annotateOp(w.opStart, "ir=NULL")
	return w.decoder.InstructionNull(w.engine.Now())
}

// tapTracker is the single per-run tracker (component C/D): the state
// machine's current-state handler runs once per rising TCK edge.
type tapTracker struct {
	w *Watcher
}

func (t *tapTracker) Start() { t.w.opStart = 0 }

func (t *tapTracker) Update() error {
	h, ok := stateHandlers[t.w.curstate]
	if !ok {
		return fmt.Errorf("jtagtap: no handler registered for state %s", t.w.curstate)
	}
	return h(t.w)
}

type handlerFn func(w *Watcher) error

// stateHandlers is the dense table of per-state transition logic (design
// note: "replace name-based dispatch with a dense table keyed by state").
var stateHandlers = map[State]handlerFn{
	TestLogicReset: func(w *Watcher) error {
		if !w.tmsIsOne() {
			w.setState(RunTestIdle)
		}
		return nil
	},
	RunTestIdle: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.opStart = w.engine.Now()
			w.setState(SelectDRScan)
		}
		return nil
	},
	SelectDRScan: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(SelectIRScan)
		} else {
			w.setState(CaptureDR)
		}
		return nil
	},
	CaptureDR: func(w *Watcher) error {
		w.drI, w.drO = "", ""
		if w.tmsIsOne() {
			w.setState(Exit1DR)
		} else {
			w.setState(ShiftDR)
		}
		return nil
	},
	ShiftDR: func(w *Watcher) error {
		w.drI += bitstring.OldestFirst(w.sampleBit(w.idTDI))
		w.drO += bitstring.OldestFirst(w.sampleBit(w.idTDO))
		if w.tmsIsOne() {
			w.setState(Exit1DR)
		}
		return nil
	},
	Exit1DR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(UpdateDR)
		} else {
			w.setState(PauseDR)
		}
		return nil
	},
	PauseDR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(Exit2DR)
		}
		return nil
	},
	Exit2DR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(UpdateDR)
		} else {
			w.setState(ShiftDR)
		}
		return nil
	},
	UpdateDR: func(w *Watcher) error {
		if err := w.deliverDR(); err != nil {
			return err
		}
		if w.tmsIsOne() {
			w.opStart = w.engine.Now()
			w.setState(SelectDRScan)
		} else {
			w.setState(RunTestIdle)
		}
		return nil
	},
	SelectIRScan: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.annotateOp(w.engine.Now(), "reset")
			w.setState(TestLogicReset)
		} else {
			w.setState(CaptureIR)
		}
		return nil
	},
	CaptureIR: func(w *Watcher) error {
		w.irI, w.irO = "", ""
		if w.tmsIsOne() {
			w.setState(Exit1IR)
		} else {
			w.setState(ShiftIR)
		}
		return nil
	},
	ShiftIR: func(w *Watcher) error {
		w.irI += bitstring.OldestFirst(w.sampleBit(w.idTDI))
		w.irO += bitstring.OldestFirst(w.sampleBit(w.idTDO))
		if w.tmsIsOne() {
			w.setState(Exit1IR)
		}
		return nil
	},
	Exit1IR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(UpdateIR)
		} else {
			w.setState(PauseIR)
		}
		return nil
	},
	PauseIR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(Exit2IR)
		}
		return nil
	},
	Exit2IR: func(w *Watcher) error {
		if w.tmsIsOne() {
			w.setState(UpdateIR)
		} else {
			w.setState(ShiftIR)
		}
		return nil
	},
	UpdateIR: func(w *Watcher) error {
		if err := w.deliverIR(); err != nil {
			return err
		}
		if w.tmsIsOne() {
			w.opStart = w.engine.Now()
			w.setState(SelectDRScan)
		} else {
			w.setState(RunTestIdle)
		}
		return nil
	},
}

var _ vcdparser.Watcher = (*Watcher)(nil)
