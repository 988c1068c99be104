package jtagtap

import (
	"strings"
	"testing"

	"zappem.net/pub/jtag/jtagtrace/bitstring"
	"zappem.net/pub/jtag/jtagtrace/vcdparser"
)

type recordingDecoder struct {
	instr     []string
	instrNull int
	data      []string
	dataNull  int
}

func (d *recordingDecoder) Instruction(now uint64, irIn, irOut bitstring.OldestFirst) error {
	d.instr = append(d.instr, string(irIn)+"/"+string(irOut))
	return nil
}
func (d *recordingDecoder) InstructionNull(now uint64) error { d.instrNull++; return nil }
func (d *recordingDecoder) Data(now uint64, drIn, drOut bitstring.OldestFirst) error {
	d.data = append(d.data, string(drIn)+"/"+string(drOut))
	return nil
}
func (d *recordingDecoder) DataNull(now uint64) error { d.dataNull++; return nil }

func buildVCD(t *testing.T, tms string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("$timescale 1 ns $end\n")
	b.WriteString("$scope module capture $end\n")
	b.WriteString("$var wire 1 ! tck $end\n")
	b.WriteString("$var wire 1 \" tms $end\n")
	b.WriteString("$var wire 1 # tdi $end\n")
	b.WriteString("$var wire 1 $ tdo $end\n")
	b.WriteString("$upscope $end\n")
	b.WriteString("$enddefinitions $end\n")
	b.WriteString("#0\n$dumpvars\n0!\n0\"\n0#\n0$\n$end\n")
	stamp := uint64(10)
	for _, c := range tms {
		b.WriteString("#")
		b.WriteString(itoa(stamp))
		b.WriteString("\n1!\n")
		if c == '1' {
			b.WriteString("1\"\n")
		} else {
			b.WriteString("0\"\n")
		}
		stamp += 10
		b.WriteString("#")
		b.WriteString(itoa(stamp))
		b.WriteString("\n0!\n")
		stamp += 10
	}
	return b.String()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestResetSequenceScenario(t *testing.T) {
	// Scenario 1 from spec.md §8: five TMS=1 edges hold test_logic_reset,
	// then 0,1,0,1,1 drives run_test_idle -> select_dr_scan -> capture_dr
	// -> exit1_dr -> update_dr via the short (no-shift) path, and a final 0
	// runs update_dr's handler, which delivers DataNull and returns to
	// run_test_idle.
	data := buildVCD(t, "11111"+"010110")

	e := vcdparser.NewEngine()
	ts := vcdparser.Timescale{N: 1, Unit: "ns"}
	dec := &recordingDecoder{}
	w := NewWatcher("capture", "tck", "tms", "tdi", "tdo", TestLogicReset, ts, dec)
	e.RegisterWatcher(w)

	if err := e.Parse(strings.NewReader(data)); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if dec.dataNull == 0 {
		t.Errorf("expected at least one DataNull delivery, got none")
	}
	if w.State() != RunTestIdle {
		t.Errorf("final state = %s, want run_test_idle (final tms=0 in update_dr)", w.State())
	}
}

func TestFiveOnesAlwaysReachesReset(t *testing.T) {
	for _, start := range []State{TestLogicReset, RunTestIdle, SelectDRScan, CaptureDR, ShiftDR, Exit1DR, PauseDR, Exit2DR, UpdateDR,
		SelectIRScan, CaptureIR, ShiftIR, Exit1IR, PauseIR, Exit2IR, UpdateIR} {
		t.Run(start.String(), func(t *testing.T) {
			data := buildVCD(t, "11111")
			e := vcdparser.NewEngine()
			ts := vcdparser.Timescale{N: 1, Unit: "ns"}
			w := NewWatcher("capture", "tck", "tms", "tdi", "tdo", start, ts, &recordingDecoder{})
			e.RegisterWatcher(w)
			if err := e.Parse(strings.NewReader(data)); err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if w.State() != TestLogicReset {
				t.Errorf("after 5 TMS=1 edges from %s: state = %s, want test_logic_reset", start, w.State())
			}
		})
	}
}

func TestTimescaleMismatchIsFatal(t *testing.T) {
	data := buildVCD(t, "1")
	e := vcdparser.NewEngine()
	wantTS := vcdparser.Timescale{N: 1, Unit: "us"} // file declares "1 ns"
	w := NewWatcher("capture", "tck", "tms", "tdi", "tdo", TestLogicReset, wantTS, &recordingDecoder{})
	e.RegisterWatcher(w)
	if err := e.Parse(strings.NewReader(data)); err == nil {
		t.Fatal("Parse: want timescale mismatch error, got nil")
	}
}

func TestShiftAccumulatesOldestFirst(t *testing.T) {
	var b strings.Builder
	b.WriteString("$timescale 1 ns $end\n")
	b.WriteString("$scope module capture $end\n")
	b.WriteString("$var wire 1 ! tck $end\n")
	b.WriteString("$var wire 1 \" tms $end\n")
	b.WriteString("$var wire 1 # tdi $end\n")
	b.WriteString("$var wire 1 $ tdo $end\n")
	b.WriteString("$upscope $end\n")
	b.WriteString("$enddefinitions $end\n")
	b.WriteString("#0\n$dumpvars\n0!\n0\"\n0#\n0$\n$end\n")

	// Drive: reset(5x1) -> idle(tms0) -> select_dr(tms1) -> select_ir(tms1)
	// -> capture_ir(tms0) -> shift "101" on TDI/TDO over 3 clocks (tms=0,
	// 0, 1) -> exit1_ir(tms1) -> update_ir delivers.
	//
	// Each state's handler (including capture_ir's clear and shift_ir's
	// bit append) runs on the edge where curstate already equals that
	// state; the edge that transitions *into* a state only sets curstate,
	// it does not also run the new state's handler. So the edge labelled
	// "-> select_ir_scan" below is the one that executes select_dr_scan's
	// handler, the edge labelled "-> capture_ir" executes select_ir_scan's
	// handler, and so on; capture_ir's own clear-and-advance runs on the
	// following edge, which is why a dedicated edge for it precedes the
	// three shift edges.
	type edge struct{ tms, tdi, tdo byte }
	edges := []edge{
		{1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}, // 5x reset
		{0, 0, 0}, // -> run_test_idle
		{1, 0, 0}, // -> select_dr_scan
		{1, 0, 0}, // -> select_ir_scan
		{0, 0, 0}, // -> capture_ir
		{0, 0, 0}, // capture_ir clears ir_i/ir_o -> shift_ir
		{0, 1, 1}, // shift_ir bit0 (oldest)
		{0, 0, 0}, // shift_ir bit1
		{1, 1, 1}, // shift_ir bit2 (newest), tms=1 -> exit1_ir
		{1, 0, 0}, // -> update_ir
		{1, 0, 0}, // update_ir delivers, tms=1 -> select_dr_scan
	}
	stamp := uint64(10)
	for _, e := range edges {
		b.WriteString("#" + itoa(stamp) + "\n")
		b.WriteString("1!\n")
		b.WriteString(string('0'+e.tms) + "\"\n")
		b.WriteString(string('0'+e.tdi) + "#\n")
		b.WriteString(string('0'+e.tdo) + "$\n")
		stamp += 10
		b.WriteString("#" + itoa(stamp) + "\n0!\n")
		stamp += 10
	}

	e := vcdparser.NewEngine()
	ts := vcdparser.Timescale{N: 1, Unit: "ns"}
	dec := &recordingDecoder{}
	w := NewWatcher("capture", "tck", "tms", "tdi", "tdo", TestLogicReset, ts, dec)
	e.RegisterWatcher(w)
	if err := e.Parse(strings.NewReader(b.String())); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(dec.instr) != 1 {
		t.Fatalf("instr deliveries = %d, want 1", len(dec.instr))
	}
	want := "101/101"
	if dec.instr[0] != want {
		t.Errorf("delivered scan = %q, want %q", dec.instr[0], want)
	}
}
