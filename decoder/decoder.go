// Package decoder defines the pluggable core decoder interface (component
// F): the four operations a completed IR or DR scan is delivered through,
// plus the two decoders that need no knowledge of a specific target core.
package decoder

import (
	"log"

	"zappem.net/pub/jtag/jtagtrace/bitstring"
)

// Decoder receives completed IR/DR scans from the TAP state machine at the
// update_ir/update_dr moments. Data/DataNull are invoked according to
// whichever data handler the previous Instruction call selected — the
// decoder itself tracks that as internal state (design note: "next DR
// handler depends on previous IR"), not via per-call rebinding.
//
// A non-nil error return means a fatal protocol violation; the pipeline
// halts. Soft warnings (spec §7 kind 2) must be absorbed internally —
// typically by raising a decoder-owned "warning" output variable — and
// reported by returning nil.
type Decoder interface {
	Instruction(now uint64, irIn, irOut bitstring.OldestFirst) error
	InstructionNull(now uint64) error
	Data(now uint64, drIn, drOut bitstring.OldestFirst) error
	DataNull(now uint64) error
}

// Simple is the raw hex dump decoder: every IR/DR scan is logged as a hex
// value, with no further protocol interpretation. This is a direct
// generalization of the original tool's only decoder, which always did
// exactly this (see update_ir/update_dr in the original).
type Simple struct {
	// Logf defaults to log.Printf; overridable for testing.
	Logf func(format string, args ...any)
}

func (s *Simple) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (s *Simple) Instruction(now uint64, irIn, irOut bitstring.OldestFirst) error {
	s.logf("t=%d instruction in=%s out=%s", now, bitstring.HexOldestFirst(irIn), bitstring.HexOldestFirst(irOut))
	return nil
}

func (s *Simple) InstructionNull(now uint64) error {
	s.logf("t=%d instruction in=NULL out=NULL", now)
	return nil
}

func (s *Simple) Data(now uint64, drIn, drOut bitstring.OldestFirst) error {
	s.logf("t=%d data in=%s out=%s", now, bitstring.HexOldestFirst(drIn), bitstring.HexOldestFirst(drOut))
	return nil
}

func (s *Simple) DataNull(now uint64) error {
	s.logf("t=%d data in=NULL out=NULL", now)
	return nil
}

// Silent discards every scan; useful for benchmarking the TAP state
// machine without decoder overhead.
type Silent struct{}

func (Silent) Instruction(uint64, bitstring.OldestFirst, bitstring.OldestFirst) error { return nil }
func (Silent) InstructionNull(uint64) error                                          { return nil }
func (Silent) Data(uint64, bitstring.OldestFirst, bitstring.OldestFirst) error        { return nil }
func (Silent) DataNull(uint64) error                                                 { return nil }

var (
	_ Decoder = (*Simple)(nil)
	_ Decoder = Silent{}
)
