// Command jtagtrace converts a VCD capture of TCK/TMS/TDI/TDO into an
// annotated VCD carrying decoded TAP state, instruction/data scans, and
// (optionally) e200z0 OnCE/Nexus protocol detail. Argument parsing, file
// handling, and pipeline wiring live here, outside the core decoder and
// state machine packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zappem.net/pub/jtag/jtagtrace/decoder"
	"zappem.net/pub/jtag/jtagtrace/decoder/e200z0"
	"zappem.net/pub/jtag/jtagtrace/jtagtap"
	"zappem.net/pub/jtag/jtagtrace/vcdparser"
	"zappem.net/pub/jtag/jtagtrace/vcdwriter"
)

// config holds the resolved CLI flags for a single run.
type config struct {
	tck, tms, tdi, tdo string
	initState          string
	timescale          string
	inScope, outScope  string
	core               string
}

func main() {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "jtagtrace INFILE OUTFILE",
		Short: "Annotate a JTAG VCD capture with decoded TAP state and scan contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.tck, "tck", "tck", "name of the TCK signal in the source VCD")
	flags.StringVar(&cfg.tms, "tms", "tms", "name of the TMS signal in the source VCD")
	flags.StringVar(&cfg.tdi, "tdi", "tdi", "name of the TDI signal in the source VCD")
	flags.StringVar(&cfg.tdo, "tdo", "tdo", "name of the TDO signal in the source VCD")
	flags.StringVarP(&cfg.initState, "initstate", "s", "test_logic_reset", "initial TAP controller state")
	flags.StringVarP(&cfg.timescale, "timescale", "t", "1 ns", "timescale the source VCD must declare")
	flags.StringVar(&cfg.inScope, "inscope", "capture", "scope of the TCK/TMS/TDI/TDO signals in the source VCD")
	flags.StringVar(&cfg.outScope, "outscope", "parsed", "scope for tap_state/jtag in the output VCD")
	flags.StringVar(&cfg.core, "core", "simple", "core decoder: simple, silent, or e200z0")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jtagtrace:", err)
		os.Exit(1)
	}
}

func run(infile, outfile string, cfg *config) error {
	initState, ok := jtagtap.ParseState(cfg.initState)
	if !ok {
		return fmt.Errorf("jtagtrace: unknown --initstate %q", cfg.initState)
	}
	ts, err := vcdparser.ParseTimescale(cfg.timescale)
	if err != nil {
		return err
	}

	in, err := os.Open(infile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outfile)
	if err != nil {
		return err
	}
	defer out.Close()

	wr := vcdwriter.New(out, ts.String())

	dec, err := newCoreDecoder(cfg.core, wr)
	if err != nil {
		return err
	}

	watcher := jtagtap.NewWatcher(cfg.inScope, cfg.tck, cfg.tms, cfg.tdi, cfg.tdo, initState, ts, dec)

	tapVar, err := wr.RegisterVar(cfg.outScope, "tap_state", vcdwriter.KindString, 0, initState.String())
	if err != nil {
		return err
	}
	opVar, err := wr.RegisterVar(cfg.outScope, "jtag", vcdwriter.KindString, 0, "")
	if err != nil {
		return err
	}
	watcher.SetWriter(wr, tapVar, opVar)

	engine := vcdparser.NewEngine()
	engine.RegisterWatcher(watcher)

	if err := engine.Parse(in); err != nil {
		return err
	}
	return wr.Flush()
}

func newCoreDecoder(name string, wr vcdwriter.Writer) (decoder.Decoder, error) {
	switch name {
	case "simple":
		return &decoder.Simple{}, nil
	case "silent":
		return decoder.Silent{}, nil
	case "e200z0":
		return e200z0.New(wr, "e200z0")
	default:
		return nil, fmt.Errorf("jtagtrace: unknown --core %q", name)
	}
}
