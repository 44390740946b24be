// unscript decompiles game-script bytecode into readable pseudocode.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

func main() {
	var opts options
	var verbose verbosity
	flag.StringVar(&opts.profile, "profile", "", "Engine profile (default: nearest unscript.toml)")
	flag.StringVar(&opts.outDir, "o", "", "Output directory (default: next to each script)")
	flag.BoolVar(&opts.debug, "debug", false, "Write <name>.dbg debug maps")
	flag.BoolVar(&opts.disasm, "disasm", false, "Write <name>.disasm listings")
	flag.StringVar(&opts.cache, "cache", "", "Decompile cache database (overrides the profile)")
	flag.IntVar(&opts.jobs, "j", runtime.NumCPU(), "Scripts decompiled concurrently")
	flag.BoolVar(&opts.lsp, "lsp", false, "Serve the outputs over LSP on stdio after decompiling")
	flag.Var(&verbose, "v", "Verbose logging (repeat for more)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: unscript [options] scripts...\n\n")
		fmt.Fprintf(os.Stderr, "Decompiles each script to <name>.txt.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  unscript scripts/*.bin               # Decompile next to the inputs\n")
		fmt.Fprintf(os.Stderr, "  unscript -o out -debug scripts/*.bin  # Write text and debug maps to out/\n")
		fmt.Fprintf(os.Stderr, "  unscript -lsp scripts/*.bin           # Decompile, then serve hover and definition\n")
	}
	flag.Parse()

	// The LSP owns stdout; keep logs on stderr.
	commonlog.Configure(int(verbose), nil)

	paths := flag.Args()
	if len(paths) == 0 && !opts.lsp {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts, paths, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
