package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"symflow/internal/callgraph"
	"symflow/internal/disasm"
	"symflow/internal/elfx"
	"symflow/internal/logging"
)

var arm64Cmd = &cobra.Command{
	Use:   "arm64 (--lib <elf> --symbol <name> | --bin <raw> --base <va> | --lib <elf> --all --out <dir>)",
	Short: "Analyse ARM64 functions",
	Long: `Builds the control-flow graph of one ARM64 function (and, in symbolic mode,
its register data-flow graph), or of every sized function symbol in an ELF
file with --all.

With --all, --out receives functions.jsonl, call_edges.jsonl, symbols.json,
asm/ listings, cfg/ DOT graphs, graphs/ in --format, the lattice call graph
and combined CFG, and the render outputs (callgraph.dot, reachable.dot,
index.html).`,
	Args: cobra.NoArgs,
	RunE: runARM64,
}

func init() {
	arm64Cmd.Flags().String("lib", "", "path to an ARM64 ELF shared object or executable")
	arm64Cmd.Flags().String("symbol", "", "function symbol to analyse")
	arm64Cmd.Flags().String("bin", "", "path to raw ARM64 code")
	arm64Cmd.Flags().String("base", "0", "virtual address of the first byte of --bin")
	arm64Cmd.Flags().Bool("all", false, "analyse every sized function symbol of --lib")
	arm64Cmd.Flags().Int("workers", 0, "functions analysed in parallel with --all (default from config)")
	arm64Cmd.Flags().Bool("listing", false, "print the annotated disassembly instead of a graph")
	addGraphFlags(arm64Cmd)
}

func armMode(cmd *cobra.Command) (disasm.Mode, error) {
	static, err := staticMode(cmd)
	if static {
		return disasm.ModeStatic, err
	}
	return disasm.ModeSymbolic, err
}

func runARM64(cmd *cobra.Command, _ []string) error {
	lib, _ := cmd.Flags().GetString("lib")
	bin, _ := cmd.Flags().GetString("bin")
	symbol, _ := cmd.Flags().GetString("symbol")
	all, _ := cmd.Flags().GetBool("all")

	mode, err := armMode(cmd)
	if err != nil {
		return err
	}
	out, err := graphOptions(cmd)
	if err != nil {
		return err
	}

	if all {
		if lib == "" || out.outDir == "" {
			return errors.New("--all requires --lib and --out")
		}
		workers := conf.Workers
		if cmd.Flags().Changed("workers") {
			workers, _ = cmd.Flags().GetInt("workers")
		}
		return analyzeAll(cmd.Context(), lib, mode, out, workers)
	}

	var (
		name   string
		insts  []disasm.Inst
		lookup disasm.SymbolLookup
	)
	switch {
	case lib != "" && symbol != "":
		name = symbol
		insts, lookup, err = loadSymbol(lib, symbol)
	case bin != "":
		insts, err = loadRaw(cmd, bin)
		name = symbol
		if name == "" && len(insts) > 0 {
			name = fmt.Sprintf("sub_%x", insts[0].Addr)
		}
	default:
		return errors.New("--lib with --symbol, or --bin, is required")
	}
	if err != nil {
		return err
	}

	if listing, _ := cmd.Flags().GetBool("listing"); listing {
		_, err := fmt.Fprint(cmd.OutOrStdout(),
			disasm.Format(insts, nil, disasm.CallAnnotator(lookup), disasm.EffectsAnnotator))
		return err
	}

	fn, err := disasm.Analyze(name, insts, mode, flowOptions()...)
	if err != nil {
		return err
	}
	edges := disasm.ExtractCallEdges(fn.Insts, lookup, fn.DataFlow)
	path, err := emitGraph(cmd.OutOrStdout(), out, name, fn.Graph, fn.DataFlow, instText, armCallee(edges))
	if err != nil {
		return err
	}

	ev := log.Info().Str(logging.FuncField, name).Str("mode", string(mode)).
		Int("blocks", fn.Graph.Len()).Int("edges", len(fn.Graph.Edges())).Int("calls", len(edges))
	if reach, err := fn.Graph.Reachable(); err == nil {
		ev = ev.Int("reachable", len(reach))
	}
	if loops, err := fn.Graph.Loops(); err == nil {
		ev = ev.Int("loops", len(loops))
	}
	if path != "" {
		ev = ev.Str("wrote", path)
	}
	ev.Msg("analysed")
	return nil
}

func instText(inst disasm.Inst) string { return inst.Text }

// armCallee names the call made at each call site in edges.
func armCallee(edges []disasm.CallEdge) func(disasm.Inst) string {
	byPC := make(map[uint64]string, len(edges))
	for _, e := range edges {
		byPC[e.FromPC] = callgraph.CalleeName(e)
	}
	return func(inst disasm.Inst) string { return byPC[inst.Addr] }
}

// loadSymbol reads one function symbol from an ELF file. The returned lookup
// names every function symbol of the file.
func loadSymbol(lib, symbol string) ([]disasm.Inst, disasm.SymbolLookup, error) {
	ef, err := elfx.Open(lib)
	if err != nil {
		return nil, nil, err
	}
	defer ef.Close()

	addr, size, err := ef.Symbol(symbol)
	if err != nil {
		return nil, nil, err
	}
	code, err := ef.FunctionBytes(elfx.Symbol{Name: symbol, Addr: addr, Size: size})
	if err != nil {
		return nil, nil, err
	}
	syms, err := ef.FunctionSymbols()
	if err != nil {
		return nil, nil, err
	}
	insts := disasm.Disassemble(code, disasm.Options{BaseAddr: addr})
	return insts, symbolLookup(syms), nil
}

func loadRaw(cmd *cobra.Command, bin string) ([]disasm.Inst, error) {
	baseStr, _ := cmd.Flags().GetString("base")
	base, err := strconv.ParseUint(baseStr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("--base: %w", err)
	}
	code, err := os.ReadFile(bin)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", bin, err)
	}
	return disasm.Disassemble(code, disasm.Options{BaseAddr: base}), nil
}

func symbolLookup(syms []elfx.Symbol) disasm.SymbolLookup {
	names := make(map[uint64]string, len(syms))
	for _, s := range syms {
		names[s.Addr] = s.Name
	}
	return disasm.PlaceholderLookup(names)
}
