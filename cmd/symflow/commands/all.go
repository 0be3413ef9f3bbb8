package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	latrender "github.com/zboralski/lattice/render"
	"golang.org/x/sync/errgroup"

	"symflow/internal/callgraph"
	"symflow/internal/disasm"
	"symflow/internal/elfx"
	"symflow/internal/logging"
	"symflow/internal/output"
)

// funcResult is the analysis of one function symbol. err is recorded in
// functions.jsonl rather than aborting the run.
type funcResult struct {
	sym   elfx.Symbol
	insts []disasm.Inst
	fn    *disasm.Function
	edges []disasm.CallEdge
	loops int
	err   error
}

func analyzeSymbol(ef *elfx.File, s elfx.Symbol, lookup disasm.SymbolLookup, mode disasm.Mode) funcResult {
	r := funcResult{sym: s}
	code, err := ef.FunctionBytes(s)
	if err != nil {
		r.err = err
		return r
	}
	r.insts = disasm.Disassemble(code, disasm.Options{BaseAddr: s.Addr})
	r.fn, r.err = disasm.Analyze(s.Name, r.insts, mode, flowOptions()...)
	if r.err != nil {
		return r
	}
	r.edges = disasm.ExtractCallEdges(r.fn.Insts, lookup, r.fn.DataFlow)
	if loops, err := r.fn.Graph.Loops(); err == nil {
		r.loops = len(loops)
	}
	return r
}

func analyzeAll(ctx context.Context, lib string, mode disasm.Mode, out graphOutput, workers int) error {
	ef, err := elfx.Open(lib)
	if err != nil {
		return err
	}
	defer ef.Close()

	syms, err := ef.FunctionSymbols()
	if err != nil {
		return err
	}
	if len(syms) == 0 {
		return fmt.Errorf("%s: no sized function symbols", lib)
	}
	lookup := symbolLookup(syms)
	log.Info().Str(logging.PhaseField, "analyse").Str("lib", lib).Int64("size", ef.FileSize()).Int("functions", len(syms)).
		Int("workers", workers).Str("mode", string(mode)).Msg("analysing")

	results := make([]funcResult, len(syms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, s := range syms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = analyzeSymbol(ef, s, lookup, mode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.MkdirAll(out.outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}
	funcsOut, err := output.CreateJSONL[disasm.FuncRecord](filepath.Join(out.outDir, "functions.jsonl"))
	if err != nil {
		return err
	}
	defer funcsOut.Close()
	edgesOut, err := output.CreateJSONL[disasm.CallEdgeRecord](filepath.Join(out.outDir, "call_edges.jsonl"))
	if err != nil {
		return err
	}
	defer edgesOut.Close()

	graphs := out
	graphs.outDir = filepath.Join(out.outDir, "graphs")
	cfgs := graphOutput{format: output.FormatDOT, outDir: filepath.Join(out.outDir, "cfg"), theme: out.theme}

	var (
		funcRecs  []disasm.FuncRecord
		edgeRecs  []disasm.CallEdgeRecord
		funcInfos []callgraph.FuncInfo
		cfgInfos  []callgraph.FuncInfo
		symbols   []output.SymbolEntry
		failed    int
	)
	for _, r := range results {
		name := r.sym.Name
		symbols = append(symbols, output.SymbolEntry{Address: r.sym.Addr, Name: name, Size: r.sym.Size})
		rec := disasm.FuncRecord{
			PC:   fmt.Sprintf("0x%x", r.sym.Addr),
			Size: int(r.sym.Size),
			Name: name,
			Mode: mode,
		}
		if len(r.insts) > 0 {
			if err := output.WriteASM(out.outDir, sanitizeFilename(name), r.insts, lookup,
				disasm.CallAnnotator(lookup), disasm.EffectsAnnotator); err != nil {
				return fmt.Errorf("write asm %s: %w", name, err)
			}
		}
		if r.err != nil {
			failed++
			rec.Error = r.err.Error()
			log.Debug().Str(logging.FuncField, name).Err(r.err).Msg("analysis failed")
		} else {
			rec.Blocks = r.fn.Graph.Len()
			rec.Edges = len(r.fn.Graph.Edges())
			rec.Loops = r.loops
			callee := armCallee(r.edges)
			if _, err := emitGraph(nil, graphs, name, r.fn.Graph, r.fn.DataFlow, instText, callee); err != nil {
				return fmt.Errorf("write graph %s: %w", name, err)
			}
			if _, err := emitGraph(nil, cfgs, name, r.fn.Graph, r.fn.DataFlow, instText, callee); err != nil {
				return fmt.Errorf("write cfg %s: %w", name, err)
			}
			if rec.Blocks > 1 {
				cfgInfos = append(cfgInfos, callgraph.FuncInfo{Name: name, Insts: r.insts, CallEdges: r.edges})
			}
		}
		if err := funcsOut.Write(rec); err != nil {
			return err
		}
		funcRecs = append(funcRecs, rec)

		for _, e := range disasm.CallEdgeRecords(name, r.edges) {
			if err := edgesOut.Write(e); err != nil {
				return err
			}
			edgeRecs = append(edgeRecs, e)
		}
		funcInfos = append(funcInfos, callgraph.FuncInfo{Name: name, CallEdges: r.edges})
	}
	log.Info().Str(logging.PhaseField, "write").Str("path", funcsOut.Path()).Int("functions", funcsOut.Count()).Int("failed", failed).Msg("wrote")
	log.Info().Str("path", edgesOut.Path()).Int("edges", edgesOut.Count()).Msg("wrote")

	if err := output.WriteSymbolsJSON(out.outDir, symbols); err != nil {
		return err
	}

	cg := callgraph.BuildCallGraph(funcInfos)
	cgPath := filepath.Join(out.outDir, "callgraph_lattice.dot")
	if err := os.WriteFile(cgPath, []byte(latrender.DOT(cg, filepath.Base(lib))), 0644); err != nil {
		return fmt.Errorf("write callgraph_lattice.dot: %w", err)
	}
	log.Info().Str("path", cgPath).Int("nodes", len(cg.Nodes)).Int("edges", len(cg.Edges)).Msg("wrote")

	// Single-block functions add nothing to the combined CFG view.
	lcfg, err := callgraph.BuildCFG(cfgInfos)
	if err != nil {
		return fmt.Errorf("build lattice cfg: %w", err)
	}
	cfgPath := filepath.Join(out.outDir, "cfg_lattice.dot")
	if err := os.WriteFile(cfgPath, []byte(latrender.DOTCFG(lcfg, filepath.Base(lib))), 0644); err != nil {
		return fmt.Errorf("write cfg_lattice.dot: %w", err)
	}
	log.Info().Str("path", cfgPath).Int("functions", len(lcfg.Funcs)).Msg("wrote")

	return writeReports(out.outDir, reportOptions{
		title: filepath.Base(lib),
		theme: out.theme,
		funcs: funcRecs,
		edges: edgeRecs,
	})
}
