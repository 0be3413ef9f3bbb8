package commands

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"symflow/internal/disasm"
	"symflow/internal/output"
	"symflow/internal/render"
)

var renderCmd = &cobra.Command{
	Use:   "render --in <dir>",
	Short: "Render call graph and HTML summary from JSONL",
	Long: `Reads functions.jsonl and call_edges.jsonl written by "arm64 --all" and writes
callgraph.dot, reachable.dot and index.html into the same directory. With --svg,
Graphviz dot converts these and every cfg/*.dot to SVG.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().String("in", "", "input directory (arm64 --all output)")
	renderCmd.Flags().Int("max-nodes", 0, "max function nodes in callgraph (0 = all)")
	renderCmd.Flags().String("title", "", "title for callgraph and HTML (default: directory name)")
	renderCmd.Flags().Bool("svg", false, "convert DOT files to SVG with graphviz dot")
	renderCmd.Flags().String("theme", "", "DOT theme: nasa or mono (default from config)")
}

func runRender(cmd *cobra.Command, _ []string) error {
	inDir, _ := cmd.Flags().GetString("in")
	if inDir == "" {
		return errors.New("--in is required")
	}
	opts := reportOptions{title: filepath.Base(filepath.Clean(inDir))}
	if cmd.Flags().Changed("title") {
		opts.title, _ = cmd.Flags().GetString("title")
	}
	opts.maxNodes, _ = cmd.Flags().GetInt("max-nodes")
	opts.svg, _ = cmd.Flags().GetBool("svg")
	themeName := flagOrConfig(cmd, "theme", conf.Theme)
	var ok bool
	if opts.theme, ok = render.ThemeByName(themeName); !ok {
		return fmt.Errorf("unknown theme %q", themeName)
	}

	var err error
	opts.funcs, err = output.ReadJSONL[disasm.FuncRecord](filepath.Join(inDir, "functions.jsonl"))
	if err != nil {
		return fmt.Errorf("read functions.jsonl: %w", err)
	}
	opts.edges, err = output.ReadJSONL[disasm.CallEdgeRecord](filepath.Join(inDir, "call_edges.jsonl"))
	if err != nil {
		return fmt.Errorf("read call_edges.jsonl: %w", err)
	}
	log.Info().Int("functions", len(opts.funcs)).Int("edges", len(opts.edges)).Msg("read")
	return writeReports(inDir, opts)
}

type reportOptions struct {
	title    string
	theme    render.Theme
	maxNodes int
	svg      bool
	funcs    []disasm.FuncRecord
	edges    []disasm.CallEdgeRecord
}

// writeReports writes callgraph.dot, reachable.dot and index.html into dir,
// plus SVGs when opts.svg is set.
func writeReports(dir string, opts reportOptions) error {
	stats := render.ComputeStats(opts.funcs, opts.edges)
	entryPoints := render.FindEntryPoints(opts.funcs, opts.edges)
	reachable := render.ReachableSet(entryPoints, opts.edges)
	log.Info().Int("entry_points", len(entryPoints)).Int("reachable", len(reachable)).
		Int("functions", len(opts.funcs)).Msg("reachability")

	reachPath := filepath.Join(dir, "reachable.dot")
	reachDOT := render.ReachabilityDOT(opts.edges, reachable, entryPoints, opts.title+" (reachable)", opts.theme)
	if err := writeText(reachPath, reachDOT); err != nil {
		return err
	}
	cgPath := filepath.Join(dir, "callgraph.dot")
	if err := writeText(cgPath, render.CallgraphDOT(opts.funcs, opts.edges, opts.title, opts.theme, opts.maxNodes)); err != nil {
		return err
	}

	var links render.IndexLinks
	if opts.svg {
		links.CallgraphSVG = svgOrWarn(cgPath)
		links.ReachableSVG = svgOrWarn(reachPath)
		dots, _ := filepath.Glob(filepath.Join(dir, "cfg", "*.dot"))
		for _, p := range dots {
			if svgOrWarn(p) {
				links.CFGCount++
			}
		}
	}

	htmlPath := filepath.Join(dir, "index.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("create index.html: %w", err)
	}
	render.WriteIndexHTML(f, stats, opts.title, links, entryPoints, len(reachable))
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index.html: %w", err)
	}
	log.Info().Str("path", htmlPath).Msg("wrote")
	return nil
}

func writeText(path, s string) error {
	if err := os.WriteFile(path, []byte(s), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	log.Info().Str("path", path).Int("bytes", len(s)).Msg("wrote")
	return nil
}

// svgOrWarn converts a DOT file next to itself. Failures are logged.
func svgOrWarn(dotPath string) bool {
	svgPath := strings.TrimSuffix(dotPath, ".dot") + ".svg"
	if err := runDot(dotPath, svgPath, "svg"); err != nil {
		log.Warn().Str("path", dotPath).Err(err).Msg("svg failed")
		return false
	}
	return true
}

// runDot invokes graphviz dot to produce the given format.
func runDot(dotPath, outPath, format string) error {
	cmd := exec.Command("dot", "-T"+format, "-o", outPath, dotPath)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
