package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"
	latrender "github.com/zboralski/lattice/render"

	"symflow/internal/callgraph"
	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/flow"
	"symflow/internal/output"
	"symflow/internal/render"
)

var errNoDataFlow = errors.New("--dfg needs symbolic mode")

// graphOutput is where and how one analysed graph is written.
type graphOutput struct {
	format  output.Format
	outDir  string
	dfg     bool
	lattice bool
	theme   render.Theme
}

func addGraphFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "traversal: static or symbolic (default from config)")
	cmd.Flags().String("format", "", "output: text, json, msgpack or dot (default from config)")
	cmd.Flags().String("out", "", "output directory (default: stdout)")
	cmd.Flags().Bool("dfg", false, "with --format dot, render the data-flow graph")
	cmd.Flags().Bool("lattice", false, "with --format dot, render through lattice")
	cmd.Flags().String("theme", "", "DOT theme: nasa or mono (default from config)")
}

// flagOrConfig returns the named string flag when set, else def.
func flagOrConfig(cmd *cobra.Command, name, def string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return def
}

func graphOptions(cmd *cobra.Command) (graphOutput, error) {
	var g graphOutput
	var err error
	if g.format, err = output.ParseFormat(flagOrConfig(cmd, "format", conf.Format)); err != nil {
		return g, err
	}
	name := flagOrConfig(cmd, "theme", conf.Theme)
	var ok bool
	if g.theme, ok = render.ThemeByName(name); !ok {
		return g, fmt.Errorf("unknown theme %q", name)
	}
	g.outDir, _ = cmd.Flags().GetString("out")
	g.dfg, _ = cmd.Flags().GetBool("dfg")
	g.lattice, _ = cmd.Flags().GetBool("lattice")
	if g.dfg && g.lattice {
		return g, errors.New("--dfg and --lattice are mutually exclusive")
	}
	return g, nil
}

// staticMode reports whether the command runs the static builder.
func staticMode(cmd *cobra.Command) (bool, error) {
	switch mode := flagOrConfig(cmd, "mode", conf.Mode); mode {
	case "static":
		return true, nil
	case "symbolic":
		return false, nil
	default:
		return false, fmt.Errorf("unknown mode %q", mode)
	}
}

func flowOptions() []flow.Option {
	return []flow.Option{flow.WithLogger(log), flow.WithMaxSteps(conf.MaxSteps)}
}

// emitGraph writes one graph to w, or to a file under out.outDir. It returns
// the written path ("" for w).
func emitGraph[I any](w io.Writer, out graphOutput, name string, g *cfg.Graph[I], df *dfg.Graph[I],
	label, callee func(I) string) (string, error) {

	var data string
	ext := out.format.Ext()
	switch {
	case out.format != output.FormatDOT:
		rec := output.NewGraphRecord(name, g, df, label)
		if out.outDir == "" {
			return "", output.Encode(w, out.format, rec)
		}
		return output.WriteFile(out.outDir, sanitizeFilename(name), out.format, rec)
	case out.lattice:
		lcfg := callgraph.FromGraph(name, g, callee)
		data = latrender.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, name)
	case out.dfg:
		if df == nil {
			return "", errNoDataFlow
		}
		data = render.DFGDOT(df, name, label, out.theme)
	default:
		data = render.CFGDOT(g, name, label, out.theme)
	}

	if out.outDir == "" {
		_, err := io.WriteString(w, data)
		return "", err
	}
	path := filepath.Join(out.outDir, sanitizeFilename(name)+ext)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	return path, os.WriteFile(path, []byte(data), 0644)
}

// sanitizeFilename makes a string safe for use as a filename.
func sanitizeFilename(name string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	s := r.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
