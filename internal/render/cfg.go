package render

import (
	"fmt"
	"strings"

	"symflow/internal/cfg"
)

// maxBlockLines is the number of instruction lines shown before a block
// label is elided in the middle.
const maxBlockLines = 12

// CFGDOT renders a control-flow graph as DOT.
// Each basic block is a node; edges represent control flow.
// Entry block is highlighted. Conditional edges use T/F colors.
// label renders one instruction; nil prints offsets only.
func CFGDOT[I any](g *cfg.Graph[I], title string, label func(I) string, t Theme) string {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return ""
	}
	entry, _ := g.Entrypoint()

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(title))
	b.WriteByte('\n')

	// Render blocks as nodes.
	for _, n := range nodes {
		insts, offs := n.Instructions(), n.Offsets()
		lines := make([]string, 0, len(insts))
		for i, inst := range insts {
			line := fmt.Sprintf("0x%x", offs[i])
			if label != nil {
				line += ": " + label(inst)
			}
			lines = append(lines, dotEscape(line))
		}
		// Truncate long blocks.
		if len(lines) > maxBlockLines {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}
		text := strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"

		attrs := ""
		if entry != nil && entry.ID() == n.ID() {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if len(n.Successors()) == 0 {
			attrs += fmt.Sprintf(", fillcolor=%q", t.TermFill)
		}
		fmt.Fprintf(&b, "  %s [label=<%s>%s];\n", blockID(n.ID()), text, attrs)
	}
	b.WriteByte('\n')

	// Render edges.
	for _, n := range nodes {
		conditional := false
		for _, e := range n.Successors() {
			conditional = conditional || e.Type == cfg.Conditional
		}
		for _, e := range n.Successors() {
			from, to := blockID(e.From), blockID(e.To)
			switch {
			case e.Type == cfg.Conditional:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					from, to, t.EdgeTaken, t.EdgeTaken)
			case e.Type == cfg.FallThrough && conditional:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					from, to, t.EdgeFallthrough, t.EdgeFallthrough)
			case e.Type == cfg.Abnormal:
				fmt.Fprintf(&b, "  %s -> %s [color=%q, style=dashed];\n", from, to, t.EdgeAbnormal)
			default:
				fmt.Fprintf(&b, "  %s -> %s [color=%q];\n", from, to, t.EdgeDirect)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func blockID(off int64) string {
	if off < 0 {
		return fmt.Sprintf("bb_m%x", -off)
	}
	return fmt.Sprintf("bb%x", off)
}
