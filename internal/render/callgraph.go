package render

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"symflow/internal/disasm"
)

// Provenance categories of a call edge.
const (
	ProvDirect     = "direct"     // BL
	ProvDefined    = "defined"    // BLR whose register has known definitions
	ProvUnresolved = "unresolved" // BLR without
)

// ClassifyEdgeProv returns the provenance category for a call edge.
func ClassifyEdgeProv(e disasm.CallEdgeRecord) string {
	switch {
	case e.Kind == "bl":
		return ProvDirect
	case e.Via != "":
		return ProvDefined
	}
	return ProvUnresolved
}

// edgeColor returns the DOT color for an edge provenance category.
func edgeColor(prov string, t Theme) string {
	switch prov {
	case ProvDefined:
		return t.EdgeDefined
	case ProvUnresolved:
		return t.EdgeUnresolved
	}
	return t.EdgeDirect
}

// edgeStyle returns dot style attributes for provenance.
func edgeStyle(prov string) string {
	if prov == ProvUnresolved {
		return "dashed"
	}
	return "solid"
}

// CallgraphDOT renders a callgraph from functions and call edges as DOT.
// Targets that are not analysed functions are shown as plaintext nodes.
// maxNodes limits the number of function nodes rendered (0 = all).
func CallgraphDOT(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord, title string, t Theme, maxNodes int) string {
	// Deduplicate edges: caller→callee→prov.
	type edgeKey struct {
		from, to, prov string
	}
	dedupEdges := make(map[edgeKey]int)
	for _, e := range edges {
		prov := ClassifyEdgeProv(e)
		target := e.Target
		if e.Kind != "bl" {
			// BLR targets are grouped by register.
			target = e.FromFunc + ":" + e.Reg
		}
		if target == "" {
			continue
		}
		dedupEdges[edgeKey{e.FromFunc, target, prov}]++
	}

	// Identify referenced nodes (callers + callees).
	refNodes := make(map[string]bool)
	for k := range dedupEdges {
		refNodes[k.from] = true
		refNodes[k.to] = true
	}

	// Filter to functions that participate in edges.
	var renderFuncs []disasm.FuncRecord
	for _, f := range funcs {
		if refNodes[f.Name] {
			renderFuncs = append(renderFuncs, f)
		}
	}
	if maxNodes > 0 && len(renderFuncs) > maxNodes {
		renderFuncs = renderFuncs[:maxNodes]
	}
	funcSet := make(map[string]bool, len(renderFuncs))
	for _, f := range renderFuncs {
		funcSet[f.Name] = true
	}

	// Collect external nodes (targets not in funcSet, reachable from rendered funcs).
	externalNodes := make(map[string]bool)
	for k := range dedupEdges {
		if funcSet[k.from] && !funcSet[k.to] {
			externalNodes[k.to] = true
		}
	}

	var b strings.Builder
	b.WriteString("digraph callgraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.4;\n")
	b.WriteString("  ranksep=0.6;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Helvetica Neue,Helvetica,Arial\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.TextColor, dotEscape(title))
	}
	b.WriteByte('\n')

	for _, f := range renderFuncs {
		label := truncLabel(f.Name, 60)
		if f.Error != "" {
			fmt.Fprintf(&b, "  %s [label=%q, fillcolor=%q];\n", dotID(f.Name), label, t.TermFill)
		} else {
			fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(f.Name), label)
		}
	}
	b.WriteByte('\n')

	for _, name := range sortedKeys(externalNodes) {
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	keys := make([]edgeKey, 0, len(dedupEdges))
	for k := range dedupEdges {
		if funcSet[k.from] {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b edgeKey) int {
		return cmp.Or(cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to), cmp.Compare(a.prov, b.prov))
	})
	for _, k := range keys {
		count := dedupEdges[k]
		color := edgeColor(k.prov, t)
		attrs := fmt.Sprintf("color=%q, style=%q", color, edgeStyle(k.prov))
		if count > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
			if count > 2 {
				attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, count)
			}
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(k.from), dotID(k.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// CallgraphStats summarizes analysed functions and their call edges.
type CallgraphStats struct {
	TotalFunctions int
	FailedFuncs    int
	TotalBlocks    int
	TotalLoops     int
	TotalEdges     int
	BLEdges        int
	BLREdges       int
	BLRDefined     int
	ProvCounts     map[string]int
	TopCallers     []NameCount // sorted desc
	TopCallees     []NameCount // sorted desc
	LargestFuncs   []NameCount // sorted desc by block count
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes callgraph statistics from function and edge records.
func ComputeStats(funcs []disasm.FuncRecord, edges []disasm.CallEdgeRecord) CallgraphStats {
	stats := CallgraphStats{
		TotalFunctions: len(funcs),
		TotalEdges:     len(edges),
		ProvCounts:     make(map[string]int),
	}

	blocks := make(map[string]int, len(funcs))
	for _, f := range funcs {
		if f.Error != "" {
			stats.FailedFuncs++
		}
		stats.TotalBlocks += f.Blocks
		stats.TotalLoops += f.Loops
		blocks[f.Name] = f.Blocks
	}

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range edges {
		stats.ProvCounts[ClassifyEdgeProv(e)]++
		callerCount[e.FromFunc]++
		if e.Kind == "bl" {
			stats.BLEdges++
			if e.Target != "" {
				calleeCount[e.Target]++
			}
		} else {
			stats.BLREdges++
			if e.Via != "" {
				stats.BLRDefined++
			}
		}
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.LargestFuncs = topNMap(blocks, 20)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending by count
// then by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	slices.SortFunc(entries, func(a, b NameCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Name, b.Name))
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
