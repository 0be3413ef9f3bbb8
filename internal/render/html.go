package render

import (
	"fmt"
	"io"
	"strings"
)

// IndexLinks names the rendered artifacts the index page links to.
type IndexLinks struct {
	CallgraphSVG bool
	ReachableSVG bool
	CFGCount     int // per-function CFG SVGs under cfg/
}

// WriteIndexHTML writes a small HTML page summarizing the analysis output.
func WriteIndexHTML(w io.Writer, stats CallgraphStats, title string, links IndexLinks,
	entryPoints []string, reachableCount int) {

	blrPct := 0.0
	if stats.BLREdges > 0 {
		blrPct = float64(stats.BLRDefined) / float64(stats.BLREdges) * 100
	}
	cfgCount := links.CFGCount

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: #1A1A1A; background: #F5F5F5; margin: 2em; max-width: 900px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
.prov { display: inline-block; width: 10px; height: 10px; border-radius: 2px; margin-right: 4px; vertical-align: middle; }
a { color: #0B3D91; }
.bar { height: 8px; border-radius: 2px; display: inline-block; vertical-align: middle; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: #0B3D91; }
.ep { font-family: "Courier New", monospace; font-size: 12px; }
</style>
</head>
<body>
`, htmlEscape(title))

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(title))

	// Summary table.
	fmt.Fprintln(w, "<h2>Summary</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><td>Functions</td><td class=\"num\">%d</td></tr>\n", stats.TotalFunctions)
	if stats.FailedFuncs > 0 {
		fmt.Fprintf(w, "<tr><td>Failed functions</td><td class=\"num\">%d</td></tr>\n", stats.FailedFuncs)
	}
	fmt.Fprintf(w, "<tr><td>Basic blocks</td><td class=\"num\">%d</td></tr>\n", stats.TotalBlocks)
	fmt.Fprintf(w, "<tr><td>Loops</td><td class=\"num\">%d</td></tr>\n", stats.TotalLoops)
	fmt.Fprintf(w, "<tr><td>Total edges</td><td class=\"num\">%d</td></tr>\n", stats.TotalEdges)
	fmt.Fprintf(w, "<tr><td>BL (direct)</td><td class=\"num\">%d</td></tr>\n", stats.BLEdges)
	fmt.Fprintf(w, "<tr><td>BLR (indirect)</td><td class=\"num\">%d</td></tr>\n", stats.BLREdges)
	fmt.Fprintf(w, "<tr><td>BLR with definitions</td><td class=\"num\">%d (%.1f%%)</td></tr>\n", stats.BLRDefined, blrPct)
	fmt.Fprintf(w, "<tr><td>Entry points</td><td class=\"num\">%d</td></tr>\n", len(entryPoints))
	fmt.Fprintf(w, "<tr><td>Reachable functions</td><td class=\"num\">%d</td></tr>\n", reachableCount)
	if cfgCount > 0 {
		fmt.Fprintf(w, "<tr><td>CFGs generated</td><td class=\"num\">%d</td></tr>\n", cfgCount)
	}
	fmt.Fprintln(w, "</table>")

	// Provenance breakdown.
	fmt.Fprintln(w, "<h2>Edge Provenance</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th></th><th>Category</th><th>Count</th><th></th></tr>")
	provOrder := []string{ProvDirect, ProvDefined, ProvUnresolved}
	provLabels := map[string]string{
		ProvDirect:     "BL direct",
		ProvDefined:    "BLR with definitions",
		ProvUnresolved: "BLR unresolved",
	}
	for _, prov := range provOrder {
		count := stats.ProvCounts[prov]
		if count == 0 {
			continue
		}
		color := edgeColor(prov, NASA)
		barW := 0
		if stats.TotalEdges > 0 {
			barW = count * 200 / stats.TotalEdges
			if barW < 2 {
				barW = 2
			}
		}
		fmt.Fprintf(w, "<tr><td><span class=\"prov\" style=\"background:%s\"></span></td><td>%s</td><td class=\"num\">%d</td><td><span class=\"bar\" style=\"width:%dpx;background:%s\"></span></td></tr>\n",
			color, provLabels[prov], count, barW, color)
	}
	fmt.Fprintln(w, "</table>")

	// Graphs — only link SVGs (dot files can't be opened in a browser).
	fmt.Fprintln(w, "<h2>Graphs</h2>")
	fmt.Fprint(w, "<p>")
	var anchors []string
	if links.ReachableSVG {
		anchors = append(anchors, `<a href="reachable.svg">Reachable call tree</a>`)
	}
	if links.CallgraphSVG {
		anchors = append(anchors, `<a href="callgraph.svg">Function-level graph</a>`)
	}
	if cfgCount > 0 {
		anchors = append(anchors, `<a href="cfg/">Per-function CFGs</a>`)
	}
	if len(anchors) == 0 {
		fmt.Fprint(w, `<span style="color:#9E9E9E">Render the .dot files with Graphviz to produce SVGs</span>`)
	} else {
		for i, link := range anchors {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprint(w, link)
		}
	}
	fmt.Fprintln(w, "</p>")

	// Entry points.
	if len(entryPoints) > 0 {
		fmt.Fprintln(w, "<h2>Entry Points</h2>")
		fmt.Fprintf(w, "<p>%d functions with no incoming BL edges (roots of the call tree):</p>\n", len(entryPoints))
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Function</th></tr>")
		limit := 50
		if len(entryPoints) < limit {
			limit = len(entryPoints)
		}
		for _, ep := range entryPoints[:limit] {
			cfgLink := ""
			if cfgCount > 0 {
				safe := safeFuncNameHTML(ep)
				cfgLink = fmt.Sprintf(` <a href="cfg/%s.svg" style="font-size:11px">[cfg]</a>`, safe)
			}
			fmt.Fprintf(w, "<tr><td class=\"ep\">%s%s</td></tr>\n", htmlEscape(ep), cfgLink)
		}
		if len(entryPoints) > limit {
			fmt.Fprintf(w, "<tr><td>... and %d more</td></tr>\n", len(entryPoints)-limit)
		}
		fmt.Fprintln(w, "</table>")
	}

	// Largest functions by block count.
	if len(stats.LargestFuncs) > 0 {
		fmt.Fprintln(w, "<h2>Largest Functions</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Function</th><th>Blocks</th><th></th></tr>")
		maxCount := max(stats.LargestFuncs[0].Count, 1)
		for _, nc := range stats.LargestFuncs {
			barW := max(nc.Count*120/maxCount, 2)
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
				htmlEscape(nc.Name), nc.Count, barW)
		}
		fmt.Fprintln(w, "</table>")
	}

	// Top callers.
	if len(stats.TopCallers) > 0 {
		fmt.Fprintln(w, "<h2>Top Callers</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Function</th><th>Outgoing</th></tr>")
		limit := 15
		if len(stats.TopCallers) < limit {
			limit = len(stats.TopCallers)
		}
		for _, nc := range stats.TopCallers[:limit] {
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(nc.Name), nc.Count)
		}
		fmt.Fprintln(w, "</table>")
	}

	// Top callees.
	if len(stats.TopCallees) > 0 {
		fmt.Fprintln(w, "<h2>Top Callees</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Function</th><th>Incoming</th></tr>")
		limit := 15
		if len(stats.TopCallees) < limit {
			limit = len(stats.TopCallees)
		}
		for _, nc := range stats.TopCallees[:limit] {
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(nc.Name), nc.Count)
		}
		fmt.Fprintln(w, "</table>")
	}

	fmt.Fprintln(w, "</body></html>")
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// safeFuncNameHTML converts a function name to a safe filename.
// Must match sanitizeFilename in cmd/symflow/commands.
func safeFuncNameHTML(name string) string {
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
