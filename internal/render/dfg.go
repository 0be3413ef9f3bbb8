package render

import (
	"fmt"

	"github.com/emicklei/dot"

	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

// DFGDOT renders a data-flow graph as DOT. Edges point from producer to
// consumer: stack edges are labelled with the consumer's operand index,
// variable edges with the variable name. External producers are drawn as
// plaintext nodes.
func DFGDOT[I any](g *dfg.Graph[I], title string, label func(I) string, t Theme) string {
	out := dot.NewGraph(dot.Directed)
	out.Attr("rankdir", "TB")
	out.Attr("bgcolor", t.Background)
	out.Attr("labelloc", "t")
	out.Attr("labeljust", "l")
	out.Attr("fontname", "Helvetica Neue,Helvetica")
	out.Attr("fontsize", "9")
	out.Attr("label", title)

	nodes := make(map[symbolic.NodeID]dot.Node, g.Len())
	for _, n := range g.Nodes() {
		dn := out.Node(dfgNodeID(n.ID()))
		switch inst, ok := n.Instruction(); {
		case n.External():
			dn.Label(n.Name()).
				Attr("shape", "plaintext").
				Attr("fontcolor", t.ExternalText)
		case ok && label != nil:
			dn.Box().Label(truncLabel(fmt.Sprintf("0x%x: %s", int64(n.ID()), label(inst)), 60))
		default:
			dn.Box().Label(fmt.Sprintf("0x%x", int64(n.ID())))
		}
		dn.Attr("fontsize", "8").Attr("color", t.NodeBorder)
		nodes[n.ID()] = dn
	}

	for _, e := range g.Edges() {
		from, ok := nodes[e.Source.Node]
		if !ok {
			continue
		}
		to := nodes[e.Dependent]
		de := out.Edge(from, to).Attr("arrowsize", "0.5").Attr("fontsize", "7")
		if e.Kind == dfg.VariableEdge {
			de.Label(string(e.Variable)).Attr("color", t.EdgeVariable).Dashed()
		} else {
			de.Label(fmt.Sprintf("#%d", e.Slot)).Attr("color", t.EdgeStack)
		}
	}
	return out.String()
}

func dfgNodeID(id symbolic.NodeID) string {
	if id < 0 {
		return fmt.Sprintf("ext%d", -int64(id))
	}
	return fmt.Sprintf("n%x", int64(id))
}
