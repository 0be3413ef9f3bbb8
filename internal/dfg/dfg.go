// Package dfg holds the data-flow graph built during traversal: one node per
// executed instruction (plus external sources), with edges from each
// dependent node to the sources of the values it consumed.
package dfg

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"symflow/internal/symbolic"
)

// EdgeKind tells whether a dependency came from the operand stack or from a
// variable.
type EdgeKind uint8

const (
	StackEdge EdgeKind = iota
	VariableEdge
)

func (k EdgeKind) String() string {
	if k == VariableEdge {
		return "var"
	}
	return "stack"
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Edge links a dependent node to one source of one of its operands. For stack
// edges Slot is the dependency index (0 is the deepest popped operand); for
// variable edges Variable names the read variable.
type Edge struct {
	Dependent symbolic.NodeID
	Kind      EdgeKind
	Slot      int
	Variable  symbolic.Variable
	Source    symbolic.Source
}

func (e Edge) compare(o Edge) int {
	if c := cmp.Compare(e.Dependent, o.Dependent); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Kind, o.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Slot, o.Slot); c != 0 {
		return c
	}
	if c := strings.Compare(string(e.Variable), string(o.Variable)); c != 0 {
		return c
	}
	return e.Source.Compare(o.Source)
}

func (e Edge) String() string {
	if e.Kind == VariableEdge {
		return fmt.Sprintf("%#x.%s <- %s", int64(e.Dependent), e.Variable, e.Source)
	}
	return fmt.Sprintf("%#x[%d] <- %s", int64(e.Dependent), e.Slot, e.Source)
}

// Node is a data-flow node. Nodes are owned by their Graph.
type Node[I any] struct {
	graph    *Graph[I]
	id       symbolic.NodeID
	inst     I
	hasInst  bool
	name     string
	stack    []symbolic.Value
	vars     []symbolic.VariableBinding
	incoming map[Edge]struct{}
}

func (n *Node[I]) ID() symbolic.NodeID { return n.id }

// Instruction returns the instruction this node was created for. External
// nodes have none.
func (n *Node[I]) Instruction() (I, bool) { return n.inst, n.hasInst }

// Name is set for external nodes.
func (n *Node[I]) Name() string { return n.name }

// External reports whether the node stands for a value produced outside the
// analysed code.
func (n *Node[I]) External() bool { return n.id < 0 }

// StackDependencies returns one value per popped operand, deepest first.
func (n *Node[I]) StackDependencies() []symbolic.Value {
	return slices.Clone(n.stack)
}

// StackDependency returns the i-th popped operand (0 is the deepest).
func (n *Node[I]) StackDependency(i int) (symbolic.Value, bool) {
	if i < 0 || i >= len(n.stack) {
		return symbolic.Value{}, false
	}
	return n.stack[i], true
}

// VariableDependencies returns the read variables in name order.
func (n *Node[I]) VariableDependencies() []symbolic.VariableBinding {
	return slices.Clone(n.vars)
}

// Dependencies returns the node's outgoing edges in a stable order.
func (n *Node[I]) Dependencies() []Edge {
	var out []Edge
	for slot, v := range n.stack {
		for _, src := range v.Sources() {
			out = append(out, Edge{Dependent: n.id, Kind: StackEdge, Slot: slot, Source: src})
		}
	}
	for _, kv := range n.vars {
		for _, src := range kv.Value.Sources() {
			out = append(out, Edge{Dependent: n.id, Kind: VariableEdge, Variable: kv.Name, Source: src})
		}
	}
	return out
}

// Dependants returns the edges of nodes that consume values produced here.
func (n *Node[I]) Dependants() []Edge {
	out := slices.Collect(maps.Keys(n.incoming))
	slices.SortFunc(out, Edge.compare)
	return out
}

// SetDependencies replaces the node's dependencies. Edges recorded by an
// earlier call are removed from their producers first.
func (n *Node[I]) SetDependencies(stack []symbolic.Value, vars []symbolic.VariableBinding) {
	n.Disconnect()
	n.stack = slices.Clone(stack)
	n.vars = slices.Clone(vars)
	slices.SortFunc(n.vars, func(a, b symbolic.VariableBinding) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
	for _, e := range n.Dependencies() {
		p := n.graph.producer(e.Source.Node)
		if p.incoming == nil {
			p.incoming = make(map[Edge]struct{})
		}
		p.incoming[e] = struct{}{}
	}
}

// Disconnect drops all of the node's dependencies.
func (n *Node[I]) Disconnect() {
	for _, e := range n.Dependencies() {
		if p, ok := n.graph.nodes[e.Source.Node]; ok {
			delete(p.incoming, e)
		}
	}
	n.stack = nil
	n.vars = nil
}

func (n *Node[I]) String() string {
	if n.External() {
		return fmt.Sprintf("ext %s (%d)", n.name, int64(n.id))
	}
	return fmt.Sprintf("%#x", int64(n.id))
}

// Graph is an arena of data-flow nodes keyed by id.
type Graph[I any] struct {
	nodes        map[symbolic.NodeID]*Node[I]
	lastExternal symbolic.NodeID
}

// New returns an empty graph.
func New[I any]() *Graph[I] {
	return &Graph[I]{nodes: make(map[symbolic.NodeID]*Node[I])}
}

// GetOrAdd returns the node for id, creating it with inst if absent.
func (g *Graph[I]) GetOrAdd(id symbolic.NodeID, inst I) *Node[I] {
	n := g.producer(id)
	if !n.hasInst && id >= 0 {
		n.inst = inst
		n.hasInst = true
	}
	return n
}

// AddExternal creates a node for a value produced outside the code, such as
// an exception object delivered to a handler. External ids count down from -1.
func (g *Graph[I]) AddExternal(name string) *Node[I] {
	g.lastExternal--
	n := g.producer(g.lastExternal)
	n.name = name
	return n
}

// producer returns the node for id, creating a bare node if needed.
func (g *Graph[I]) producer(id symbolic.NodeID) *Node[I] {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node[I]{graph: g, id: id}
	g.nodes[id] = n
	return n
}

// Node returns the node for id.
func (g *Graph[I]) Node(id symbolic.NodeID) (*Node[I], bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph[I]) Len() int { return len(g.nodes) }

// Nodes returns all nodes ordered by id.
func (g *Graph[I]) Nodes() []*Node[I] {
	out := slices.Collect(maps.Values(g.nodes))
	slices.SortFunc(out, func(a, b *Node[I]) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Edges returns every dependency edge ordered by dependent, kind and slot.
func (g *Graph[I]) Edges() []Edge {
	var out []Edge
	for _, n := range g.Nodes() {
		out = append(out, n.Dependencies()...)
	}
	return out
}
