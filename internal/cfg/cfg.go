// Package cfg holds the basic-block control-flow graph produced by the
// assembler: nodes keyed by the offset of their first instruction, edges
// stored as (from, to, type) records.
package cfg

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/btree"
)

var (
	ErrNodeExists           = errors.New("cfg: node already exists")
	ErrNodeNotFound         = errors.New("cfg: node not found")
	ErrEmptyNode            = errors.New("cfg: node has no instructions")
	ErrDuplicateFallThrough = errors.New("cfg: second fallthrough edge")
)

// EdgeType classifies a control transfer.
type EdgeType uint8

const (
	FallThrough EdgeType = iota
	Unconditional
	Conditional
	Abnormal
)

func (t EdgeType) String() string {
	switch t {
	case FallThrough:
		return "fallthrough"
	case Unconditional:
		return "unconditional"
	case Conditional:
		return "conditional"
	case Abnormal:
		return "abnormal"
	}
	return fmt.Sprintf("EdgeType(%d)", t)
}

// MarshalText implements encoding.TextMarshaler.
func (t EdgeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EdgeType) UnmarshalText(b []byte) error {
	for c := FallThrough; c <= Abnormal; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("cfg: unknown edge type %q", b)
}

// Edge is a directed control transfer between two nodes, identified by the
// offsets of their first instructions.
type Edge struct {
	From int64
	To   int64
	Type EdgeType
}

// Node is a basic block: a contiguous, address-ordered run of instructions.
type Node[I any] struct {
	id      int64
	insts   []I
	offsets []int64
	out     []Edge
	in      []Edge
}

// ID is the offset of the first instruction.
func (n *Node[I]) ID() int64 { return n.id }

func (n *Node[I]) Instructions() []I { return n.insts }

func (n *Node[I]) Offsets() []int64 { return n.offsets }

func (n *Node[I]) Len() int { return len(n.insts) }

// Last returns the offset of the final instruction.
func (n *Node[I]) Last() int64 { return n.offsets[len(n.offsets)-1] }

// Contains reports whether addr is the offset of one of the node's
// instructions.
func (n *Node[I]) Contains(addr int64) bool {
	_, ok := slices.BinarySearch(n.offsets, addr)
	return ok
}

func (n *Node[I]) Successors() []Edge { return n.out }

func (n *Node[I]) Predecessors() []Edge { return n.in }

// Graph owns the nodes of one control-flow graph.
type Graph[I any] struct {
	nodes     btree.Map[int64, *Node[I]]
	entry     int64
	hasEntry  bool
	edgeCount int
}

// New returns an empty graph.
func New[I any]() *Graph[I] {
	return &Graph[I]{}
}

// AddNode creates a node from parallel instruction and offset slices. The
// offsets must be ascending.
func (g *Graph[I]) AddNode(insts []I, offsets []int64) (*Node[I], error) {
	if len(insts) == 0 || len(insts) != len(offsets) {
		return nil, ErrEmptyNode
	}
	id := offsets[0]
	if _, ok := g.nodes.Get(id); ok {
		return nil, fmt.Errorf("%#x: %w", id, ErrNodeExists)
	}
	n := &Node[I]{id: id, insts: insts, offsets: offsets}
	g.nodes.Set(id, n)
	return n, nil
}

// Node returns the node whose first instruction is at id.
func (g *Graph[I]) Node(id int64) (*Node[I], bool) {
	return g.nodes.Get(id)
}

// NodeContaining returns the node holding an instruction at addr.
func (g *Graph[I]) NodeContaining(addr int64) (*Node[I], bool) {
	var found *Node[I]
	g.nodes.Descend(addr, func(_ int64, n *Node[I]) bool {
		found = n
		return false
	})
	if found == nil || !found.Contains(addr) {
		return nil, false
	}
	return found, true
}

// Nodes returns all nodes in address order.
func (g *Graph[I]) Nodes() []*Node[I] {
	out := make([]*Node[I], 0, g.nodes.Len())
	g.nodes.Scan(func(_ int64, n *Node[I]) bool {
		out = append(out, n)
		return true
	})
	return out
}

func (g *Graph[I]) Len() int { return g.nodes.Len() }

// Connect adds an edge. Re-adding an identical edge is a no-op; a node may
// have at most one fallthrough successor.
func (g *Graph[I]) Connect(from, to int64, t EdgeType) error {
	src, ok := g.nodes.Get(from)
	if !ok {
		return fmt.Errorf("connect from %#x: %w", from, ErrNodeNotFound)
	}
	dst, ok := g.nodes.Get(to)
	if !ok {
		return fmt.Errorf("connect to %#x: %w", to, ErrNodeNotFound)
	}
	e := Edge{From: from, To: to, Type: t}
	for _, o := range src.out {
		if o == e {
			return nil
		}
		if t == FallThrough && o.Type == FallThrough {
			return fmt.Errorf("%#x -> %#x (already -> %#x): %w", from, to, o.To, ErrDuplicateFallThrough)
		}
	}
	src.out = append(src.out, e)
	dst.in = append(dst.in, e)
	g.edgeCount++
	return nil
}

// SetEntrypoint marks the node at id as the entry.
func (g *Graph[I]) SetEntrypoint(id int64) error {
	if _, ok := g.nodes.Get(id); !ok {
		return fmt.Errorf("entrypoint %#x: %w", id, ErrNodeNotFound)
	}
	g.entry = id
	g.hasEntry = true
	return nil
}

// Entrypoint returns the entry node.
func (g *Graph[I]) Entrypoint() (*Node[I], bool) {
	if !g.hasEntry {
		return nil, false
	}
	return g.nodes.Get(g.entry)
}

// Edges returns every edge, ordered by source node then insertion.
func (g *Graph[I]) Edges() []Edge {
	out := make([]Edge, 0, g.edgeCount)
	g.nodes.Scan(func(_ int64, n *Node[I]) bool {
		out = append(out, n.out...)
		return true
	})
	return out
}
