package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/dominikbraun/graph"
)

// VertexKey is the Digraph key of a node id, e.g. "0x1f". Keys are never
// empty: graph's Tarjan walk treats the zero key as its stack marker, so an
// integer key would lose the node at offset 0.
func VertexKey(id int64) string { return fmt.Sprintf("%#x", id) }

func vertexID(key string) (int64, error) { return strconv.ParseInt(key, 0, 64) }

// Digraph exports the block structure as a dominikbraun/graph directed graph
// keyed by VertexKey. Parallel edges of different types collapse into one;
// the first edge's type is kept in the "type" attribute.
func (g *Graph[I]) Digraph() (graph.Graph[string, int64], error) {
	d := graph.New(VertexKey, graph.Directed())
	for _, n := range g.Nodes() {
		if err := d.AddVertex(n.id); err != nil {
			return nil, err
		}
	}
	for _, e := range g.Edges() {
		err := d.AddEdge(VertexKey(e.From), VertexKey(e.To), graph.EdgeAttribute("type", e.Type.String()))
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, err
		}
	}
	return d, nil
}

// Reachable returns the ids of nodes reachable from the entrypoint, in
// address order.
func (g *Graph[I]) Reachable() ([]int64, error) {
	entry, ok := g.Entrypoint()
	if !ok {
		return nil, ErrNodeNotFound
	}
	d, err := g.Digraph()
	if err != nil {
		return nil, err
	}
	var (
		out    []int64
		keyErr error
	)
	err = graph.BFS(d, VertexKey(entry.id), func(key string) bool {
		id, err := vertexID(key)
		if err != nil {
			keyErr = err
			return true
		}
		out = append(out, id)
		return false
	})
	if err = cmp.Or(err, keyErr); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// Loops returns the strongly connected components that contain a cycle:
// components of two or more nodes, or single nodes with a self edge. Each
// component is sorted and the list is ordered by first id.
func (g *Graph[I]) Loops() ([][]int64, error) {
	d, err := g.Digraph()
	if err != nil {
		return nil, err
	}
	sccs, err := graph.StronglyConnectedComponents(d)
	if err != nil {
		return nil, err
	}
	var out [][]int64
	for _, keys := range sccs {
		if len(keys) == 0 {
			continue
		}
		c := make([]int64, len(keys))
		for i, k := range keys {
			if c[i], err = vertexID(k); err != nil {
				return nil, err
			}
		}
		if len(c) == 1 && !g.selfLoop(c[0]) {
			continue
		}
		slices.Sort(c)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b []int64) int { return cmp.Compare(a[0], b[0]) })
	return out, nil
}

func (g *Graph[I]) selfLoop(id int64) bool {
	n, ok := g.nodes.Get(id)
	if !ok {
		return false
	}
	for _, e := range n.out {
		if e.To == id {
			return true
		}
	}
	return false
}
