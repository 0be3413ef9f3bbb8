package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addNode(t *testing.T, g *Graph[string], offsets ...int64) *Node[string] {
	t.Helper()
	insts := make([]string, len(offsets))
	for i := range offsets {
		insts[i] = "nop"
	}
	n, err := g.AddNode(insts, offsets)
	require.NoError(t, err)
	return n
}

func TestAddNode(t *testing.T) {
	g := New[string]()
	n := addNode(t, g, 0, 1, 2)
	assert.Equal(t, int64(0), n.ID())
	assert.Equal(t, int64(2), n.Last())
	assert.Equal(t, 3, n.Len())

	_, err := g.AddNode([]string{"x"}, []int64{0})
	assert.ErrorIs(t, err, ErrNodeExists)
	_, err = g.AddNode(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyNode)
}

func TestNodeContaining(t *testing.T) {
	g := New[string]()
	addNode(t, g, 0, 4, 8)
	addNode(t, g, 16, 20)

	n, ok := g.NodeContaining(4)
	require.True(t, ok)
	assert.Equal(t, int64(0), n.ID())

	n, ok = g.NodeContaining(20)
	require.True(t, ok)
	assert.Equal(t, int64(16), n.ID())

	_, ok = g.NodeContaining(12) // gap between nodes
	assert.False(t, ok)
	_, ok = g.NodeContaining(6) // inside the range but not an instruction offset
	assert.False(t, ok)
	_, ok = g.NodeContaining(-4)
	assert.False(t, ok)
}

func TestConnect(t *testing.T) {
	g := New[string]()
	addNode(t, g, 0)
	addNode(t, g, 1)
	addNode(t, g, 2)

	require.NoError(t, g.Connect(0, 1, FallThrough))
	require.NoError(t, g.Connect(0, 2, Conditional))
	require.NoError(t, g.Connect(0, 2, Conditional)) // duplicate ignored

	err := g.Connect(0, 2, FallThrough)
	assert.ErrorIs(t, err, ErrDuplicateFallThrough)

	err = g.Connect(0, 9, Unconditional)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	n, _ := g.Node(0)
	assert.Equal(t, []Edge{{0, 1, FallThrough}, {0, 2, Conditional}}, n.Successors())
	m, _ := g.Node(2)
	assert.Equal(t, []Edge{{0, 2, Conditional}}, m.Predecessors())
	assert.Len(t, g.Edges(), 2)
}

func TestEntrypoint(t *testing.T) {
	g := New[string]()
	_, ok := g.Entrypoint()
	assert.False(t, ok)
	assert.ErrorIs(t, g.SetEntrypoint(4), ErrNodeNotFound)

	addNode(t, g, 4)
	require.NoError(t, g.SetEntrypoint(4))
	n, ok := g.Entrypoint()
	require.True(t, ok)
	assert.Equal(t, int64(4), n.ID())
}

func TestEdgeTypeText(t *testing.T) {
	for _, et := range []EdgeType{FallThrough, Unconditional, Conditional, Abnormal} {
		b, err := et.MarshalText()
		require.NoError(t, err)
		var back EdgeType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, et, back)
	}
	var et EdgeType
	assert.Error(t, et.UnmarshalText([]byte("sideways")))
}

func TestReachableAndLoops(t *testing.T) {
	// 0 -> 1 -> 2 -> 1 (loop), 2 -> 3; 9 is unreachable
	g := New[string]()
	for _, id := range []int64{0, 1, 2, 3, 9} {
		addNode(t, g, id)
	}
	require.NoError(t, g.Connect(0, 1, FallThrough))
	require.NoError(t, g.Connect(1, 2, FallThrough))
	require.NoError(t, g.Connect(2, 1, Conditional))
	require.NoError(t, g.Connect(2, 3, FallThrough))
	require.NoError(t, g.Connect(9, 9, Unconditional))
	require.NoError(t, g.SetEntrypoint(0))

	reach, err := g.Reachable()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3}, reach)

	loops, err := g.Loops()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 2}, {9}}, loops)
}

func TestLoopsAcyclicFromZero(t *testing.T) {
	g := New[string]()
	for _, id := range []int64{0, 4} {
		addNode(t, g, id)
	}
	require.NoError(t, g.Connect(0, 4, Unconditional))
	require.NoError(t, g.SetEntrypoint(0))

	loops, err := g.Loops()
	require.NoError(t, err)
	assert.Empty(t, loops)

	require.NoError(t, g.Connect(4, 0, Unconditional))
	loops, err = g.Loops()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 4}}, loops)
}

func TestDigraphKeys(t *testing.T) {
	g := New[string]()
	addNode(t, g, 0)
	addNode(t, g, 0x10)
	require.NoError(t, g.Connect(0, 0x10, FallThrough))

	d, err := g.Digraph()
	require.NoError(t, err)
	order, err := d.Order()
	require.NoError(t, err)
	assert.Equal(t, 2, order)
	e, err := d.Edge("0x0", "0x10")
	require.NoError(t, err)
	assert.Equal(t, "fallthrough", e.Properties.Attributes["type"])
	assert.Equal(t, "0x0", VertexKey(0))
	assert.Equal(t, "-0x4", VertexKey(-4))
	id, err := vertexID(VertexKey(-4))
	require.NoError(t, err)
	assert.Equal(t, int64(-4), id)
}
