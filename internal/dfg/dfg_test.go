package dfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symflow/internal/symbolic"
)

func TestGetOrAdd(t *testing.T) {
	g := New[string]()
	n := g.GetOrAdd(0x10, "push")
	assert.Same(t, n, g.GetOrAdd(0x10, "other"))

	inst, ok := n.Instruction()
	require.True(t, ok)
	assert.Equal(t, "push", inst)
	assert.False(t, n.External())
	assert.Equal(t, 1, g.Len())
}

func TestAddExternal(t *testing.T) {
	g := New[string]()
	a := g.AddExternal("exception")
	b := g.AddExternal("arg0")
	assert.Equal(t, symbolic.NodeID(-1), a.ID())
	assert.Equal(t, symbolic.NodeID(-2), b.ID())
	assert.True(t, a.External())
	assert.Equal(t, "exception", a.Name())
	_, ok := a.Instruction()
	assert.False(t, ok)
}

func TestSetDependencies(t *testing.T) {
	g := New[string]()
	p1 := g.GetOrAdd(1, "push 1")
	p2 := g.GetOrAdd(2, "push 2")
	w := g.GetOrAdd(3, "def r")
	add := g.GetOrAdd(4, "add")

	add.SetDependencies(
		[]symbolic.Value{
			symbolic.NewValue(symbolic.StackSlot(1, 0)),
			symbolic.NewValue(symbolic.StackSlot(2, 0)),
		},
		[]symbolic.VariableBinding{{Name: "r", Value: symbolic.NewValue(symbolic.VariableOf(3, "r"))}},
	)

	deps := add.Dependencies()
	require.Len(t, deps, 3)
	assert.Equal(t, Edge{Dependent: 4, Kind: StackEdge, Slot: 0, Source: symbolic.StackSlot(1, 0)}, deps[0])
	assert.Equal(t, Edge{Dependent: 4, Kind: StackEdge, Slot: 1, Source: symbolic.StackSlot(2, 0)}, deps[1])
	assert.Equal(t, Edge{Dependent: 4, Kind: VariableEdge, Variable: "r", Source: symbolic.VariableOf(3, "r")}, deps[2])

	assert.Len(t, p1.Dependants(), 1)
	assert.Len(t, p2.Dependants(), 1)
	assert.Len(t, w.Dependants(), 1)

	v, ok := add.StackDependency(1)
	require.True(t, ok)
	assert.True(t, v.Contains(symbolic.StackSlot(2, 0)))
	_, ok = add.StackDependency(2)
	assert.False(t, ok)
}

func TestSetDependenciesReplaces(t *testing.T) {
	g := New[string]()
	p1 := g.GetOrAdd(1, "a")
	p2 := g.GetOrAdd(2, "b")
	use := g.GetOrAdd(3, "use")

	use.SetDependencies([]symbolic.Value{symbolic.NewValue(symbolic.StackSlot(1, 0))}, nil)
	require.Len(t, p1.Dependants(), 1)

	use.SetDependencies([]symbolic.Value{symbolic.NewValue(symbolic.StackSlot(2, 0))}, nil)
	assert.Empty(t, p1.Dependants(), "stale incoming edge left behind")
	assert.Len(t, p2.Dependants(), 1)
	assert.Len(t, g.Edges(), 1)

	use.Disconnect()
	assert.Empty(t, p2.Dependants())
	assert.Empty(t, g.Edges())
}

func TestNodesOrdered(t *testing.T) {
	g := New[int]()
	g.GetOrAdd(8, 0)
	g.GetOrAdd(4, 0)
	g.AddExternal("x")
	var ids []symbolic.NodeID
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []symbolic.NodeID{-1, 4, 8}, ids)
}
