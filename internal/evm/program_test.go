package evm

import (
	"bytes"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/symbolic"
)

func blocks(g *cfg.Graph[Instruction]) [][]int64 {
	var out [][]int64
	for _, n := range g.Nodes() {
		out = append(out, n.Offsets())
	}
	return out
}

func analyze(t *testing.T, code []byte) *Program {
	t.Helper()
	p, err := Analyze(code, Options{})
	require.NoError(t, err)
	return p
}

func TestArchFlowControl(t *testing.T) {
	a := Arch{}
	assert.Equal(t, arch.Terminator, a.FlowControl(Instruction{Op: STOP}))
	assert.Equal(t, arch.Terminator, a.FlowControl(Instruction{Op: OpCode(0xef)}))
	assert.Equal(t, arch.CanBranch, a.FlowControl(Instruction{Op: JUMP}))
	assert.Equal(t, arch.CanBranch, a.FlowControl(Instruction{Op: JUMPI}))
	assert.Equal(t, arch.Fallthrough, a.FlowControl(Instruction{Op: JUMPDEST}))
	assert.Equal(t, 33, a.Size(Instruction{Op: PUSH32, Immediate: make([]byte, 32)}))
	assert.Nil(t, a.ReadVariables(Instruction{Op: SLOAD}))
}

func TestDirectJump(t *testing.T) {
	p := analyze(t, []byte{
		0x60, 0x04, // 0: PUSH1 4
		0x56, // 2: JUMP
		0xfe, // 3: INVALID (dead)
		0x5b, // 4: JUMPDEST
		0x00, // 5: STOP
	})
	assert.Equal(t, [][]int64{{0, 2}, {4, 5}}, blocks(p.Graph))
	assert.Equal(t, []cfg.Edge{{From: 0, To: 4, Type: cfg.Unconditional}}, p.Graph.Edges())
}

func TestJumpiThroughSwap(t *testing.T) {
	p := analyze(t, []byte{
		0x60, 0x08, // 0: PUSH1 8
		0x60, 0x01, // 2: PUSH1 1
		0x90, // 4: SWAP1
		0x57, // 5: JUMPI
		0x00, // 6: STOP
		0xfe, // 7: INVALID
		0x5b, // 8: JUMPDEST
		0x00, // 9: STOP
	})
	assert.Equal(t, [][]int64{{0, 2, 4, 5}, {6}, {8, 9}}, blocks(p.Graph))
	assert.ElementsMatch(t, []cfg.Edge{
		{From: 0, To: 8, Type: cfg.Conditional},
		{From: 0, To: 6, Type: cfg.FallThrough},
	}, p.Graph.Edges())
}

func TestJumpThroughDupAndArithmetic(t *testing.T) {
	p := analyze(t, []byte{
		0x60, 0x02, // 0: PUSH1 2
		0x80,       // 2: DUP1
		0x60, 0x05, // 3: PUSH1 5
		0x01, // 5: ADD -> 7
		0x56, // 6: JUMP
		0x5b, // 7: JUMPDEST
		0x00, // 8: STOP
	})
	assert.Equal(t, [][]int64{{0, 2, 3, 5, 6}, {7, 8}}, blocks(p.Graph))
	assert.Equal(t, []cfg.Edge{{From: 0, To: 7, Type: cfg.Unconditional}}, p.Graph.Edges())
}

func TestJoinedReturnAddresses(t *testing.T) {
	p := analyze(t, []byte{
		0x36,       // 0x00: CALLDATASIZE
		0x60, 0x09, // 0x01: PUSH1 0x09
		0x57,       // 0x03: JUMPI
		0x60, 0x10, // 0x04: PUSH1 0x10
		0x60, 0x0c, // 0x06: PUSH1 0x0c
		0x56,       // 0x08: JUMP
		0x5b,       // 0x09: JUMPDEST
		0x60, 0x12, // 0x0a: PUSH1 0x12
		0x5b,       // 0x0c: JUMPDEST
		0x56,       // 0x0d: JUMP to 0x10 or 0x12
		0xfe, 0xfe, // 0x0e
		0x5b, 0x00, // 0x10: JUMPDEST STOP
		0x5b, 0x00, // 0x12: JUMPDEST STOP
	})
	assert.Equal(t, [][]int64{
		{0x00, 0x01, 0x03},
		{0x04, 0x06, 0x08},
		{0x09, 0x0a},
		{0x0c, 0x0d},
		{0x10, 0x11},
		{0x12, 0x13},
	}, blocks(p.Graph))

	n, ok := p.Graph.Node(0x0c)
	require.True(t, ok)
	var dests []int64
	for _, e := range n.Successors() {
		assert.Equal(t, cfg.Unconditional, e.Type)
		dests = append(dests, e.To)
	}
	slices.Sort(dests)
	assert.Equal(t, []int64{0x10, 0x12}, dests)

	jump, ok := p.DataFlow.Node(0x0d)
	require.True(t, ok)
	dest, ok := jump.StackDependency(0)
	require.True(t, ok)
	assert.Equal(t, []symbolic.Source{symbolic.StackSlot(0x04, 0), symbolic.StackSlot(0x0a, 0)}, dest.Sources())
}

func TestLoop(t *testing.T) {
	p := analyze(t, []byte{
		0x5b,       // 0: JUMPDEST
		0x60, 0x00, // 1: PUSH1 0
		0x56, // 3: JUMP
	})
	assert.Equal(t, [][]int64{{0, 1, 3}}, blocks(p.Graph))
	loops, err := p.Graph.Loops()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0}}, loops)
}

func TestLoopsWithEntryAtZero(t *testing.T) {
	// 0: PUSH1 4; 2: JUMP; 3: INVALID; 4: JUMPDEST; 5: STOP
	p := analyze(t, []byte{0x60, 0x04, 0x56, 0xfe, 0x5b, 0x00})
	loops, err := p.Graph.Loops()
	require.NoError(t, err)
	assert.Empty(t, loops)
	reach, err := p.Graph.Reachable()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4}, reach)

	// Same entry, block 4 jumps to itself.
	p = analyze(t, []byte{0x60, 0x04, 0x56, 0xfe, 0x5b, 0x60, 0x04, 0x56})
	loops, err = p.Graph.Loops()
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{4}}, loops)
}

func TestEdgesDeterministic(t *testing.T) {
	code := []byte{
		0x36, 0x60, 0x09, 0x57, 0x60, 0x10, 0x60, 0x0c, 0x56,
		0x5b, 0x60, 0x12, 0x5b, 0x56, 0xfe, 0xfe, 0x5b, 0x00, 0x5b, 0x00,
	}
	want := analyze(t, code).Graph.Edges()
	for range 50 {
		assert.Equal(t, want, analyze(t, code).Graph.Edges())
	}
	n, ok := analyze(t, code).Graph.Node(0x0c)
	require.True(t, ok)
	require.Len(t, n.Successors(), 2)
	assert.Equal(t, int64(0x10), n.Successors()[0].To)
	assert.Equal(t, int64(0x12), n.Successors()[1].To)
}

func TestUnresolvedJumps(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	// Target depends on calldata.
	p, err := Analyze([]byte{0x5f, 0x35, 0x56, 0x5b, 0x00}, Options{Logger: log})
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 1, 2}}, blocks(p.Graph))
	assert.Empty(t, p.Graph.Edges())
	assert.Contains(t, buf.String(), "unresolved jump target")

	// Target is not a JUMPDEST.
	buf.Reset()
	p, err = Analyze([]byte{0x60, 0x03, 0x56, 0x00}, Options{Logger: log})
	require.NoError(t, err)
	assert.Empty(t, p.Graph.Edges())
	assert.Contains(t, buf.String(), "jump to non-JUMPDEST")
}

func TestFallOffEnd(t *testing.T) {
	p := analyze(t, []byte{0x60, 0x01, 0x50}) // PUSH1 1; POP
	assert.Equal(t, [][]int64{{0, 2}}, blocks(p.Graph))
	assert.Empty(t, p.Graph.Edges())
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := Analyze(nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyCode)

	_, err = Analyze([]byte{0x56}, Options{}) // JUMP on an empty stack
	assert.ErrorIs(t, err, symbolic.ErrStackUnderflow)

	_, err = Analyze([]byte{
		0x36,       // 0: CALLDATASIZE
		0x60, 0x06, // 1: PUSH1 6
		0x57,       // 3: JUMPI
		0x60, 0x01, // 4: PUSH1 1
		0x5b, // 6: JUMPDEST, reached with one and zero items
		0x00, // 7: STOP
	}, Options{})
	assert.ErrorIs(t, err, symbolic.ErrStackImbalance)
}

func TestStaticResolver(t *testing.T) {
	code := []byte{
		0x60, 0x08, // 0: PUSH1 8
		0x57,       // 2: JUMPI (one operand short, static mode does not care)
		0x60, 0x09, // 3: PUSH1 9 (not a JUMPDEST)
		0x56, // 5: JUMP
		0xfe, // 6
		0xfe, // 7
		0x5b, // 8: JUMPDEST
		0x00, // 9: STOP
	}
	p, err := Analyze(code, Options{Static: true})
	require.NoError(t, err)
	assert.Nil(t, p.DataFlow)
	assert.Equal(t, [][]int64{{0, 2}, {3, 5}, {8, 9}}, blocks(p.Graph))
	assert.ElementsMatch(t, []cfg.Edge{
		{From: 0, To: 8, Type: cfg.Conditional},
		{From: 0, To: 3, Type: cfg.FallThrough},
	}, p.Graph.Edges())
}

func TestStaticMatchesSymbolicOnDirectJumps(t *testing.T) {
	code := []byte{
		0x60, 0x01, 0x60, 0x08, 0x57, // 0: PUSH1 1; PUSH1 8; JUMPI
		0x60, 0x0a, 0x56, // 5: PUSH1 10; JUMP
		0x5b, 0x00, // 8: JUMPDEST STOP
		0x5b, 0x00, // 10: JUMPDEST STOP
	}
	sym := analyze(t, code)
	st, err := Analyze(code, Options{Static: true})
	require.NoError(t, err)
	assert.Equal(t, blocks(sym.Graph), blocks(st.Graph))
	assert.Equal(t, sym.Graph.Edges(), st.Graph.Edges())
}
