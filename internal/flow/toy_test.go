package flow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/symbolic"
)

// op is a one-byte instruction of a toy machine used to drive the builders.
// Non-branching ops fall through; branching ops list their successors.
type op struct {
	off    int64
	fc     arch.FlowControl
	pops   int
	pushes int
	reads  []symbolic.Variable
	writes []symbolic.Variable
	succ   []arch.Successor
}

type toyArch struct{}

func (toyArch) Offset(o op) int64                         { return o.off }
func (toyArch) Size(op) int                               { return 1 }
func (toyArch) FlowControl(o op) arch.FlowControl         { return o.fc }
func (toyArch) StackPops(o op) int                        { return o.pops }
func (toyArch) StackPushes(o op) int                      { return o.pushes }
func (toyArch) ReadVariables(o op) []symbolic.Variable    { return o.reads }
func (toyArch) WrittenVariables(o op) []symbolic.Variable { return o.writes }

type toyResolver struct{}

func (toyResolver) Successors(o op, buf []arch.Successor) ([]arch.Successor, error) {
	if o.fc == arch.Fallthrough {
		return append(buf, arch.Successor{Destination: o.off + 1, Type: cfg.FallThrough}), nil
	}
	return append(buf, o.succ...), nil
}

func nop(off int64) op  { return op{off: off} }
func halt(off int64) op { return op{off: off, fc: arch.Terminator} }

func branch(off int64, succ ...arch.Successor) op {
	return op{off: off, fc: arch.CanBranch, succ: succ}
}

func to(dst int64, t cfg.EdgeType) arch.Successor {
	return arch.Successor{Destination: dst, Type: t}
}

func toySet(t *testing.T, ops ...op) *arch.InstructionSet[op] {
	t.Helper()
	s, err := arch.NewInstructionSet[op](toyArch{}, ops)
	require.NoError(t, err)
	return s
}

func symbolicBuilder(t *testing.T, ops []op, opts ...Option) *SymbolicBuilder[op] {
	return NewSymbolicBuilder[op](toyArch{}, toySet(t, ops...), FromStatic[op](toyResolver{}), opts...)
}

func staticBuilder(t *testing.T, ops []op, opts ...Option) *StaticBuilder[op] {
	return NewStaticBuilder[op](toyArch{}, toySet(t, ops...), toyResolver{}, opts...)
}

// nodeOffsets lists each block's instruction offsets in address order.
func nodeOffsets(g *cfg.Graph[op]) [][]int64 {
	var out [][]int64
	for _, n := range g.Nodes() {
		out = append(out, n.Offsets())
	}
	return out
}
