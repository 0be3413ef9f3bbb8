// Package arch defines the capabilities an instruction set plugs into the
// traversal engine: an Architecture describing each instruction's effects, and
// a static or symbolic resolver deciding where control goes next.
package arch

import (
	"fmt"

	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

// FlowControl says whether an instruction may transfer control.
type FlowControl uint8

const (
	// Fallthrough instructions always continue at the next instruction.
	Fallthrough FlowControl = iota
	// CanBranch instructions may go somewhere other than the next instruction.
	CanBranch
	// Terminator instructions end the path (return, halt, throw).
	Terminator
)

func (f FlowControl) String() string {
	switch f {
	case Fallthrough:
		return "fallthrough"
	case CanBranch:
		return "branch"
	case Terminator:
		return "terminator"
	}
	return fmt.Sprintf("FlowControl(%d)", f)
}

// Valid reports whether f is one of the defined values.
func (f FlowControl) Valid() bool { return f <= Terminator }

// ClearsStack is returned by StackPops for instructions that discard the
// whole operand stack.
const ClearsStack = -1

// Architecture describes the effects of individual instructions.
type Architecture[I any] interface {
	Offset(inst I) int64
	Size(inst I) int
	FlowControl(inst I) FlowControl
	StackPops(inst I) int
	StackPushes(inst I) int
	ReadVariables(inst I) []symbolic.Variable
	WrittenVariables(inst I) []symbolic.Variable
}

// Successor is one statically known control transfer.
type Successor struct {
	Destination int64
	Type        cfg.EdgeType
}

// StaticResolver lists the successors of an instruction from the instruction
// alone. Implementations append to buf[:0] and return the result.
type StaticResolver[I any] interface {
	Successors(inst I, buf []Successor) ([]Successor, error)
}

// Transition is one outgoing symbolic state. Next.PC() is the destination.
type Transition struct {
	Next symbolic.State
	Type cfg.EdgeType
}

// Step is what a symbolic resolver sees for one instruction: the joined state
// before it, the state after its stack and variable effects, and its data-flow
// node for tracing operand producers.
type Step[I any] struct {
	Instruction I
	Pre         symbolic.State
	Post        symbolic.State
	Node        *dfg.Node[I]
	Graph       *dfg.Graph[I]
}

// SymbolicResolver computes outgoing states. Implementations append to
// buf[:0] and return the result.
type SymbolicResolver[I any] interface {
	InitialState(entry int64) symbolic.State
	Transitions(step Step[I], buf []Transition) ([]Transition, error)
}
