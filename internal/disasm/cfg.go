package disasm

import (
	"errors"
	"fmt"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/flow"
)

var ErrEmptyFunction = errors.New("disasm: function has no instructions")

// Mode selects the traversal used for a function.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeSymbolic Mode = "symbolic"
)

// Function is the analysed control flow (and, in symbolic mode, register data
// flow) of one function.
type Function struct {
	Name     string
	Insts    []Inst
	Graph    *cfg.Graph[Inst]
	DataFlow *dfg.Graph[Inst] // nil in static mode
}

// Analyze builds the control-flow graph of a function whose entry is its
// first instruction. Successors are confined to the function's range.
func Analyze(name string, insts []Inst, mode Mode, opts ...flow.Option) (*Function, error) {
	if len(insts) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyFunction)
	}
	set, err := arch.NewInstructionSet[Inst](Arch{}, insts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	res := FunctionResolver(set.Instructions())
	entry := int64(insts[0].Addr)
	f := &Function{Name: name, Insts: set.Instructions()}

	switch mode {
	case ModeStatic, "":
		f.Graph, err = flow.NewStaticBuilder[Inst](Arch{}, set, res, opts...).Build(entry)
	case ModeSymbolic:
		f.Graph, f.DataFlow, err = flow.NewSymbolicBuilder[Inst](Arch{}, set, flow.FromStatic[Inst](res), opts...).Build(entry)
	default:
		return nil, fmt.Errorf("disasm: unknown mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with RET or a branch out of the function
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken/true, "F" = fallthrough/false
}

// FuncCFG is an index-based view of a function's control-flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// BuildCFG constructs the control flow graph of the code reachable from the
// first instruction, using the static builder.
func BuildCFG(name string, insts []Inst) (FuncCFG, error) {
	if len(insts) == 0 {
		return FuncCFG{Name: name}, nil
	}
	f, err := Analyze(name, insts, ModeStatic)
	if err != nil {
		return FuncCFG{Name: name, Insts: insts}, err
	}
	return f.FuncCFG(), nil
}

// FuncCFG converts the graph into blocks numbered in address order, with
// instruction ranges indexing f.Insts.
func (f *Function) FuncCFG() FuncCFG {
	addrToIdx := make(map[uint64]int, len(f.Insts))
	for i, inst := range f.Insts {
		addrToIdx[inst.Addr] = i
	}
	nodes := f.Graph.Nodes()
	blockOf := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		blockOf[n.ID()] = i
	}
	entry, _ := f.Graph.Entrypoint()

	out := FuncCFG{Name: f.Name, Insts: f.Insts, Blocks: make([]BasicBlock, len(nodes))}
	for i, n := range nodes {
		start := addrToIdx[uint64(n.ID())]
		blk := BasicBlock{
			ID:      i,
			Start:   start,
			End:     start + n.Len(),
			IsEntry: entry != nil && entry.ID() == n.ID(),
		}
		last := f.Insts[blk.End-1]
		bi := DecodeBranch(last.Raw, last.Addr)
		conditional := bi != nil && bi.Cond
		for _, e := range n.Successors() {
			s := Succ{BlockID: blockOf[e.To]}
			switch {
			case e.Type == cfg.Conditional:
				s.Cond = "T"
			case e.Type == cfg.FallThrough && conditional:
				s.Cond = "F"
			}
			blk.Succs = append(blk.Succs, s)
		}
		blk.IsTerm = len(blk.Succs) == 0
		out.Blocks[i] = blk
	}
	return out
}
