package evm

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/flow"
)

var ErrEmptyCode = errors.New("evm: empty code")

// Options controls analysis of one program.
type Options struct {
	Static      bool // resolve only PUSH/JUMP pairs, no data flow
	MaxSteps    int  // traversal step limit; 0 = flow default
	TraceBudget int  // producer chain limit per jump operand; 0 = 32
	Logger      zerolog.Logger
}

// Program is the analysed control flow of EVM bytecode, entered at offset 0.
type Program struct {
	Instructions []Instruction
	Graph        *cfg.Graph[Instruction]
	DataFlow     *dfg.Graph[Instruction] // nil for static analysis
}

// Analyze decodes code and builds its control-flow graph.
func Analyze(code []byte, opts Options) (*Program, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	insts := Decode(code)
	set, err := arch.NewInstructionSet[Instruction](Arch{}, insts)
	if err != nil {
		return nil, err
	}
	fopts := []flow.Option{flow.WithLogger(opts.Logger)}
	if opts.MaxSteps > 0 {
		fopts = append(fopts, flow.WithMaxSteps(opts.MaxSteps))
	}

	p := &Program{Instructions: insts}
	if opts.Static {
		p.Graph, err = flow.NewStaticBuilder[Instruction](Arch{}, set, NewStaticResolver(insts), fopts...).Build(0)
	} else {
		res := NewResolver(insts, opts.TraceBudget, opts.Logger)
		p.Graph, p.DataFlow, err = flow.NewSymbolicBuilder[Instruction](Arch{}, set, res, fopts...).Build(0)
	}
	if err != nil {
		return nil, fmt.Errorf("evm: %w", err)
	}
	return p, nil
}
