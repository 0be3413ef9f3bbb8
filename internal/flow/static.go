package flow

import (
	"fmt"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/symbolic"
)

// StaticBuilder traverses with a StaticResolver only: no abstract state, no
// data-flow graph, each instruction visited once.
type StaticBuilder[I any] struct {
	arch     arch.Architecture[I]
	insts    *arch.InstructionSet[I]
	resolver arch.StaticResolver[I]
	opts     options
}

// NewStaticBuilder returns a builder over insts.
func NewStaticBuilder[I any](a arch.Architecture[I], insts *arch.InstructionSet[I], r arch.StaticResolver[I], opts ...Option) *StaticBuilder[I] {
	return &StaticBuilder[I]{arch: a, insts: insts, resolver: r, opts: newOptions(opts)}
}

// Build traverses from entry and assembles the control-flow graph.
func (b *StaticBuilder[I]) Build(entry int64) (*cfg.Graph[I], error) {
	t, err := b.Traverse(entry)
	if err != nil {
		return nil, err
	}
	return Assemble(t)
}

// Traverse visits every instruction reachable from entry and the known headers.
func (b *StaticBuilder[I]) Traverse(entry int64) (*Traversal[I], error) {
	if _, ok := b.insts.Get(entry); !ok {
		return nil, fmt.Errorf("entrypoint %#x: %w", entry, ErrInvalidAddress)
	}
	t := newTraversal(b.arch, b.insts, entry, b.opts.headers)

	agenda := make([]int64, 0, len(b.opts.headers)+1)
	for i := len(b.opts.headers) - 1; i >= 0; i-- {
		agenda = append(agenda, b.opts.headers[i].Offset)
	}
	agenda = append(agenda, entry)

	maxSteps := b.opts.effectiveMax()
	var buf []arch.Successor
	for len(agenda) > 0 {
		if t.Steps >= maxSteps {
			return nil, fmt.Errorf("after %d steps: %w", t.Steps, ErrStepLimit)
		}
		t.Steps++
		pc := agenda[len(agenda)-1]
		agenda = agenda[:len(agenda)-1]

		idx, ok := b.insts.Index(pc)
		if !ok {
			return nil, fmt.Errorf("%#x: %w", pc, ErrInvalidAddress)
		}
		if t.visited.Test(uint(idx)) {
			continue
		}
		inst := b.insts.At(idx)
		fc := b.arch.FlowControl(inst)
		if !fc.Valid() {
			return nil, fmt.Errorf("%#x: %s: %w", pc, fc, ErrUnsupportedControlFlow)
		}
		t.markVisited(idx, pc)
		if fc == arch.Terminator {
			continue
		}

		var err error
		buf, err = b.resolver.Successors(inst, buf[:0])
		if err != nil {
			return nil, fmt.Errorf("resolve %#x: %w", pc, err)
		}
		next := b.insts.Next(inst)
		for _, s := range buf {
			if err := checkTransfer(pc, next, fc, s); err != nil {
				return nil, err
			}
			t.record(pc, s)
			agenda = append(agenda, s.Destination)
		}
	}

	b.opts.log.Debug().
		Str("builder", "static").
		Int64("entry", entry).
		Int("steps", t.Steps).
		Uint("instructions", t.visited.Count()).
		Msg("traversal done")
	return t, nil
}

// FromStatic lifts a StaticResolver into a SymbolicResolver, so that an
// instruction set without symbolic jump resolution still gets a data-flow
// graph from the symbolic builder.
func FromStatic[I any](r arch.StaticResolver[I]) arch.SymbolicResolver[I] {
	return &staticResolver[I]{r: r}
}

type staticResolver[I any] struct {
	r    arch.StaticResolver[I]
	succ []arch.Successor
}

func (s *staticResolver[I]) InitialState(entry int64) symbolic.State {
	return symbolic.NewState(entry)
}

func (s *staticResolver[I]) Transitions(step arch.Step[I], buf []arch.Transition) ([]arch.Transition, error) {
	var err error
	s.succ, err = s.r.Successors(step.Instruction, s.succ[:0])
	if err != nil {
		return buf, err
	}
	for _, succ := range s.succ {
		buf = append(buf, arch.Transition{Next: step.Post.WithPC(succ.Destination), Type: succ.Type})
	}
	return buf, nil
}
