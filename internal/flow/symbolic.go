package flow

import (
	"fmt"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/dfg"
	"symflow/internal/symbolic"
)

// SymbolicBuilder runs the fixpoint traversal with abstract states. Each
// reachable address keeps the join of every state that reached it; an address
// is re-processed only when its joined state grows.
type SymbolicBuilder[I any] struct {
	arch     arch.Architecture[I]
	insts    *arch.InstructionSet[I]
	resolver arch.SymbolicResolver[I]
	opts     options
}

// NewSymbolicBuilder returns a builder over insts.
func NewSymbolicBuilder[I any](a arch.Architecture[I], insts *arch.InstructionSet[I], r arch.SymbolicResolver[I], opts ...Option) *SymbolicBuilder[I] {
	return &SymbolicBuilder[I]{arch: a, insts: insts, resolver: r, opts: newOptions(opts)}
}

// Build traverses from entry and assembles the control-flow graph.
func (b *SymbolicBuilder[I]) Build(entry int64) (*cfg.Graph[I], *dfg.Graph[I], error) {
	t, err := b.Traverse(entry)
	if err != nil {
		return nil, nil, err
	}
	g, err := Assemble(t)
	if err != nil {
		return nil, nil, err
	}
	return g, t.DataFlow, nil
}

// Traverse walks every instruction reachable from entry and the known headers.
func (b *SymbolicBuilder[I]) Traverse(entry int64) (*Traversal[I], error) {
	if _, ok := b.insts.Get(entry); !ok {
		return nil, fmt.Errorf("entrypoint %#x: %w", entry, ErrInvalidAddress)
	}
	log := b.opts.log.With().Str("builder", "symbolic").Int64("entry", entry).Logger()
	t := newTraversal(b.arch, b.insts, entry, b.opts.headers)
	t.DataFlow = dfg.New[I]()
	t.states = make(map[int64]symbolic.State)

	// Roots are pushed so that the entry is processed first.
	agenda := make([]symbolic.State, 0, len(b.opts.headers)+1)
	for i := len(b.opts.headers) - 1; i >= 0; i-- {
		h := b.opts.headers[i]
		s := b.resolver.InitialState(h.Offset).WithPC(h.Offset)
		if h.ExternalSource != "" {
			ext := t.DataFlow.AddExternal(h.ExternalSource)
			s = s.Push(symbolic.NewValue(symbolic.StackSlot(ext.ID(), 0)))
		}
		agenda = append(agenda, s)
	}
	agenda = append(agenda, b.resolver.InitialState(entry).WithPC(entry))

	maxSteps := b.opts.effectiveMax()
	var buf []arch.Transition
	for len(agenda) > 0 {
		if t.Steps >= maxSteps {
			return nil, fmt.Errorf("after %d steps: %w", t.Steps, ErrStepLimit)
		}
		t.Steps++
		s := agenda[len(agenda)-1]
		agenda = agenda[:len(agenda)-1]
		pc := s.PC()

		if prev, ok := t.states[pc]; ok {
			joined, changed, err := prev.Join(s)
			if err != nil {
				return nil, err
			}
			if !changed {
				continue
			}
			s = joined
		}
		t.states[pc] = s

		idx, ok := b.insts.Index(pc)
		if !ok {
			return nil, fmt.Errorf("%#x: %w", pc, ErrInvalidAddress)
		}
		inst := b.insts.At(idx)
		fc := b.arch.FlowControl(inst)
		if !fc.Valid() {
			return nil, fmt.Errorf("%#x: %s: %w", pc, fc, ErrUnsupportedControlFlow)
		}
		t.markVisited(idx, pc)

		node, post, err := applyEffects(b.arch, t.DataFlow, inst, s)
		if err != nil {
			return nil, err
		}
		if fc == arch.Terminator {
			continue
		}

		buf, err = b.resolver.Transitions(arch.Step[I]{
			Instruction: inst,
			Pre:         s,
			Post:        post,
			Node:        node,
			Graph:       t.DataFlow,
		}, buf[:0])
		if err != nil {
			return nil, fmt.Errorf("resolve %#x: %w", pc, err)
		}
		next := b.insts.Next(inst)
		for _, tr := range buf {
			succ := arch.Successor{Destination: tr.Next.PC(), Type: tr.Type}
			if err := checkTransfer(pc, next, fc, succ); err != nil {
				return nil, err
			}
			t.record(pc, succ)
			agenda = append(agenda, tr.Next)
		}
		if len(buf) == 0 && fc == arch.CanBranch {
			log.Debug().Int64("pc", pc).Msg("branch with no resolved successors")
		}
	}

	log.Debug().
		Int("steps", t.Steps).
		Int("instructions", int(t.visited.Count())).
		Int("dfg_nodes", t.DataFlow.Len()).
		Msg("traversal done")
	return t, nil
}

// applyEffects builds the data-flow node for inst from its joined pre-state
// and returns the post-state. Popped operands become stack dependencies with
// the deepest operand first; pushed values and written variables are fresh
// values naming the node.
func applyEffects[I any](a arch.Architecture[I], g *dfg.Graph[I], inst I, pre symbolic.State) (*dfg.Node[I], symbolic.State, error) {
	off := a.Offset(inst)
	node := g.GetOrAdd(symbolic.NodeID(off), inst)

	pops := a.StackPops(inst)
	switch {
	case pops == arch.ClearsStack:
		pops = pre.StackLen()
	case pops < 0:
		return nil, pre, fmt.Errorf("%#x: pops %d: %w", off, pops, ErrInvalidStackEffect)
	}
	pushes := a.StackPushes(inst)
	if pushes < 0 {
		return nil, pre, fmt.Errorf("%#x: pushes %d: %w", off, pushes, ErrInvalidStackEffect)
	}

	s := pre
	stack := make([]symbolic.Value, pops)
	for i := pops - 1; i >= 0; i-- {
		var v symbolic.Value
		var err error
		s, v, err = s.Pop()
		if err != nil {
			return nil, pre, fmt.Errorf("%#x: popping %d of %d: %w", off, pops-i, pops, err)
		}
		stack[i] = v
	}

	reads := a.ReadVariables(inst)
	vars := make([]symbolic.VariableBinding, 0, len(reads))
	seen := make(map[symbolic.Variable]bool, len(reads))
	for _, r := range reads {
		if seen[r] {
			continue
		}
		seen[r] = true
		vars = append(vars, symbolic.VariableBinding{Name: r, Value: pre.Variable(r)})
	}
	node.SetDependencies(stack, vars)

	for j := 0; j < pushes; j++ {
		s = s.Push(symbolic.NewValue(symbolic.StackSlot(node.ID(), j)))
	}
	for _, w := range a.WrittenVariables(inst) {
		s = s.SetVariable(w, symbolic.NewValue(symbolic.VariableOf(node.ID(), w)))
	}
	return node, s, nil
}

// checkTransfer validates one successor of the instruction at off. A
// fallthrough must reach the next instruction, and instructions that cannot
// branch may only fall through.
func checkTransfer(off, next int64, fc arch.FlowControl, s arch.Successor) error {
	if s.Type == cfg.FallThrough {
		if s.Destination != next {
			return fmt.Errorf("%#x: fallthrough to %#x, next is %#x: %w", off, s.Destination, next, ErrUnsupportedControlFlow)
		}
		return nil
	}
	if fc == arch.Fallthrough {
		return fmt.Errorf("%#x: %s edge from non-branching instruction: %w", off, s.Type, ErrUnsupportedControlFlow)
	}
	return nil
}
