package evm

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"symflow/internal/arch"
	"symflow/internal/cfg"
	"symflow/internal/symbolic"
)

// Arch describes EVM opcodes to the flow builders. All data flows through the
// operand stack; there are no tracked variables.
type Arch struct{}

var _ arch.Architecture[Instruction] = Arch{}

func (Arch) Offset(in Instruction) int64 { return in.Offset }

func (Arch) Size(in Instruction) int { return in.Size() }

func (Arch) FlowControl(in Instruction) arch.FlowControl {
	switch {
	case in.Op.Halts():
		return arch.Terminator
	case in.Op == JUMP || in.Op == JUMPI:
		return arch.CanBranch
	}
	return arch.Fallthrough
}

func (Arch) StackPops(in Instruction) int { return in.Op.StackPops() }

func (Arch) StackPushes(in Instruction) int { return in.Op.StackPushes() }

func (Arch) ReadVariables(Instruction) []symbolic.Variable { return nil }

func (Arch) WrittenVariables(Instruction) []symbolic.Variable { return nil }

const defaultTraceBudget = 32

// Resolver computes jump successors from the data-flow graph. Every constant
// the destination operand may hold becomes an edge if it is a JUMPDEST.
type Resolver struct {
	jumpdests *bitset.BitSet
	end       int64
	budget    int
	log       zerolog.Logger
}

var _ arch.SymbolicResolver[Instruction] = (*Resolver)(nil)

// NewResolver returns a resolver for the decoded program insts. budget bounds
// the producer chain followed per operand; zero selects the default.
func NewResolver(insts []Instruction, budget int, log zerolog.Logger) *Resolver {
	if budget <= 0 {
		budget = defaultTraceBudget
	}
	r := &Resolver{jumpdests: JumpDests(insts), budget: budget, log: log}
	if len(insts) > 0 {
		last := insts[len(insts)-1]
		r.end = last.Offset + int64(last.Size())
	}
	return r
}

func (r *Resolver) InitialState(entry int64) symbolic.State {
	return symbolic.NewState(entry)
}

// IsJumpDest reports whether off holds a JUMPDEST opcode.
func (r *Resolver) IsJumpDest(off int64) bool {
	return off >= 0 && off < r.end && r.jumpdests.Test(uint(off))
}

func (r *Resolver) Transitions(step arch.Step[Instruction], buf []arch.Transition) ([]arch.Transition, error) {
	in := step.Instruction
	next := in.Offset + int64(in.Size())

	switch in.Op {
	case JUMP, JUMPI:
		deps := step.Node.StackDependencies()
		dest := deps[len(deps)-1]
		typ := cfg.Unconditional
		if in.Op == JUMPI {
			typ = cfg.Conditional
		}
		for _, src := range dest.Sources() {
			target, ok := traceSource(step.Graph, src, r.budget)
			if !ok {
				r.log.Debug().Int64("pc", in.Offset).Stringer("operand", src).Msg("unresolved jump target")
				continue
			}
			t, overflow := target.Uint64WithOverflow()
			if overflow || !r.IsJumpDest(int64(t)) {
				r.log.Debug().Int64("pc", in.Offset).Str("target", target.Hex()).Msg("jump to non-JUMPDEST")
				continue
			}
			buf = appendUnique(buf, arch.Transition{Next: step.Post.WithPC(int64(t)), Type: typ})
		}
		if in.Op == JUMP {
			return buf, nil
		}
	}
	if next < r.end {
		buf = append(buf, arch.Transition{Next: step.Post.WithPC(next), Type: cfg.FallThrough})
	}
	return buf, nil
}

func appendUnique(buf []arch.Transition, t arch.Transition) []arch.Transition {
	for _, o := range buf {
		if o.Type == t.Type && o.Next.PC() == t.Next.PC() {
			return buf
		}
	}
	return append(buf, t)
}

// StaticResolver resolves jumps whose destination is pushed by the
// immediately preceding instruction. Other jumps have no successors.
type StaticResolver struct {
	targets map[int64]int64
	end     int64
}

var _ arch.StaticResolver[Instruction] = (*StaticResolver)(nil)

// NewStaticResolver scans insts for PUSH/JUMP pairs that land on a JUMPDEST.
func NewStaticResolver(insts []Instruction) *StaticResolver {
	r := &StaticResolver{targets: make(map[int64]int64)}
	dests := JumpDests(insts)
	for i := 1; i < len(insts); i++ {
		in, prev := insts[i], insts[i-1]
		if in.Op != JUMP && in.Op != JUMPI {
			continue
		}
		v, ok := prev.Value()
		if !ok {
			continue
		}
		t, overflow := v.Uint64WithOverflow()
		if overflow || !dests.Test(uint(t)) {
			continue
		}
		r.targets[in.Offset] = int64(t)
	}
	if len(insts) > 0 {
		last := insts[len(insts)-1]
		r.end = last.Offset + int64(last.Size())
	}
	return r
}

func (r *StaticResolver) Successors(in Instruction, buf []arch.Successor) ([]arch.Successor, error) {
	next := in.Offset + int64(in.Size())
	switch in.Op {
	case JUMP, JUMPI:
		typ := cfg.Unconditional
		if in.Op == JUMPI {
			typ = cfg.Conditional
		}
		if t, ok := r.targets[in.Offset]; ok {
			buf = append(buf, arch.Successor{Destination: t, Type: typ})
		}
		if in.Op == JUMP {
			return buf, nil
		}
	}
	if next < r.end {
		buf = append(buf, arch.Successor{Destination: next, Type: cfg.FallThrough})
	}
	return buf, nil
}
